package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/trellisproc/trellis/pkg/types"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/trellis", "Trellis data directory")
	dryRun     = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backupPath = flag.String("backup", "", "Path to backup the database before migration (default: <data-dir>/trellis.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Trellis Database Migration Tool - Process Key Escaping")
	log.Println("======================================================")

	dbPath := filepath.Join(*dataDir, "trellis.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	// Create backup unless in dry-run mode
	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := migrateProcessKeys(db, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
	} else {
		log.Println("\n✓ Migration completed successfully!")
	}
}

// migrateProcessKeys re-keys every entry of the 'processes' bucket through
// the fullwidth escaping of '$' and '.'. Releases before the escaping
// change stored process identifiers raw, which made descriptions with
// dotted identifiers unreachable once lookups started escaping the key.
func migrateProcessKeys(db *bolt.DB, dryRun bool) error {
	var rawCount int

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("processes"))
		if b == nil {
			log.Println("✓ No 'processes' bucket found - nothing to migrate")
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if string(k) != types.EscapeKey(string(k)) {
				rawCount++
				log.Printf("  Needs re-keying: %s", k)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if rawCount == 0 {
		log.Println("✓ All process keys already escaped")
		return nil
	}
	log.Printf("Found %d process record(s) with unescaped keys", rawCount)

	return db.Update(func(tx *bolt.Tx) error {
		if dryRun {
			log.Println("\n[DRY RUN] Would perform the following operations:")
			log.Printf("1. Re-key %d record(s) in the 'processes' bucket", rawCount)
			log.Println("2. Delete the orphaned raw-keyed entries")
			return nil
		}

		b := tx.Bucket([]byte("processes"))
		if b == nil {
			return nil
		}

		type rekey struct {
			old, new string
			value    []byte
		}
		var pending []rekey
		err := b.ForEach(func(k, v []byte) error {
			escaped := types.EscapeKey(string(k))
			if string(k) == escaped {
				return nil
			}
			// Validate JSON before carrying the record over
			var data map[string]interface{}
			if err := json.Unmarshal(v, &data); err != nil {
				log.Printf("⚠ Warning: Skipping invalid JSON for key %s: %v", k, err)
				return nil
			}
			pending = append(pending, rekey{old: string(k), new: escaped, value: v})
			return nil
		})
		if err != nil {
			return err
		}

		migrated := 0
		for _, r := range pending {
			if existing := b.Get([]byte(r.new)); existing != nil {
				log.Printf("⚠ Warning: Escaped key %s already exists, keeping it and dropping the raw entry", r.new)
			} else if err := b.Put([]byte(r.new), r.value); err != nil {
				return fmt.Errorf("failed to re-key process %s: %w", r.old, err)
			}
			if err := b.Delete([]byte(r.old)); err != nil {
				return fmt.Errorf("failed to delete raw key %s: %w", r.old, err)
			}
			migrated++
		}

		log.Printf("✓ Re-keyed %d/%d process record(s)", migrated, rawCount)
		return nil
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
