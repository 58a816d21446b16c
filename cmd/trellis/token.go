package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellisproc/trellis/pkg/config"
	"github.com/trellisproc/trellis/pkg/security"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/types"
)

func init() {
	tokenCmd.PersistentFlags().String("data-dir", "", "Store directory, overrides store.data_dir")
	tokenCmd.PersistentFlags().String("config", "", "Configuration file")

	tokenMintCmd.Flags().String("user", "", "User the token belongs to")
	tokenMintCmd.Flags().Duration("expire", 0, "Token lifetime (default from security.token_expire_second)")

	tokenCmd.AddCommand(tokenMintCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	tokenCmd.AddCommand(tokenPurgeCmd)

	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint and revoke API access tokens",
	Long: `Administer bearer tokens for the mutating API routes.

Token commands open the store directly and must run on the service
host while the service is stopped (the store takes an exclusive lock).`,
}

// tokenStore opens the bolt store named by the flags
func tokenStore(cmd *cobra.Command) (*storage.BoltStore, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := config.LoadConfig(path); err != nil {
			return nil, &exitError{exitConfig, fmt.Errorf("load configuration %s: %w", path, err)}
		}
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = config.GetDataDir()
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, &exitError{exitStore, fmt.Errorf("open store: %w", err)}
	}
	return store, nil
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a new access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := tokenStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		userID, _ := cmd.Flags().GetString("user")
		expire, _ := cmd.Flags().GetDuration("expire")
		if expire <= 0 {
			expire = time.Duration(config.GetTokenExpireSecond()) * time.Second
		}

		raw, err := security.GenerateToken()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		token := &types.AccessToken{
			Token:     raw,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(expire),
		}
		if err := store.SaveToken(token); err != nil {
			return err
		}

		fmt.Println(raw)
		fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke TOKEN",
	Short: "Revoke an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := tokenStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteToken(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Token revoked")
		return nil
	},
}

var tokenPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all expired tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := tokenStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PurgeExpiredTokens()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Purged %d expired token(s)\n", n)
		return nil
	},
}
