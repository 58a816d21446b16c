package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLocalDriver(t *testing.T) {
	tmpDir := t.TempDir()

	driver, err := NewLocalDriver(tmpDir)
	if err != nil {
		t.Fatalf("NewLocalDriver() error = %v", err)
	}

	if driver == nil {
		t.Fatal("NewLocalDriver() returned nil driver")
	}

	if driver.basePath != tmpDir {
		t.Errorf("basePath = %v, want %v", driver.basePath, tmpDir)
	}

	// Verify base directory was created
	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Base directory was not created")
	}
}

func TestLocalDriver_Create(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	ws, err := driver.Create("job-1234")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if ws.Root != filepath.Join(tmpDir, "job-1234") {
		t.Errorf("Root = %v, want %v", ws.Root, filepath.Join(tmpDir, "job-1234"))
	}

	for _, dir := range []string{ws.Root, ws.InputsDir, ws.OutputsDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("Workspace directory was not created at %s", dir)
		}
	}
}

func TestLocalDriver_Get(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	ws := driver.Get("job-1234")
	if ws.InputsDir != filepath.Join(tmpDir, "job-1234", "inputs") {
		t.Errorf("InputsDir = %v", ws.InputsDir)
	}
	if ws.OutputsDir != filepath.Join(tmpDir, "job-1234", "outputs") {
		t.Errorf("OutputsDir = %v", ws.OutputsDir)
	}

	// Get does not create directories
	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Error("Get() should not create the workspace")
	}
}

func TestLocalDriver_Delete(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	ws, err := driver.Create("job-1234")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	testFile := filepath.Join(ws.OutputsDir, "result.nc")
	if err := os.WriteFile(testFile, []byte("data"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := driver.Delete("job-1234"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Error("Workspace still exists after delete")
	}
}

func TestLocalDriver_Delete_NonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	// Delete non-existent workspace should not error
	if err := driver.Delete("nonexistent"); err != nil {
		t.Errorf("Delete() on non-existent workspace error = %v, want nil", err)
	}
}

func TestLocalDriver_List(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	for _, id := range []string{"job-a", "job-b"} {
		if _, err := driver.Create(id); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	// stray files are not workspaces
	if err := os.WriteFile(filepath.Join(tmpDir, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	infos, err := driver.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(infos))
	}
	for _, info := range infos {
		if info.ModTime.IsZero() {
			t.Errorf("List() entry %s has zero ModTime", info.JobID)
		}
	}
}
