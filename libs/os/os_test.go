package os

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()

	// Should be possible to create a new directory.
	err := EnsureDir(filepath.Join(tmp, "dir"), 0755)
	if err != nil {
		t.Fatal(err)
	}
	if !FileExists(filepath.Join(tmp, "dir")) {
		t.Fatal("expected directory to exist")
	}

	// Should succeed on existing directory.
	err = EnsureDir(filepath.Join(tmp, "dir"), 0755)
	if err != nil {
		t.Fatal(err)
	}

	// Should fail on file.
	err = os.WriteFile(filepath.Join(tmp, "file"), []byte{}, 0644)
	if err != nil {
		t.Fatal(err)
	}
	err = EnsureDir(filepath.Join(tmp, "file"), 0755)
	if err == nil {
		t.Fatal("expected error for file path")
	}

	// Should allow symlink to dir.
	err = os.Symlink(filepath.Join(tmp, "dir"), filepath.Join(tmp, "linkdir"))
	if err != nil {
		t.Fatal(err)
	}
	err = EnsureDir(filepath.Join(tmp, "linkdir"), 0755)
	if err != nil {
		t.Fatal(err)
	}
}

func TestFileExists(t *testing.T) {
	tmp := t.TempDir()

	if FileExists(filepath.Join(tmp, "nope")) {
		t.Fatal("expected file to not exist")
	}

	if err := os.WriteFile(filepath.Join(tmp, "yep"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(filepath.Join(tmp, "yep")) {
		t.Fatal("expected file to exist")
	}
}
