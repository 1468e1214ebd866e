package receipt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomic_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "INSTALL_RECEIPT.json")
	r := sampleReceipt()

	if err := WriteAtomic(path, r); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := ReadFile("jq", path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.HomebrewVersion != r.HomebrewVersion {
		t.Errorf("HomebrewVersion = %q, want %q", got.HomebrewVersion, r.HomebrewVersion)
	}
}

func TestWriteAtomic_NoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "INSTALL_RECEIPT.json")

	if err := WriteAtomic(path, sampleReceipt()); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "INSTALL_RECEIPT.json" {
		t.Errorf("expected exactly one file named INSTALL_RECEIPT.json, got %v", entries)
	}
}

func TestWriteAtomic_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "INSTALL_RECEIPT.json")

	first := sampleReceipt()
	first.HomebrewVersion = "4.3.0"
	if err := WriteAtomic(path, first); err != nil {
		t.Fatalf("WriteAtomic (first): %v", err)
	}

	second := sampleReceipt()
	second.HomebrewVersion = "4.3.1"
	if err := WriteAtomic(path, second); err != nil {
		t.Fatalf("WriteAtomic (second): %v", err)
	}

	got, err := ReadFile("jq", path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.HomebrewVersion != "4.3.1" {
		t.Errorf("HomebrewVersion = %q, want 4.3.1", got.HomebrewVersion)
	}
}

func TestReadFile_MissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.json")

	_, err := ReadFile("jq", path)
	if err == nil {
		t.Fatal("expected error for missing receipt")
	}
}
