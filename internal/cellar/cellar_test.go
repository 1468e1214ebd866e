package cellar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tsukumogami/cellar/internal/config"
)

func testCellar(t *testing.T) (*Cellar, *config.Config) {
	t.Helper()
	prefix := t.TempDir()
	cfg, err := config.NewConfig(prefix)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if err := os.MkdirAll(cfg.Cellar, 0755); err != nil {
		t.Fatalf("MkdirAll Cellar: %v", err)
	}
	if err := os.MkdirAll(cfg.OptDir, 0755); err != nil {
		t.Fatalf("MkdirAll OptDir: %v", err)
	}
	return New(cfg), cfg
}

func makeKeg(t *testing.T, cfg *config.Config, name, version string, mtime time.Time) string {
	t.Helper()
	dir := cfg.KegDir(name, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll %s: %v", dir, err)
	}
	if err := os.Chtimes(dir, mtime, mtime); err != nil {
		t.Fatalf("Chtimes %s: %v", dir, err)
	}
	return dir
}

func writeReceipt(t *testing.T, dir string) {
	t.Helper()
	data := `{"homebrew_version":"4.3.1","poured_from_bottle":true,"arch":"arm64","time":1700000000}`
	if err := os.WriteFile(filepath.Join(dir, "INSTALL_RECEIPT.json"), []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile receipt: %v", err)
	}
}

func TestVersionsOf_SortedNewestFirst(t *testing.T) {
	c, cfg := testCellar(t)

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	makeKeg(t, cfg, "jq", "1.6", older)
	makeKeg(t, cfg, "jq", "1.7.1", newer)

	versions, err := c.VersionsOf("jq")
	if err != nil {
		t.Fatalf("VersionsOf: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Version != "1.7.1" {
		t.Errorf("versions[0] = %q, want 1.7.1 (newest first)", versions[0].Version)
	}
	if versions[1].Version != "1.6" {
		t.Errorf("versions[1] = %q, want 1.6", versions[1].Version)
	}
}

func TestVersionsOf_NotInstalled(t *testing.T) {
	c, _ := testCellar(t)

	versions, err := c.VersionsOf("nonexistent")
	if err != nil {
		t.Fatalf("VersionsOf: %v", err)
	}
	if versions != nil {
		t.Errorf("expected nil versions, got %v", versions)
	}
}

func TestListInstalled_AcrossFormulae(t *testing.T) {
	c, cfg := testCellar(t)

	now := time.Now()
	makeKeg(t, cfg, "jq", "1.7.1", now)
	makeKeg(t, cfg, "oniguruma", "6.9.9", now)

	kegs, err := c.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(kegs) != 2 {
		t.Fatalf("expected 2 kegs, got %d: %+v", len(kegs), kegs)
	}
}

func TestLinkedVersionOf_NoLink(t *testing.T) {
	c, _ := testCellar(t)

	_, ok, err := c.LinkedVersionOf("jq")
	if err != nil {
		t.Fatalf("LinkedVersionOf: %v", err)
	}
	if ok {
		t.Error("expected ok=false when no opt link exists")
	}
}

func TestLinkedVersionOf_FollowsRelativeSymlink(t *testing.T) {
	c, cfg := testCellar(t)

	makeKeg(t, cfg, "jq", "1.7.1", time.Now())
	rel, err := filepath.Rel(filepath.Dir(cfg.OptLink("jq")), cfg.KegDir("jq", "1.7.1"))
	if err != nil {
		t.Fatalf("Rel: %v", err)
	}
	if err := os.Symlink(rel, cfg.OptLink("jq")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	version, ok, err := c.LinkedVersionOf("jq")
	if err != nil {
		t.Fatalf("LinkedVersionOf: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if version != "1.7.1" {
		t.Errorf("version = %q, want 1.7.1", version)
	}
}

func TestSplitCellarPath(t *testing.T) {
	tests := []struct {
		path        string
		wantName    string
		wantVersion string
		wantOK      bool
	}{
		{"/usr/local/Cellar/jq/1.7.1", "jq", "1.7.1", true},
		{"/usr/local/Cellar/jq/1.7.1/bin/jq", "jq", "1.7.1", true},
		{"../Cellar/jq/1.7.1", "jq", "1.7.1", true},
		{"/opt/homebrew/Cellar/jq/1.7.1/", "jq", "1.7.1", true},
		{"/usr/local/Cellar/jq", "", "", false},
		{"/usr/local/opt/jq", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		name, version, ok := SplitCellarPath(tt.path)
		if ok != tt.wantOK || name != tt.wantName || version != tt.wantVersion {
			t.Errorf("SplitCellarPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, name, version, ok, tt.wantName, tt.wantVersion, tt.wantOK)
		}
	}
}

func TestLinkedVersionOf_FollowsSymlink(t *testing.T) {
	c, cfg := testCellar(t)

	kegDir := makeKeg(t, cfg, "jq", "1.7.1", time.Now())
	if err := os.Symlink(kegDir, cfg.OptLink("jq")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	version, ok, err := c.LinkedVersionOf("jq")
	if err != nil {
		t.Fatalf("LinkedVersionOf: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if version != "1.7.1" {
		t.Errorf("version = %q, want 1.7.1", version)
	}
}

func TestCurrentVersion_PrefersLinkedOverNewest(t *testing.T) {
	c, cfg := testCellar(t)

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	olderDir := makeKeg(t, cfg, "jq", "1.6", older)
	makeKeg(t, cfg, "jq", "1.7.1", newer)

	// Link points at the older keg: an interrupted upgrade left a newer,
	// unlinked keg behind it. CurrentVersion must still report the linked
	// one, not the newest-by-mtime one.
	if err := os.Symlink(olderDir, cfg.OptLink("jq")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	version, err := c.CurrentVersion("jq")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version != "1.6" {
		t.Errorf("CurrentVersion = %q, want 1.6 (linked)", version)
	}
}

func TestCurrentVersion_FallsBackToNewestMtime(t *testing.T) {
	c, cfg := testCellar(t)

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	makeKeg(t, cfg, "jq", "1.6", older)
	makeKeg(t, cfg, "jq", "1.7.1", newer)

	version, err := c.CurrentVersion("jq")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version != "1.7.1" {
		t.Errorf("CurrentVersion = %q, want 1.7.1 (newest, no link)", version)
	}
}

func TestCurrentVersion_NotInstalled(t *testing.T) {
	c, _ := testCellar(t)

	if _, err := c.CurrentVersion("nonexistent"); err == nil {
		t.Fatal("expected error for uninstalled formula")
	}
}

func TestReadReceipt(t *testing.T) {
	c, cfg := testCellar(t)

	kegDir := makeKeg(t, cfg, "jq", "1.7.1", time.Now())
	writeReceipt(t, kegDir)

	r, err := c.ReadReceipt("jq", "1.7.1")
	if err != nil {
		t.Fatalf("ReadReceipt: %v", err)
	}
	if r.HomebrewVersion != "4.3.1" {
		t.Errorf("HomebrewVersion = %q, want 4.3.1", r.HomebrewVersion)
	}
}

func TestReadReceipt_MissingIsFatal(t *testing.T) {
	c, cfg := testCellar(t)
	makeKeg(t, cfg, "jq", "1.7.1", time.Now())

	if _, err := c.ReadReceipt("jq", "1.7.1"); err == nil {
		t.Fatal("expected error for missing receipt")
	}
}

func TestIsInstalled(t *testing.T) {
	c, cfg := testCellar(t)
	makeKeg(t, cfg, "jq", "1.7.1", time.Now())

	if !c.IsInstalled("jq") {
		t.Error("expected jq to be installed")
	}
	if c.IsInstalled("nonexistent") {
		t.Error("expected nonexistent to not be installed")
	}
}
