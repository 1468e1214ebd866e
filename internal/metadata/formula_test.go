package metadata

import "testing"

func TestDesiredVersion_NoRebuild(t *testing.T) {
	f := &Formula{
		Versions: Versions{Stable: "1.7.1"},
	}

	if got := f.DesiredVersion(); got != "1.7.1" {
		t.Errorf("DesiredVersion() = %q, want 1.7.1", got)
	}
}

func TestDesiredVersion_WithRebuild(t *testing.T) {
	f := &Formula{
		Versions: Versions{Stable: "1.7.1"},
		Bottle: Bottle{
			Stable: BottleStable{Rebuild: 2},
		},
	}

	if got := f.DesiredVersion(); got != "1.7.1_2" {
		t.Errorf("DesiredVersion() = %q, want 1.7.1_2", got)
	}
}

func TestDesiredVersion_ZeroRebuildOmitted(t *testing.T) {
	f := &Formula{
		Versions: Versions{Stable: "3.0.0"},
		Bottle: Bottle{
			Stable: BottleStable{Rebuild: 0},
		},
	}

	if got := f.DesiredVersion(); got != "3.0.0" {
		t.Errorf("DesiredVersion() = %q, want 3.0.0", got)
	}
}

func TestBottleStable_FilesLookup(t *testing.T) {
	f := &Formula{
		Bottle: Bottle{
			Stable: BottleStable{
				RootURL: "https://ghcr.io/v2/homebrew/core",
				Files: map[string]BottleFile{
					"arm64_sequoia": {
						Cellar: ":any",
						URL:    "https://ghcr.io/v2/homebrew/core/jq/blobs/sha256:abc",
						Sha256: "abc123",
					},
				},
			},
		},
	}

	file, ok := f.Bottle.Stable.Files["arm64_sequoia"]
	if !ok {
		t.Fatal("expected arm64_sequoia bottle file to be present")
	}
	if file.Sha256 != "abc123" {
		t.Errorf("Sha256 = %q, want abc123", file.Sha256)
	}
}
