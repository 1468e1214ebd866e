package receipt

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleReceipt() *Receipt {
	return &Receipt{
		HomebrewVersion:    "4.3.1",
		InstalledOnRequest: true,
		PouredFromBottle:   true,
		LoadedFromAPI:      true,
		Time:               1700000000,
		Arch:               "arm64",
		Compiler:           "clang",
		RuntimeDependencies: []RuntimeDependency{
			{FullName: "oniguruma", Version: "6.9.9", Revision: 0, BottleRebuild: 1, PkgVersion: "oniguruma_6.9.9", DeclaredDirectly: true},
		},
		Source: Source{
			Tap:  "homebrew/core",
			Spec: "stable",
			Versions: SourceVersions{
				Stable:        "1.7.1",
				VersionScheme: 0,
			},
		},
		BuiltOn: BuiltOn{
			OS:        "macos",
			OSVersion: "sequoia",
			CPUFamily: "arm",
			Xcode:     "16.0",
			CLT:       "16.0.0.0.1.1234567890",
		},
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	r := sampleReceipt()

	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.HomebrewVersion != r.HomebrewVersion {
		t.Errorf("HomebrewVersion = %q, want %q", got.HomebrewVersion, r.HomebrewVersion)
	}
	if got.Source.Versions.Stable != "1.7.1" {
		t.Errorf("Source.Versions.Stable = %q, want 1.7.1", got.Source.Versions.Stable)
	}
	if len(got.RuntimeDependencies) != 1 || got.RuntimeDependencies[0].FullName != "oniguruma" {
		t.Errorf("RuntimeDependencies = %+v", got.RuntimeDependencies)
	}
	if got.RuntimeDependencies[0].BottleRebuild != 1 {
		t.Errorf("BottleRebuild = %d, want 1", got.RuntimeDependencies[0].BottleRebuild)
	}
}

func TestMarshal_BottleRebuildDefaultsToZero(t *testing.T) {
	r := sampleReceipt()
	r.RuntimeDependencies = []RuntimeDependency{
		{FullName: "zlib", Version: "1.3"},
	}

	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.RuntimeDependencies[0].BottleRebuild != 0 {
		t.Errorf("BottleRebuild = %d, want 0", got.RuntimeDependencies[0].BottleRebuild)
	}
}

func TestMarshal_NonMacOSBuiltOnFieldsAreNull(t *testing.T) {
	r := sampleReceipt()
	r.BuiltOn.OS = "linux"
	r.BuiltOn.Xcode = ""
	r.BuiltOn.CLT = ""
	r.BuiltOn.PreferredPerl = ""

	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}

	builtOn, ok := raw["built_on"].(map[string]interface{})
	if !ok {
		t.Fatal("expected built_on object")
	}
	if v, present := builtOn["xcode"]; !present || v != nil {
		t.Errorf("built_on.xcode = %v, want explicit null", v)
	}
	if v, present := builtOn["clt"]; !present || v != nil {
		t.Errorf("built_on.clt = %v, want explicit null", v)
	}
}

func TestMarshal_MacOSBuiltOnFieldsPresent(t *testing.T) {
	r := sampleReceipt()

	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if !strings.Contains(string(data), `"xcode":"16.0"`) {
		t.Errorf("expected xcode field present, got:\n%s", data)
	}
}

func TestMarshal_ChangedFilesIsEmptyArrayNotNull(t *testing.T) {
	r := sampleReceipt()

	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}

	changed, present := raw["changed_files"]
	if !present {
		t.Fatal("expected changed_files field to be present")
	}
	list, ok := changed.([]interface{})
	if !ok {
		t.Fatalf("changed_files = %v (%T), want an array", changed, changed)
	}
	if len(list) != 0 {
		t.Errorf("changed_files = %v, want empty array", list)
	}
}

func TestUnmarshal_InvalidJSON(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestUnmarshal_UnknownFieldsIgnored(t *testing.T) {
	data := []byte(`{"homebrew_version":"4.3.1","some_future_field":"ignored by us"}`)

	r, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.HomebrewVersion != "4.3.1" {
		t.Errorf("HomebrewVersion = %q, want 4.3.1", r.HomebrewVersion)
	}
}

func TestUnmarshal_MissingRuntimeDependencies(t *testing.T) {
	data := []byte(`{"homebrew_version":"4.3.1"}`)

	r, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(r.RuntimeDependencies) != 0 {
		t.Errorf("expected no runtime dependencies, got %+v", r.RuntimeDependencies)
	}
}
