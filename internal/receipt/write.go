package receipt

import (
	"os"
	"path/filepath"

	"github.com/tidwall/sjson"

	"github.com/tsukumogami/cellar/internal/cellarerr"
)

// Marshal renders r as the receipt JSON upstream expects. Fields are set
// one at a time into an empty document with sjson. Only the fields
// Receipt carries are written: a field Unmarshal skipped because this
// package doesn't know it is not part of r, so it is not carried over.
func Marshal(r *Receipt) ([]byte, error) {
	doc := "{}"
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		doc, err = sjson.Set(doc, path, value)
	}

	set("homebrew_version", r.HomebrewVersion)
	set("installed_on_request", r.InstalledOnRequest)
	set("installed_as_dependency", r.InstalledAsDep)
	set("poured_from_bottle", r.PouredFromBottle)
	set("loaded_from_api", r.LoadedFromAPI)
	set("time", r.Time)
	set("arch", r.Arch)
	set("compiler", r.Compiler)

	set("source.tap", r.Source.Tap)
	set("source.path", r.Source.Path)
	set("source.spec", r.Source.Spec)
	set("source.versions.stable", r.Source.Versions.Stable)
	set("source.versions.head", nullableString(r.Source.Versions.Head))
	set("source.versions.version_scheme", r.Source.Versions.VersionScheme)

	set("built_on.os", r.BuiltOn.OS)
	set("built_on.os_version", r.BuiltOn.OSVersion)
	set("built_on.cpu_family", r.BuiltOn.CPUFamily)
	if r.BuiltOn.OS == "macos" || r.BuiltOn.OS == "darwin" {
		set("built_on.xcode", nullableString(r.BuiltOn.Xcode))
		set("built_on.clt", nullableString(r.BuiltOn.CLT))
		set("built_on.preferred_perl", nullableString(r.BuiltOn.PreferredPerl))
	} else {
		set("built_on.xcode", nil)
		set("built_on.clt", nil)
		set("built_on.preferred_perl", nil)
	}

	deps := make([]map[string]interface{}, len(r.RuntimeDependencies))
	for i, d := range r.RuntimeDependencies {
		deps[i] = map[string]interface{}{
			"full_name":         d.FullName,
			"version":           d.Version,
			"revision":          d.Revision,
			"bottle_rebuild":    d.BottleRebuild,
			"pkg_version":       d.PkgVersion,
			"declared_directly": d.DeclaredDirectly,
		}
	}
	set("runtime_dependencies", deps)
	set("changed_files", []string{})

	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// WriteAtomic renders r and writes it to path via a sibling temp file,
// fsync, and rename, so a reader never observes a partially-written
// receipt and a crash mid-write leaves the previous receipt (or none)
// intact.
func WriteAtomic(path string, r *Receipt) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".receipt-*.tmp")
	if err != nil {
		return cellarerr.PermissionDenied(dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}
