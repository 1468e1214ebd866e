package receipt

import (
	"errors"
	"os"

	"github.com/tidwall/gjson"

	"github.com/tsukumogami/cellar/internal/cellarerr"
)

var errInvalidJSON = errors.New("not valid JSON")

// Unmarshal parses receipt JSON permissively with gjson: a field this
// package doesn't recognize is ignored rather than rejected, and a field
// it does recognize but the document omits falls back to its zero value
// (bottle_rebuild in particular defaults to 0, matching upstream's own
// "defaults to 0 if not otherwise known" rule).
func Unmarshal(data []byte) (*Receipt, error) {
	if !gjson.ValidBytes(data) {
		return nil, cellarerr.ReceiptMalformed("", "", errInvalidJSON)
	}

	root := gjson.ParseBytes(data)

	r := &Receipt{
		HomebrewVersion:    root.Get("homebrew_version").String(),
		InstalledOnRequest: root.Get("installed_on_request").Bool(),
		InstalledAsDep:     root.Get("installed_as_dependency").Bool(),
		PouredFromBottle:   root.Get("poured_from_bottle").Bool(),
		LoadedFromAPI:      root.Get("loaded_from_api").Bool(),
		Arch:               root.Get("arch").String(),
		Compiler:           root.Get("compiler").String(),
		Time:               root.Get("time").Int(),
		Source: Source{
			Tap:  root.Get("source.tap").String(),
			Path: root.Get("source.path").String(),
			Spec: root.Get("source.spec").String(),
			Versions: SourceVersions{
				Stable:        root.Get("source.versions.stable").String(),
				Head:          root.Get("source.versions.head").String(),
				VersionScheme: int(root.Get("source.versions.version_scheme").Int()),
			},
		},
		BuiltOn: BuiltOn{
			OS:            root.Get("built_on.os").String(),
			OSVersion:     root.Get("built_on.os_version").String(),
			CPUFamily:     root.Get("built_on.cpu_family").String(),
			Xcode:         root.Get("built_on.xcode").String(),
			CLT:           root.Get("built_on.clt").String(),
			PreferredPerl: root.Get("built_on.preferred_perl").String(),
		},
	}

	for _, dep := range root.Get("runtime_dependencies").Array() {
		r.RuntimeDependencies = append(r.RuntimeDependencies, RuntimeDependency{
			FullName:         dep.Get("full_name").String(),
			Version:          dep.Get("version").String(),
			Revision:         int(dep.Get("revision").Int()),
			BottleRebuild:    int(dep.Get("bottle_rebuild").Int()),
			PkgVersion:       dep.Get("pkg_version").String(),
			DeclaredDirectly: dep.Get("declared_directly").Bool(),
		})
	}

	return r, nil
}

// ReadFile reads and parses the receipt at path, wrapping a missing or
// malformed file in a cellarerr.CellarError naming the formula.
func ReadFile(formula, path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cellarerr.ReceiptMalformed(formula, path, err)
	}

	r, err := Unmarshal(data)
	if err != nil {
		return nil, cellarerr.ReceiptMalformed(formula, path, err)
	}
	return r, nil
}
