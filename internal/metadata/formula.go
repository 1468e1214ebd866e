// Package metadata defines the Formula record shape and the Client
// contract for fetching it, plus an HTTPClient implementation backed by
// the public formulae.brew.sh API.
package metadata

import (
	"context"
	"strconv"
)

// Formula is a parsed formula record, grounded on the upstream metadata
// API's JSON shape. License, the Dependencies/BuildDependencies split,
// and Versions.Bottle are carried because the resolver and receipt
// writer both consume them.
type Formula struct {
	Name              string   `json:"name"`
	FullName          string   `json:"full_name"`
	Description       string   `json:"desc"`
	License           string   `json:"license"`
	Homepage          string   `json:"homepage"`
	Versions          Versions `json:"versions"`
	Revision          int      `json:"revision"`
	Dependencies      []string `json:"dependencies"`
	BuildDependencies []string `json:"build_dependencies"`
	KegOnly           bool     `json:"keg_only"`
	Bottle            Bottle   `json:"bottle"`
}

// Versions carries the formula's stable version string and whether any
// bottle exists for it at all (across all platforms). The resolver uses
// Bottle to short-circuit NoBottleForPlatform before even consulting the
// per-platform file map.
type Versions struct {
	Stable string `json:"stable"`
	Bottle bool   `json:"bottle"`
}

// Bottle carries the per-platform bottle map.
type Bottle struct {
	Stable BottleStable `json:"stable"`
}

// BottleStable is the stable-version bottle build. Rebuild disambiguates
// formula-version collisions the same way a package revision does.
type BottleStable struct {
	Rebuild int                   `json:"rebuild"`
	RootURL string                `json:"root_url"`
	Files   map[string]BottleFile `json:"files"`
}

// BottleFile describes one platform's bottle artifact.
type BottleFile struct {
	Cellar string `json:"cellar"` // expected Cellar path prefix, e.g. ":any" or a literal path
	URL    string `json:"url"`
	Sha256 string `json:"sha256"`
}

// DesiredVersion returns the version string the resolver should install,
// combining the stable version with the bottle rebuild number the way
// upstream disambiguates formula-version collisions.
func (f *Formula) DesiredVersion() string {
	if f.Bottle.Stable.Rebuild > 0 {
		return f.Versions.Stable + "_" + strconv.Itoa(f.Bottle.Stable.Rebuild)
	}
	return f.Versions.Stable
}

// Client fetches formula metadata. The concrete implementation is an
// out-of-scope collaborator (the bottle registry's HTTP API); core
// packages depend only on this contract so they can be tested against a
// fake.
type Client interface {
	// GetFormula fetches a single formula's metadata by name. Returns a
	// *cellarerr.CellarError with Kind == KindFormulaNotFound when the
	// registry responds 404.
	GetFormula(ctx context.Context, name string) (*Formula, error)

	// GetAllFormulae fetches the bulk formula list, used to populate the
	// list-of-everything cache.
	GetAllFormulae(ctx context.Context) ([]*Formula, error)
}
