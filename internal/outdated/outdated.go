// Package outdated implements the outdated-formula detector (C12):
// comparing each installed formula's linked version against its
// upstream metadata to decide whether a newer bottle is available.
package outdated

import (
	"context"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/metadata"
)

// Formula reports one installed formula's version status.
type Formula struct {
	Name             string
	InstalledVersion string
	CurrentVersion   string // the upstream desired version, per metadata.Formula.DesiredVersion
}

// Detector checks installed formulae against upstream metadata.
type Detector struct {
	cellar *cellar.Cellar
	client metadata.Client
}

// New creates a Detector.
func New(c *cellar.Cellar, client metadata.Client) *Detector {
	return &Detector{cellar: c, client: client}
}

// Outdated returns every installed formula whose linked (or, absent a
// link, newest) version is strictly older than the upstream desired
// version. A formula already at or ahead of upstream (e.g. a locally
// built revision upstream hasn't re-poured yet) is never reported.
func (d *Detector) Outdated(ctx context.Context) ([]Formula, error) {
	kegs, err := d.cellar.ListInstalled()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, keg := range kegs {
		if !seen[keg.Name] {
			seen[keg.Name] = true
			names = append(names, keg.Name)
		}
	}

	var outdated []Formula
	for _, name := range names {
		installed, err := d.cellar.CurrentVersion(name)
		if err != nil {
			return nil, err
		}

		f, err := d.client.GetFormula(ctx, name)
		if err != nil {
			return nil, err
		}
		desired := f.DesiredVersion()

		if isOutdated(installed, desired) {
			outdated = append(outdated, Formula{
				Name:             name,
				InstalledVersion: installed,
				CurrentVersion:   desired,
			})
		}
	}

	return outdated, nil
}

// isOutdated reports whether installed is strictly older than desired:
// strip the trailing _N bottle-revision suffix from
// both sides, compare the upstream parts by semver, and only consult
// the revision numbers as a tiebreaker when the upstream parts are
// equal. A missing revision is 0.
func isOutdated(installed, desired string) bool {
	installedBase, installedRev := splitRevision(installed)
	desiredBase, desiredRev := splitRevision(desired)

	iv, err1 := semver.NewVersion(installedBase)
	dv, err2 := semver.NewVersion(desiredBase)
	if err1 == nil && err2 == nil {
		if iv.LessThan(dv) {
			return true
		}
		if iv.Equal(dv) {
			return installedRev < desiredRev
		}
		return false
	}

	// Upstream versions aren't always strict semver (e.g. "3.0p1");
	// fall back to a direct string comparison, as cleanup's
	// compareVersions does for the same reason.
	if installedBase != desiredBase {
		return installedBase < desiredBase
	}
	return installedRev < desiredRev
}

// splitRevision separates a bottle version like "1.7.1_2" into its
// upstream part and numeric revision. A trailing segment after the
// last underscore that isn't purely numeric is not a revision suffix
// at all (some upstream versions legitimately contain underscores), so
// the whole string is treated as the base version with revision 0.
func splitRevision(version string) (string, int) {
	idx := strings.LastIndex(version, "_")
	if idx == -1 {
		return version, 0
	}
	rev, err := strconv.Atoi(version[idx+1:])
	if err != nil {
		return version, 0
	}
	return version[:idx], rev
}
