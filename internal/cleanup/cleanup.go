// Package cleanup implements the Cellar garbage collector (C11): for
// each formula with more than one installed keg, keep the linked
// version and the newest version and remove the rest, skipping any keg
// another installed formula's receipt lists as a runtime dependency.
package cleanup

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/tsukumogami/cellar/internal/cellar"
)

// Removal describes one keg the cleaner would (or did) remove.
type Removal struct {
	Name    string
	Version string
	Path    string
	Size    int64 // bytes on disk
}

// HumanSize formats r.Size the way a CLI summary line would.
func (r Removal) HumanSize() string {
	return humanize.Bytes(uint64(r.Size))
}

// Cleaner plans and performs Cellar cleanup.
type Cleaner struct {
	cellar *cellar.Cellar
}

// New creates a Cleaner.
func New(c *cellar.Cellar) *Cleaner {
	return &Cleaner{cellar: c}
}

// Plan computes every keg that would be removed, without touching disk.
func (c *Cleaner) Plan() ([]Removal, error) {
	kegs, err := c.cellar.ListInstalled()
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]cellar.Keg)
	for _, keg := range kegs {
		byName[keg.Name] = append(byName[keg.Name], keg)
	}

	protected, err := c.protectedVersions(kegs)
	if err != nil {
		return nil, err
	}

	var removals []Removal
	for name, group := range byName {
		if len(group) <= 1 {
			continue
		}

		keep := make(map[string]bool)
		if linked, ok, err := c.cellar.LinkedVersionOf(name); err != nil {
			return nil, err
		} else if ok {
			keep[linked] = true
		}
		keep[newestVersion(group)] = true

		for _, keg := range group {
			if keep[keg.Version] || protected[name][keg.Version] {
				continue
			}
			size, err := dirSize(keg.Path)
			if err != nil {
				return nil, err
			}
			removals = append(removals, Removal{Name: name, Version: keg.Version, Path: keg.Path, Size: size})
		}
	}

	sort.Slice(removals, func(i, j int) bool {
		if removals[i].Name != removals[j].Name {
			return removals[i].Name < removals[j].Name
		}
		return removals[i].Version < removals[j].Version
	})
	return removals, nil
}

// Clean performs the plan computed by Plan. In dry-run mode it returns
// the same plan without removing anything.
func (c *Cleaner) Clean(dryRun bool) ([]Removal, error) {
	removals, err := c.Plan()
	if err != nil {
		return nil, err
	}
	if dryRun {
		return removals, nil
	}

	for _, r := range removals {
		if err := os.RemoveAll(r.Path); err != nil {
			return removals, err
		}
	}
	return removals, nil
}

// protectedVersions reads every installed keg's receipt and returns the
// set of {formula: {version: true}} pairs named as a runtime dependency
// by some other installed keg — these survive cleanup even if neither
// linked nor newest.
func (c *Cleaner) protectedVersions(kegs []cellar.Keg) (map[string]map[string]bool, error) {
	protected := make(map[string]map[string]bool)
	for _, keg := range kegs {
		r, err := c.cellar.ReadReceipt(keg.Name, keg.Version)
		if err != nil {
			return nil, err
		}
		for _, dep := range r.RuntimeDependencies {
			if protected[dep.FullName] == nil {
				protected[dep.FullName] = make(map[string]bool)
			}
			protected[dep.FullName][dep.PkgVersion] = true
		}
	}
	return protected, nil
}

func newestVersion(kegs []cellar.Keg) string {
	newest := kegs[0].Version
	for _, keg := range kegs[1:] {
		if compareVersions(keg.Version, newest) > 0 {
			newest = keg.Version
		}
	}
	return newest
}

// compareVersions orders two bottle version strings (upstream version
// plus optional _N revision) by proper semver-with-revision comparison
// rather than lexicographically.
func compareVersions(a, b string) int {
	aBase, aRev := splitRevision(a)
	bBase, bRev := splitRevision(b)

	av, aerr := semver.NewVersion(aBase)
	bv, berr := semver.NewVersion(bBase)
	if aerr == nil && berr == nil {
		if c := av.Compare(bv); c != 0 {
			return c
		}
		return compareInts(aRev, bRev)
	}

	if aBase != bBase {
		return strings.Compare(aBase, bBase)
	}
	return compareInts(aRev, bRev)
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

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

// DiskFree reports the bytes free on the filesystem holding path, for
// a cleanup summary line ("N reclaimed, M now available").
func DiskFree(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
