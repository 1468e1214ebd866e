// Package cellar implements the read-only view over an on-disk Cellar
// (C2): enumerating installed kegs, resolving which version is linked,
// and reading install receipts. The filesystem is the single source of
// truth here — there is no cache and no in-memory index, so every
// operation is safe to call concurrently and always reflects the current
// disk state, even mid-install.
package cellar

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/config"
	"github.com/tsukumogami/cellar/internal/receipt"
)

// Keg identifies one installed formula version: the directory
// {cellar}/{name}/{version} and that directory's modification time.
type Keg struct {
	Name    string
	Version string
	Path    string
	ModTime int64 // unix seconds, from the keg directory's mtime
}

// Cellar is a read-only view over one prefix's Cellar directory.
type Cellar struct {
	cfg *config.Config
}

// New creates a Cellar view over cfg's prefix.
func New(cfg *config.Config) *Cellar {
	return &Cellar{cfg: cfg}
}

// ListInstalled returns one entry per keg directory under the Cellar,
// across every installed formula.
func (c *Cellar) ListInstalled() ([]Keg, error) {
	formulaEntries, err := os.ReadDir(c.cfg.Cellar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cellarerr.PermissionDenied(c.cfg.Cellar, err)
	}

	var kegs []Keg
	for _, fe := range formulaEntries {
		if !fe.IsDir() {
			continue
		}
		versions, err := c.VersionsOf(fe.Name())
		if err != nil {
			return nil, err
		}
		kegs = append(kegs, versions...)
	}

	return kegs, nil
}

// VersionsOf returns every installed version of name, sorted
// newest-mtime-first.
func (c *Cellar) VersionsOf(name string) ([]Keg, error) {
	formulaDir := c.cfg.FormulaDir(name)

	entries, err := os.ReadDir(formulaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cellarerr.PermissionDenied(formulaDir, err)
	}

	var kegs []Keg
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		kegs = append(kegs, Keg{
			Name:    name,
			Version: e.Name(),
			Path:    filepath.Join(formulaDir, e.Name()),
			ModTime: info.ModTime().Unix(),
		})
	}

	sort.Slice(kegs, func(i, j int) bool {
		return kegs[i].ModTime > kegs[j].ModTime
	})

	return kegs, nil
}

// LinkedVersionOf reads {prefix}/opt/{name}, returning the version
// segment of its target and true, or "", false if no opt link exists.
func (c *Cellar) LinkedVersionOf(name string) (string, bool, error) {
	target, err := os.Readlink(c.cfg.OptLink(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, cellarerr.PermissionDenied(c.cfg.OptLink(name), err)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(c.cfg.OptLink(name)), target)
	}
	kegName, version, ok := SplitCellarPath(target)
	if !ok || kegName != name {
		return "", false, nil
	}
	return version, true, nil
}

// SplitCellarPath locates the {name}/{version} segment of path by
// finding the rightmost "Cellar" path component, rather than assuming a
// fixed prefix depth — an opt link's target may be relative or
// absolute, and a prefix can itself contain a directory named "cellar".
func SplitCellarPath(path string) (name, version string, ok bool) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "Cellar" {
			continue
		}
		if i+2 >= len(parts) || parts[i+1] == "" || parts[i+2] == "" {
			return "", "", false
		}
		return parts[i+1], parts[i+2], true
	}
	return "", "", false
}

// CurrentVersion returns the linked version of name if one exists, else
// the newest-by-mtime installed version. Every lifecycle operation
// (uninstall, upgrade, unlink) must resolve "the installed version"
// through this helper rather than picking newest-by-semver directly: an
// interrupted operation can leave a newer, partial keg on disk, and the
// linked keg is the one known to actually work.
func (c *Cellar) CurrentVersion(name string) (string, error) {
	if version, ok, err := c.LinkedVersionOf(name); err != nil {
		return "", err
	} else if ok {
		return version, nil
	}

	versions, err := c.VersionsOf(name)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", cellarerr.FormulaNotFound(name)
	}
	return versions[0].Version, nil
}

// ReadReceipt reads and parses the install receipt for name at version.
// A missing or malformed receipt is always an error: §3's invariant is
// that every keg contains a valid receipt.
func (c *Cellar) ReadReceipt(name, version string) (*receipt.Receipt, error) {
	path := filepath.Join(c.cfg.KegDir(name, version), "INSTALL_RECEIPT.json")
	return receipt.ReadFile(name, path)
}

// IsInstalled reports whether name has at least one installed keg.
func (c *Cellar) IsInstalled(name string) bool {
	versions, err := c.VersionsOf(name)
	return err == nil && len(versions) > 0
}
