// Package link creates the opt link and the directory-tree symlinks
// from the install prefix into a freshly extracted keg, and unlinks
// them again.
package link

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/config"
)

// sink describes one of the standard directories a keg's contents are
// symlinked into. flat sinks are linked entry-by-entry at their own top
// level (bin, sbin, lib, include); non-flat sinks mirror their
// directory structure and link individual files, so two formulae that
// both ship share/man/man1 can coexist without either owning the
// man1 directory itself.
type sink struct {
	rel               string
	flat              bool
	requireExecutable bool
}

var sinks = []sink{
	{rel: "bin", flat: true, requireExecutable: true},
	{rel: "sbin", flat: true},
	{rel: "lib", flat: true},
	{rel: "include", flat: true},
	{rel: "share/man", flat: false},
	{rel: "share/doc", flat: false},
	{rel: "etc", flat: false},
	{rel: "var", flat: false},
}

// Linker creates and removes the symlink trees for one cellar.
type Linker struct {
	cfg *config.Config
}

// New creates a Linker rooted at cfg's prefix.
func New(cfg *config.Config) *Linker {
	return &Linker{cfg: cfg}
}

// Link creates the opt link and, unless kegOnly, the directory-tree
// links for name at version. If kegOnly is set, only the opt link is
// created (so dependents can still resolve the keg) and a human-readable
// warning is returned for the caller to surface. force permits
// overwriting a directory-tree link that already points somewhere else;
// the opt link is always replaced regardless of force, since it is the
// single "current version" pointer and is never shared with anything
// else.
func (l *Linker) Link(name, version string, kegOnly, force bool) ([]string, error) {
	keg := l.cfg.KegDir(name, version)

	if err := l.linkOpt(name, keg); err != nil {
		return nil, err
	}

	if kegOnly {
		return []string{fmt.Sprintf(
			"%s is keg-only, files are not symlinked into %s; use %s directly",
			name, l.cfg.Prefix, l.cfg.OptLink(name),
		)}, nil
	}

	for _, s := range sinks {
		kegSinkDir := filepath.Join(keg, s.rel)
		if info, err := os.Stat(kegSinkDir); err != nil || !info.IsDir() {
			continue
		}

		var err error
		if s.flat {
			err = l.linkFlat(keg, kegSinkDir, s, force)
		} else {
			err = l.linkRecursive(keg, kegSinkDir, s.rel, force)
		}
		if err != nil {
			return nil, err
		}
	}

	return nil, nil
}

func (l *Linker) linkOpt(name, keg string) error {
	optPath := l.cfg.OptLink(name)
	target, err := filepath.Rel(l.cfg.OptDir, keg)
	if err != nil {
		return cellarerr.RelocationFailed(name, optPath, err)
	}

	if err := os.MkdirAll(l.cfg.OptDir, 0755); err != nil {
		return cellarerr.PermissionDenied(l.cfg.OptDir, err)
	}
	if err := replaceSymlink(optPath, target); err != nil {
		return cellarerr.RelocationFailed(name, optPath, err)
	}
	return nil
}

// linkFlat links every top-level entry of kegSinkDir directly under
// {prefix}/{s.rel}/{entry}. bin's requireExecutable skips non-executable
// regular files, matching upstream's policy of never creating bin/
// entries for data files that happen to live alongside the real
// commands.
func (l *Linker) linkFlat(keg, kegSinkDir string, s sink, force bool) error {
	entries, err := os.ReadDir(kegSinkDir)
	if err != nil {
		return cellarerr.RelocationFailed("", kegSinkDir, err)
	}

	destDir := filepath.Join(l.cfg.Prefix, s.rel)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return cellarerr.PermissionDenied(destDir, err)
	}

	for _, entry := range entries {
		if s.requireExecutable {
			info, err := entry.Info()
			if err != nil {
				return cellarerr.RelocationFailed("", filepath.Join(kegSinkDir, entry.Name()), err)
			}
			if info.Mode().IsRegular() && info.Mode()&0111 == 0 {
				continue
			}
		}

		linkPath := filepath.Join(destDir, entry.Name())
		kegEntryPath := filepath.Join(kegSinkDir, entry.Name())
		target, err := filepath.Rel(destDir, kegEntryPath)
		if err != nil {
			return cellarerr.RelocationFailed("", linkPath, err)
		}

		if err := l.createLink(linkPath, target, force); err != nil {
			return err
		}
	}
	return nil
}

// linkRecursive mirrors kegSinkDir's directory structure under
// {prefix}/{rel}, creating real directories and symlinking only leaf
// files, so formulae sharing a directory like share/man/man1 never
// fight over who owns the directory itself.
func (l *Linker) linkRecursive(keg, kegSinkDir, rel string, force bool) error {
	destRoot := filepath.Join(l.cfg.Prefix, rel)

	return filepath.Walk(kegSinkDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(kegSinkDir, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(destRoot, relPath)

		if info.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}

		// A symlink inside the keg itself (e.g. a versioned man page
		// alias) is linked the same as a regular file: point the
		// prefix-side entry at the real file inside the keg.
		target, err := filepath.Rel(filepath.Dir(destPath), path)
		if err != nil {
			return err
		}
		return l.createLink(destPath, target, force)
	})
}

// createLink enforces the conflict policy: a link
// path that already exists as a regular file, or as a symlink pointing
// somewhere other than target, fails with LinkConflict unless force is
// set. A symlink already pointing at target is left untouched.
func (l *Linker) createLink(linkPath, target string, force bool) error {
	existing, err := os.Lstat(linkPath)
	if err != nil {
		return replaceSymlink(linkPath, target)
	}

	if existing.Mode()&os.ModeSymlink != 0 {
		currentTarget, err := os.Readlink(linkPath)
		if err == nil && currentTarget == target {
			return nil
		}
		if !force {
			return cellarerr.LinkConflict(linkPath, currentTarget)
		}
		return replaceSymlink(linkPath, target)
	}

	if !force {
		return cellarerr.LinkConflict(linkPath, "existing regular file")
	}
	if err := os.Remove(linkPath); err != nil {
		return err
	}
	return replaceSymlink(linkPath, target)
}

// replaceSymlink creates link -> target atomically: the new symlink is
// written at a sibling temp path first and renamed into place, so a
// reader never observes link half-removed.
func replaceSymlink(linkPath, target string) error {
	tmpPath := linkPath + ".cellar-link-" + uuid.NewString()
	_ = os.Remove(tmpPath)
	if err := os.Symlink(target, tmpPath); err != nil {
		return err
	}
	return os.Rename(tmpPath, linkPath)
}

// Unlink removes every symlink under the prefix (opt link and
// directory-tree links) whose stored target resolves inside name's keg
// at version. This comparison is purely textual —
// filepath.Join on the symlink's own directory and its Readlink value —
// deliberately never calling a canonicalizing resolver, which would
// open every candidate file and can exhaust the file-descriptor limit
// on kegs with thousands of entries.
func (l *Linker) Unlink(name, version string) error {
	keg := filepath.Clean(l.cfg.KegDir(name, version))

	optPath := l.cfg.OptLink(name)
	if target, err := os.Readlink(optPath); err == nil && resolvesInto(optPath, target, keg) {
		_ = os.Remove(optPath)
	}

	for _, s := range sinks {
		root := filepath.Join(l.cfg.Prefix, s.rel)
		if err := unlinkTree(root, keg); err != nil {
			return err
		}
	}
	return nil
}

func unlinkTree(root, keg string) error {
	if _, err := os.Lstat(root); err != nil {
		return nil
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(path)
		if err != nil {
			return nil
		}
		if resolvesInto(path, target, keg) {
			_ = os.Remove(path)
		}
		return nil
	})
}

// resolvesInto reports whether target, read from a symlink at
// linkPath, textually resolves inside keg — a plain filepath.Join and
// string-prefix check, with no filesystem access beyond the Readlink
// the caller already performed.
func resolvesInto(linkPath, target, keg string) bool {
	resolved := filepath.Clean(filepath.Join(filepath.Dir(linkPath), target))
	return resolved == keg || strings.HasPrefix(resolved, keg+string(os.PathSeparator))
}
