// Package extract implements the bottle extractor (C6): streaming a
// compressed tar archive straight into the Cellar without ever
// buffering it whole, preserving modes, symlinks and hardlinks, and
// refusing any entry whose destination would escape the cellar.
//
// Bottles in the wild show up gzip-, xz- or lzip-compressed depending
// on formula and rebuild age; the compression layer is sniffed from
// the archive's own magic bytes rather than trusted from a filename
// suffix, since a cached bottle's on-disk name is its SHA256, not its
// upstream one.
package extract

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	lzip "github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"

	"github.com/tsukumogami/cellar/internal/cellarerr"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	lzipMagic = []byte("LZIP")
)

// decompressor opens the appropriate streaming reader for r's
// compression format, sniffed from its leading bytes.
func decompressor(r *bufio.Reader) (io.Reader, func() error, error) {
	switch {
	case hasPrefix(r, gzipMagic):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case hasPrefix(r, xzMagic):
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error { return nil }, nil
	case hasPrefix(r, lzipMagic):
		zr, err := lzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized archive compression (not gzip, xz, or lzip)")
	}
}

func hasPrefix(r *bufio.Reader, magic []byte) bool {
	peeked, err := r.Peek(len(magic))
	if err != nil {
		return false
	}
	for i, b := range magic {
		if peeked[i] != b {
			return false
		}
	}
	return true
}

// Extract streams archivePath (a gzip-, xz-, or lzip-compressed tar of
// a bottle) into cellarPath, verbatim, and returns the path to the
// extracted keg ({cellarPath}/{name}/{version}, taken from the
// archive's own leading two path components).
//
// Extraction never loads the archive into memory; both the
// decompression layer and the tar layer are read incrementally. A
// failure mid-extraction leaves whatever was written so far in place —
// cleanup is the caller's job, not this package's.
func Extract(archivePath, cellarPath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", cellarerr.ExtractionFailed("", archivePath, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	zr, closeZr, err := decompressor(br)
	if err != nil {
		return "", cellarerr.ExtractionFailed("", archivePath, err)
	}
	defer closeZr()

	return extractTar(tar.NewReader(zr), archivePath, cellarPath)
}

// extractTar writes every entry of tr under cellarPath. The written map
// remembers where each TypeReg entry landed on disk, so a later TypeLink
// entry referencing the same archive path can be recreated as a real
// hardlink instead of a second copy.
func extractTar(tr *tar.Reader, archivePath, cellarPath string) (string, error) {
	var kegPath string
	written := make(map[string]string) // archive header.Name -> extracted disk path

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", cellarerr.ExtractionFailed("", archivePath, err)
		}

		cleanPath := strings.TrimPrefix(header.Name, "./")
		if cleanPath == "" {
			continue
		}

		target, err := safeJoin(cellarPath, cleanPath)
		if err != nil {
			return "", cellarerr.ExtractionFailed("", archivePath, err)
		}

		if kegPath == "" {
			if keg, ok := kegPathFromEntry(cellarPath, cleanPath); ok {
				kegPath = keg
			}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}
			if err := writeRegularFile(target, tr, header); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}
			written[header.Name] = target

		case tar.TypeLink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}
			linkSrc, ok := written[header.Linkname]
			if !ok {
				// The link target wasn't extracted earlier in the
				// stream (unusual, but tar doesn't guarantee order);
				// fall back to resolving it the same way the target
				// itself was resolved.
				resolved, err := safeJoin(cellarPath, strings.TrimPrefix(header.Linkname, "./"))
				if err != nil {
					return "", cellarerr.ExtractionFailed("", archivePath, err)
				}
				linkSrc = resolved
			}
			_ = os.Remove(target)
			if err := os.Link(linkSrc, target); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}
			if err := validateSymlinkTarget(header.Linkname, target, cellarPath); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return "", cellarerr.ExtractionFailed("", archivePath, err)
			}
		}
	}

	if kegPath == "" {
		return "", cellarerr.ExtractionFailed("", archivePath, fmt.Errorf("archive did not contain a {name}/{version} entry"))
	}
	return kegPath, nil
}

func writeRegularFile(target string, tr *tar.Reader, header *tar.Header) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// kegPathFromEntry returns {cellarPath}/{name}/{version} once cleanPath
// has at least two path components, i.e. as soon as the archive's own
// `{name}/{version}/…` layout names the keg directory.
func kegPathFromEntry(cellarPath, cleanPath string) (string, bool) {
	parts := strings.SplitN(cleanPath, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return filepath.Join(cellarPath, parts[0], parts[1]), true
}

// safeJoin joins base and rel and refuses any result that would escape
// base, guarding against a maliciously crafted archive entry.
func safeJoin(base, rel string) (string, error) {
	target := filepath.Join(base, rel)
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if absTarget != absBase && !strings.HasPrefix(absTarget, absBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes cellar: %s", rel)
	}
	return target, nil
}

// validateSymlinkTarget refuses absolute symlink targets and targets
// that would resolve outside destPath, the same two archive-bomb
// vectors safeJoin guards against for regular entries.
func validateSymlinkTarget(linkTarget, linkLocation, destPath string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("absolute symlink targets are not allowed: %s -> %s", linkLocation, linkTarget)
	}

	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	absDest, err := filepath.Abs(destPath)
	if err != nil {
		return err
	}
	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return err
	}
	if absResolved != absDest && !strings.HasPrefix(absResolved, absDest+string(os.PathSeparator)) {
		return fmt.Errorf("symlink target escapes cellar: %s -> %s", linkLocation, linkTarget)
	}
	return nil
}
