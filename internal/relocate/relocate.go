// Package relocate implements the Mach-O and script relocator (C7):
// rewriting @@HOMEBREW_PREFIX@@/@@HOMEBREW_CELLAR@@ placeholders baked
// into a bottle at build time with the real install paths, without
// corrupting a binary or invalidating its code signature.
package relocate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/log"
)

const (
	prefixPlaceholder = "@@HOMEBREW_PREFIX@@"
	cellarPlaceholder = "@@HOMEBREW_CELLAR@@"
)

// machoMagics lists the first-four-byte signatures of a Mach-O object
// file or a fat (universal) binary, in either byte order.
var machoMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce}, // 32-bit big-endian
	{0xce, 0xfa, 0xed, 0xfe}, // 32-bit little-endian
	{0xfe, 0xed, 0xfa, 0xcf}, // 64-bit big-endian
	{0xcf, 0xfa, 0xed, 0xfe}, // 64-bit little-endian
	{0xca, 0xfe, 0xba, 0xbe}, // fat, big-endian
	{0xbe, 0xba, 0xfe, 0xca}, // fat, little-endian
}

// Relocator rewrites placeholders left in a freshly extracted keg.
type Relocator struct {
	logger log.Logger
}

// New creates a Relocator. l may be nil, in which case a no-op logger
// is used.
func New(l log.Logger) *Relocator {
	if l == nil {
		l = log.NewNoop()
	}
	return &Relocator{logger: log.Component(l, "relocate")}
}

// Relocate walks kegPath and rewrites every placeholder occurrence with
// prefix/cellarDir, handling three categories differently:
//
//   - Mach-O binaries anywhere in the keg: load commands (install name,
//     dylib loads, rpaths) are rewritten with install_name_tool and the
//     file is re-signed ad-hoc, since macOS enforces signature
//     validity per-inode at exec time.
//   - Executable scripts under bin/: treated as text, read whole and
//     string-replaced, written back with the original mode.
//   - Everything else: left untouched, matching upstream's policy of
//     only ever substituting placeholders at these two well-known
//     sites.
func (r *Relocator) Relocate(kegPath, prefix, cellarDir string) error {
	replacements := map[string]string{
		prefixPlaceholder: prefix,
		cellarPlaceholder: cellarDir,
	}

	var signed []os.FileInfo

	return filepath.Walk(kegPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(kegPath, path)
		if err != nil {
			return err
		}
		if skipRelocation(rel) {
			return nil
		}

		magic, err := readMagic(path)
		if err != nil {
			return cellarerr.RelocationFailed("", path, err)
		}

		if isMachO(magic) {
			return r.relocateMachO(path, info, replacements, &signed)
		}

		if !isUnderBin(rel) || info.Mode()&0111 == 0 {
			return nil
		}
		return relocateScript(path, info.Mode(), replacements)
	})
}

// skipRelocation reports files upstream never touches regardless of
// whether they carry a placeholder: Python's own prefix marker, and
// anything under a versioned lib/pythonX.Y/ tree (site-packages content
// that isn't build-time substitution's target).
func skipRelocation(rel string) bool {
	if filepath.Base(rel) == "orig-prefix.txt" {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return len(parts) >= 2 && parts[0] == "lib" && strings.HasPrefix(parts[1], "python")
}

func isUnderBin(rel string) bool {
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	return len(parts) > 0 && parts[0] == "bin"
}

func readMagic(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	n, err := io.ReadFull(f, magic)
	if err != nil && n < 4 {
		return magic[:n], nil
	}
	return magic, nil
}

func isMachO(magic []byte) bool {
	for _, m := range machoMagics {
		if bytes.Equal(magic, m) {
			return true
		}
	}
	return false
}

// relocateScript rewrites a bin/ script in place, making it writable
// first and restoring its original mode afterward if it started
// read-only (bottles often ship their contents read-only).
func relocateScript(path string, mode os.FileMode, replacements map[string]string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return cellarerr.RelocationFailed("", path, err)
	}

	newContent := content
	for placeholder, value := range replacements {
		newContent = bytes.ReplaceAll(newContent, []byte(placeholder), []byte(value))
	}
	if bytes.Equal(newContent, content) {
		return nil
	}

	madeWritable := false
	if mode&0200 == 0 {
		if err := os.Chmod(path, mode|0200); err != nil {
			return cellarerr.RelocationFailed("", path, err)
		}
		madeWritable = true
	}

	if err := os.WriteFile(path, newContent, mode); err != nil {
		return cellarerr.RelocationFailed("", path, err)
	}
	if madeWritable {
		if err := os.Chmod(path, mode); err != nil {
			return cellarerr.RelocationFailed("", path, err)
		}
	}
	return nil
}

// loadCommandKind distinguishes the three Mach-O load commands that can
// carry a placeholder-bearing path.
type loadCommandKind int

const (
	kindID loadCommandKind = iota
	kindLoad
	kindRPath
)

type loadCommandEntry struct {
	kind  loadCommandKind
	value string
}

// relocateMachO rewrites path-bearing load commands in a Mach-O binary
// and re-signs it ad-hoc if anything changed.
func (r *Relocator) relocateMachO(path string, info os.FileInfo, replacements map[string]string, signed *[]os.FileInfo) error {
	installNameTool, err := exec.LookPath("install_name_tool")
	if err != nil {
		r.logger.Warn("install_name_tool not found, skipping relocation", "path", path)
		return nil
	}
	otoolPath, err := exec.LookPath("otool")
	if err != nil {
		r.logger.Warn("otool not found, skipping relocation", "path", path)
		return nil
	}

	originalMode := info.Mode()
	madeWritable := false
	if originalMode&0200 == 0 {
		if err := os.Chmod(path, originalMode|0200); err != nil {
			return cellarerr.RelocationFailed("", path, err)
		}
		madeWritable = true
	}
	restore := func() {
		if madeWritable {
			_ = os.Chmod(path, originalMode)
		}
	}

	output, err := exec.Command(otoolPath, "-l", path).Output()
	if err != nil {
		restore()
		return cellarerr.RelocationFailed("", path, err)
	}

	changed := false
	for _, entry := range parseLoadCommands(string(output)) {
		newValue := replaceAll(entry.value, replacements)
		if newValue == entry.value {
			continue
		}
		if err := runInstallNameTool(installNameTool, entry, newValue, path); err != nil {
			restore()
			return cellarerr.RelocationFailed("", path, err)
		}
		changed = true
	}
	restore()

	if !changed {
		return nil
	}

	if alreadySigned(info, *signed) {
		return nil
	}
	*signed = append(*signed, info)

	if err := r.codesignWithRetry(path); err != nil {
		return cellarerr.RelocationFailed("", path, err)
	}
	return nil
}

// parseLoadCommands extracts the LC_ID_DYLIB, LC_LOAD_DYLIB and
// LC_RPATH entries from `otool -l` output.
func parseLoadCommands(otoolOutput string) []loadCommandEntry {
	var entries []loadCommandEntry
	var current string

	for _, line := range strings.Split(otoolOutput, "\n") {
		line = strings.TrimSpace(line)
		switch line {
		case "cmd LC_ID_DYLIB", "cmd LC_LOAD_DYLIB", "cmd LC_RPATH":
			current = line
			continue
		}

		switch {
		case strings.HasPrefix(line, "name ") && (current == "cmd LC_ID_DYLIB" || current == "cmd LC_LOAD_DYLIB"):
			kind := kindLoad
			if current == "cmd LC_ID_DYLIB" {
				kind = kindID
			}
			entries = append(entries, loadCommandEntry{kind: kind, value: stripOffset(strings.TrimPrefix(line, "name "))})
			current = ""
		case strings.HasPrefix(line, "path ") && current == "cmd LC_RPATH":
			entries = append(entries, loadCommandEntry{kind: kindRPath, value: stripOffset(strings.TrimPrefix(line, "path "))})
			current = ""
		}
	}
	return entries
}

func stripOffset(s string) string {
	if idx := strings.Index(s, " (offset"); idx != -1 {
		return s[:idx]
	}
	return s
}

func replaceAll(value string, replacements map[string]string) string {
	for placeholder, replacement := range replacements {
		value = strings.ReplaceAll(value, placeholder, replacement)
	}
	return value
}

func runInstallNameTool(tool string, entry loadCommandEntry, newValue, path string) error {
	var args []string
	switch entry.kind {
	case kindID:
		args = []string{"-id", newValue, path}
	case kindLoad:
		args = []string{"-change", entry.value, newValue, path}
	case kindRPath:
		args = []string{"-rpath", entry.value, newValue, path}
	}

	cmd := exec.Command(tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderrIsOnlyWarnings(stderr.String()) {
			return nil
		}
		return fmt.Errorf("install_name_tool %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

func stderrIsOnlyWarnings(stderr string) bool {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return true
	}
	for _, line := range strings.Split(stderr, "\n") {
		if line == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(line), "warning:") {
			return false
		}
	}
	return true
}

func alreadySigned(info os.FileInfo, signed []os.FileInfo) bool {
	for _, s := range signed {
		if os.SameFile(info, s) {
			return true
		}
	}
	return false
}

// codesignWithRetry ad-hoc re-signs path, working around a codesign
// quirk where the Apple toolchain's signing daemon intermittently
// refuses a file (roughly 1 in 20 attempts) if it was observed in a
// prior state moments earlier. Copying the file to a sibling path and
// renaming it back gives it a fresh inode, which clears the condition.
func (r *Relocator) codesignWithRetry(path string) error {
	codesignPath, err := exec.LookPath("codesign")
	if err != nil {
		r.logger.Warn("codesign not found, skipping re-sign", "path", path)
		return nil
	}

	if err := runCodesign(codesignPath, path); err == nil {
		return nil
	}

	if err := refreshInode(path); err != nil {
		return err
	}
	return runCodesign(codesignPath, path)
}

func runCodesign(codesignPath, path string) error {
	cmd := exec.Command(codesignPath, "-s", "-", "-f", "--preserve-metadata=entitlements,requirements,flags,runtime", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("codesign: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

func refreshInode(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmpPath := path + ".cellar-relocate-" + uuid.NewString()
	if err := copyFile(path, tmpPath, info.Mode()); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
