// Package cellarerr defines the typed error kinds the installer core can
// fail with, so callers (the CLI, tests) can branch on Kind rather than
// matching error strings.
package cellarerr

import "fmt"

// Kind classifies a CellarError for programmatic handling.
type Kind int

const (
	// KindFormulaNotFound indicates the metadata client returned 404 for
	// a requested formula name.
	KindFormulaNotFound Kind = iota
	// KindNoBottleForPlatform indicates no bottle entry matched the host's
	// tag after exhausting the fallback ladder.
	KindNoBottleForPlatform
	// KindDependencyCycle indicates the resolver's DAG build found a cycle.
	KindDependencyCycle
	// KindDownloadFailed indicates a fetch failed after exhausting retries.
	KindDownloadFailed
	// KindChecksumMismatch indicates a downloaded or cached file's SHA-256
	// did not match the expected value.
	KindChecksumMismatch
	// KindExtractionFailed indicates the archive was malformed or
	// extraction ran out of disk.
	KindExtractionFailed
	// KindRelocationFailed indicates Mach-O load-command patching or
	// codesigning failed.
	KindRelocationFailed
	// KindLinkConflict indicates a link target already exists and isn't
	// ours to overwrite without --force.
	KindLinkConflict
	// KindReceiptMalformed indicates an existing install receipt could not
	// be parsed.
	KindReceiptMalformed
	// KindPermissionDenied indicates the prefix or cache root isn't
	// writable by the current user.
	KindPermissionDenied
)

var kindNames = map[Kind]string{
	KindFormulaNotFound:     "formula_not_found",
	KindNoBottleForPlatform: "no_bottle_for_platform",
	KindDependencyCycle:     "dependency_cycle",
	KindDownloadFailed:      "download_failed",
	KindChecksumMismatch:    "checksum_mismatch",
	KindExtractionFailed:    "extraction_failed",
	KindRelocationFailed:    "relocation_failed",
	KindLinkConflict:        "link_conflict",
	KindReceiptMalformed:    "receipt_malformed",
	KindPermissionDenied:    "permission_denied",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// CellarError is the structured error type every core package returns for
// expected failure modes. Package is the subsystem that raised it
// (resolver, download, relocate, link, ...); Formula and Path are filled
// in when applicable and left empty otherwise.
type CellarError struct {
	Kind    Kind
	Package string // subsystem, e.g. "resolver", "download"
	Formula string // formula name, when the error is about one formula
	Path    string // filesystem path, when the error is about one
	Message string
	Err     error
}

func (e *CellarError) Error() string {
	prefix := e.Package
	if prefix == "" {
		prefix = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *CellarError) Unwrap() error {
	return e.Err
}

// FormulaNotFound reports that the metadata client returned 404 for name.
func FormulaNotFound(name string) *CellarError {
	return &CellarError{
		Kind:    KindFormulaNotFound,
		Package: "resolver",
		Formula: name,
		Message: fmt.Sprintf("no such formula %q", name),
	}
}

// NoBottleForPlatform reports that name has no bottle entry for tag after
// the fallback ladder was exhausted.
func NoBottleForPlatform(name, tag string) *CellarError {
	return &CellarError{
		Kind:    KindNoBottleForPlatform,
		Package: "resolver",
		Formula: name,
		Message: fmt.Sprintf("%s has no bottle for platform %s", name, tag),
	}
}

// DependencyCycle reports a cycle found while building the resolver's DAG.
// path lists the formula names in cycle order.
func DependencyCycle(path []string) *CellarError {
	return &CellarError{
		Kind:    KindDependencyCycle,
		Package: "resolver",
		Message: fmt.Sprintf("dependency cycle: %v", path),
	}
}

// DownloadFailed reports that fetching name's bottle failed after
// exhausting retries.
func DownloadFailed(name string, err error) *CellarError {
	return &CellarError{
		Kind:    KindDownloadFailed,
		Package: "download",
		Formula: name,
		Message: fmt.Sprintf("failed to download bottle for %s", name),
		Err:     err,
	}
}

// ChecksumMismatch reports that a file's SHA-256 didn't match what was
// expected.
func ChecksumMismatch(name, path, want, got string) *CellarError {
	return &CellarError{
		Kind:    KindChecksumMismatch,
		Package: "download",
		Formula: name,
		Path:    path,
		Message: fmt.Sprintf("checksum mismatch for %s: want %s, got %s", path, want, got),
	}
}

// ExtractionFailed reports that extracting name's bottle archive failed.
func ExtractionFailed(name, path string, err error) *CellarError {
	return &CellarError{
		Kind:    KindExtractionFailed,
		Package: "archive",
		Formula: name,
		Path:    path,
		Message: fmt.Sprintf("failed to extract %s", path),
		Err:     err,
	}
}

// RelocationFailed reports that Mach-O relocation or codesigning failed
// for a file within name's keg.
func RelocationFailed(name, path string, err error) *CellarError {
	return &CellarError{
		Kind:    KindRelocationFailed,
		Package: "relocate",
		Formula: name,
		Path:    path,
		Message: fmt.Sprintf("failed to relocate %s", path),
		Err:     err,
	}
}

// LinkConflict reports that path already exists and points somewhere
// cellar didn't put it.
func LinkConflict(path, existingTarget string) *CellarError {
	return &CellarError{
		Kind:    KindLinkConflict,
		Package: "link",
		Path:    path,
		Message: fmt.Sprintf("%s already exists, pointing at %s", path, existingTarget),
	}
}

// ReceiptMalformed reports that an existing install receipt could not be
// parsed.
func ReceiptMalformed(name, path string, err error) *CellarError {
	return &CellarError{
		Kind:    KindReceiptMalformed,
		Package: "receipt",
		Formula: name,
		Path:    path,
		Message: fmt.Sprintf("receipt at %s is malformed", path),
		Err:     err,
	}
}

// PermissionDenied reports that path isn't writable by the current user.
func PermissionDenied(path string, err error) *CellarError {
	return &CellarError{
		Kind:    KindPermissionDenied,
		Path:    path,
		Message: fmt.Sprintf("permission denied: %s", path),
		Err:     err,
	}
}
