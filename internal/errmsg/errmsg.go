// Package errmsg renders CellarError values into actionable, human-facing
// messages (possible causes and suggestions), keeping that formatting out
// of the core packages that only need to return a typed error.
package errmsg

import (
	"errors"
	"net"
	"strings"

	"github.com/tsukumogami/cellar/internal/cellarerr"
)

// ErrorContext provides additional context for error formatting.
type ErrorContext struct {
	Formula string // the formula being operated on, for suggestions
}

// Format returns a formatted error message with possible causes and
// suggestions. ctx is optional; pass nil for generic formatting.
func Format(err error, ctx *ErrorContext) string {
	if err == nil {
		return ""
	}

	var cellarErr *cellarerr.CellarError
	if errors.As(err, &cellarErr) {
		return formatCellarError(cellarErr, ctx)
	}

	errMsg := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) {
		return formatNetworkError(netErr, ctx)
	}

	if isNetworkError(errMsg) {
		return formatGenericNetworkError(errMsg, ctx)
	}

	if isPermissionError(errMsg) {
		return formatPermissionError(errMsg, ctx)
	}

	return errMsg
}

func formatCellarError(err *cellarerr.CellarError, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	switch err.Kind {
	case cellarerr.KindFormulaNotFound:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Typo in the formula name\n")
		sb.WriteString("  - The formula was renamed or removed upstream\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check the spelling of the formula name\n")
		formula := ""
		if ctx != nil {
			formula = ctx.Formula
		}
		sb.WriteString("  - Run 'cellar search " + nameOrPlaceholder(formula) + "' to find similar formulas\n")

	case cellarerr.KindNoBottleForPlatform:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - No bottle was built for this OS/arch combination\n")
		sb.WriteString("  - The formula is source-only\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Pass --brew-fallback to build via the host brew, if installed\n")

	case cellarerr.KindDependencyCycle:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Formula metadata contains a circular dependency\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Report the cycle to the formula's maintainers\n")

	case cellarerr.KindDownloadFailed:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Network connectivity issue\n")
		sb.WriteString("  - Bottle registry temporarily unavailable\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check your internet connection and retry\n")

	case cellarerr.KindChecksumMismatch:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Corrupted download\n")
		sb.WriteString("  - Stale metadata pointing at a replaced bottle\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Retry; the cached file has already been removed\n")

	case cellarerr.KindExtractionFailed:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Disk full\n")
		sb.WriteString("  - Archive truncated by an interrupted download\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check available disk space and retry\n")

	case cellarerr.KindRelocationFailed:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Mach-O load command rewrite failed\n")
		sb.WriteString("  - Codesigning failed after relocation\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Retry; a transient codesign failure resolves after an inode refresh\n")

	case cellarerr.KindLinkConflict:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The link path already exists and points elsewhere\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Pass --force to overwrite\n")
		sb.WriteString("  - Remove or rename the conflicting path first\n")

	case cellarerr.KindReceiptMalformed:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The receipt was hand-edited or truncated\n")
		sb.WriteString("  - The keg was written by an incompatible installer version\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Reinstall the formula to regenerate its receipt\n")

	case cellarerr.KindPermissionDenied:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The prefix isn't writable by the current user\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check ownership: ls -la " + err.Path + "\n")

	default:
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again in a few minutes\n")
	}

	return sb.String()
}

func nameOrPlaceholder(name string) string {
	if name == "" {
		return "<formula>"
	}
	return name
}

func formatNetworkError(err net.Error, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	if err.Timeout() {
		sb.WriteString("  - Request timed out\n")
		sb.WriteString("  - Slow or unstable network connection\n")
	} else {
		sb.WriteString("  - Network connectivity issue\n")
		sb.WriteString("  - DNS resolution failure\n")
	}
	sb.WriteString("  - Firewall or proxy blocking the connection\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")

	return sb.String()
}

func formatGenericNetworkError(errMsg string, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - Network connectivity issue\n")
	sb.WriteString("  - DNS resolution failure\n")
	sb.WriteString("  - Service temporarily unavailable\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")

	return sb.String()
}

func formatPermissionError(errMsg string, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - Insufficient permissions on the install prefix\n")
	sb.WriteString("  - Directory owned by a different user\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check ownership of the install prefix\n")

	return sb.String()
}

func isNetworkError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "dial tcp") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "i/o timeout")
}

func isPermissionError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "operation not permitted")
}
