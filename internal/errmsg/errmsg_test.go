package errmsg

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/tsukumogami/cellar/internal/cellarerr"
)

func TestFormat_NilError(t *testing.T) {
	result := Format(nil, nil)
	if result != "" {
		t.Errorf("expected empty string for nil error, got %q", result)
	}
}

func TestFormat_GenericError(t *testing.T) {
	err := errors.New("something went wrong")
	result := Format(err, nil)
	if result != "something went wrong" {
		t.Errorf("expected original error message, got %q", result)
	}
}

func TestFormat_FormulaNotFound(t *testing.T) {
	err := cellarerr.FormulaNotFound("nonexistent-formula")
	ctx := &ErrorContext{Formula: "nonexistent-formula"}
	result := Format(err, ctx)

	checks := []string{
		`no such formula "nonexistent-formula"`,
		"Possible causes:",
		"Typo",
		"Suggestions:",
		"cellar search nonexistent-formula",
	}

	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("expected result to contain %q, got:\n%s", check, result)
		}
	}
}

func TestFormat_NoBottleForPlatform(t *testing.T) {
	err := cellarerr.NoBottleForPlatform("mysql", "arm64_sequoia")
	result := Format(err, nil)

	checks := []string{
		"no bottle for platform arm64_sequoia",
		"Possible causes:",
		"source-only",
		"Suggestions:",
		"--brew-fallback",
	}

	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("expected result to contain %q, got:\n%s", check, result)
		}
	}
}

func TestFormat_ChecksumMismatch(t *testing.T) {
	err := cellarerr.ChecksumMismatch("jq", "/cache/abc.tar.gz", "aaa", "bbb")
	result := Format(err, nil)

	checks := []string{
		"checksum mismatch",
		"Possible causes:",
		"Corrupted download",
		"Suggestions:",
		"Retry",
	}

	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("expected result to contain %q, got:\n%s", check, result)
		}
	}
}

func TestFormat_LinkConflict(t *testing.T) {
	err := cellarerr.LinkConflict("/opt/homebrew/bin/jq", "/usr/bin/jq")
	result := Format(err, nil)

	checks := []string{
		"already exists",
		"Possible causes:",
		"Suggestions:",
		"--force",
	}

	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("expected result to contain %q, got:\n%s", check, result)
		}
	}
}

func TestFormat_NetworkError(t *testing.T) {
	err := errors.New("dial tcp: connection refused")
	result := Format(err, nil)

	checks := []string{
		"connection refused",
		"Possible causes:",
		"Network connectivity issue",
		"Suggestions:",
		"Check your internet connection",
	}

	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("expected result to contain %q, got:\n%s", check, result)
		}
	}
}

func TestFormat_PermissionError(t *testing.T) {
	err := errors.New("open /opt/homebrew/Cellar: permission denied")
	result := Format(err, nil)

	checks := []string{
		"permission denied",
		"Possible causes:",
		"Insufficient permissions",
		"Suggestions:",
	}

	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("expected result to contain %q, got:\n%s", check, result)
		}
	}
}

// mockNetError implements net.Error for testing.
type mockNetError struct {
	msg       string
	timeout   bool
	temporary bool
}

func (e mockNetError) Error() string   { return e.msg }
func (e mockNetError) Timeout() bool   { return e.timeout }
func (e mockNetError) Temporary() bool { return e.temporary }

var _ net.Error = mockNetError{}

func TestFormat_NetError_Timeout(t *testing.T) {
	err := mockNetError{msg: "i/o timeout", timeout: true}
	result := Format(err, nil)

	checks := []string{
		"i/o timeout",
		"Possible causes:",
		"Request timed out",
		"Suggestions:",
	}

	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("expected result to contain %q, got:\n%s", check, result)
		}
	}
}

func TestFormat_WithoutContext(t *testing.T) {
	err := cellarerr.FormulaNotFound("test")
	result := Format(err, nil)

	if !strings.Contains(result, "<formula>") {
		t.Errorf("expected generic placeholder without context, got:\n%s", result)
	}
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		msg      string
		expected bool
	}{
		{"dial tcp: connection refused", true},
		{"connection reset by peer", true},
		{"no such host", true},
		{"i/o timeout", true},
		{"file not found", false},
		{"permission denied", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := isNetworkError(tt.msg); got != tt.expected {
				t.Errorf("isNetworkError(%q) = %v, want %v", tt.msg, got, tt.expected)
			}
		})
	}
}

func TestIsPermissionError(t *testing.T) {
	tests := []struct {
		msg      string
		expected bool
	}{
		{"permission denied", true},
		{"access denied", true},
		{"operation not permitted", true},
		{"file not found", false},
		{"connection refused", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := isPermissionError(tt.msg); got != tt.expected {
				t.Errorf("isPermissionError(%q) = %v, want %v", tt.msg, got, tt.expected)
			}
		})
	}
}
