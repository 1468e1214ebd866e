package platform

import (
	"os/exec"
	"strings"
)

// DevTools carries the macOS developer-tools versions a receipt's
// built_on.xcode/built_on.clt fields record. Both are empty on Linux.
type DevTools struct {
	Xcode string
	CLT   string
}

// DetectDevTools shells out to xcodebuild and pkgutil the same way
// Homebrew itself does, since neither version string has a portable
// syscall or file to read directly. Either tool can be absent (CLT-only
// installs have no xcodebuild; a bare CLT install has no full Xcode) —
// a missing tool yields an empty string rather than an error, and the
// receipt writer nulls the field out when it's empty.
func DetectDevTools() DevTools {
	return DevTools{
		Xcode: xcodeVersion(),
		CLT:   cltVersion(),
	}
}

// xcodeVersion parses "Xcode 16.0\nBuild version 16A242d" into "16.0".
func xcodeVersion() string {
	out, err := exec.Command("xcodebuild", "-version").Output()
	if err != nil {
		return ""
	}
	lines := strings.SplitN(string(out), "\n", 2)
	fields := strings.Fields(lines[0])
	if len(fields) != 2 {
		return ""
	}
	return fields[1]
}

// cltVersion reads the Command Line Tools package version via pkgutil,
// the same receipt used upstream since the CLT installer leaves no
// other queryable version marker.
func cltVersion() string {
	out, err := exec.Command("pkgutil", "--pkg-info=com.apple.pkg.CLTools_Executables").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "version: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
