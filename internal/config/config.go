// Package config resolves the on-disk layout for a cellar installation:
// the install prefix, the Cellar, the opt/bin/lib symlink farms, and the
// cache directories for fetched bottles and metadata. The layout must
// match an existing Homebrew installation bit-for-bit so the two tools
// can operate on the same prefix interchangeably.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// EnvPrefix overrides the install prefix that would otherwise be derived
	// from arch/OS defaults (§6: "a prefix override that, when set, pins the
	// install prefix").
	EnvPrefix = "HOMEBREW_PREFIX"

	// EnvAPITimeout configures the metadata/registry HTTP request timeout.
	EnvAPITimeout = "CELLAR_API_TIMEOUT"

	// EnvMetadataCacheTTL configures the TTL for cached per-formula metadata.
	EnvMetadataCacheTTL = "CELLAR_METADATA_CACHE_TTL"

	// EnvListCacheTTL is read by GetListCacheTTL for the "list everything"
	// metadata TTL. The registry cache does not call GetListCacheTTL; it
	// stores the bulk list under the same TTL as single formulas.
	EnvListCacheTTL = "CELLAR_LIST_CACHE_TTL"

	// DefaultAPITimeout is the default timeout for metadata/registry requests.
	DefaultAPITimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for per-formula cache entries (§3).
	DefaultMetadataCacheTTL = 24 * time.Hour

	// DefaultListCacheTTL is the default TTL for list-of-everything cache entries (§3).
	DefaultListCacheTTL = 1 * time.Hour
)

// GetAPITimeout returns the configured timeout from CELLAR_API_TIMEOUT.
// If not set or invalid, returns DefaultAPITimeout. Accepts duration
// strings like "30s", "1m", "2m30s", clamped to [1s, 10m].
func GetAPITimeout() time.Duration {
	return getDurationEnv(EnvAPITimeout, DefaultAPITimeout, 1*time.Second, 10*time.Minute)
}

// GetMetadataCacheTTL returns the configured TTL from CELLAR_METADATA_CACHE_TTL.
// If not set or invalid, returns DefaultMetadataCacheTTL, clamped to [5m, 7d].
func GetMetadataCacheTTL() time.Duration {
	return getDurationEnv(EnvMetadataCacheTTL, DefaultMetadataCacheTTL, 5*time.Minute, 7*24*time.Hour)
}

// GetListCacheTTL returns the configured TTL from CELLAR_LIST_CACHE_TTL.
// If not set or invalid, returns DefaultListCacheTTL, clamped to [1m, 7d].
func GetListCacheTTL() time.Duration {
	return getDurationEnv(EnvListCacheTTL, DefaultListCacheTTL, 1*time.Minute, 7*24*time.Hour)
}

func getDurationEnv(envVar string, def, min, max time.Duration) time.Duration {
	envValue := os.Getenv(envVar)
	if envValue == "" {
		return def
	}

	duration, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n", envVar, envValue, def)
		return def
	}

	if duration < min {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum %v\n", envVar, duration, min)
		return min
	}
	if duration > max {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum %v\n", envVar, duration, max)
		return max
	}

	return duration
}

// ParseByteSize parses a human-readable byte size string into bytes.
// Accepts plain numbers (52428800), KB/K, MB/M, GB/G suffixes,
// case-insensitive. Returns an error for invalid formats. Used only to
// parse user-supplied size overrides; formatting sizes for display is the
// job of humanize.Bytes (see internal/cleanup), which is why this stays
// symmetrical with neither: parsing user input and formatting output are
// different enough operations that no single pack dependency does both
// the way this package needs.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.ToUpper(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var numStr, suffix string
	for i, c := range s {
		if c >= '0' && c <= '9' || c == '.' {
			numStr += string(c)
		} else {
			suffix = s[i:]
			break
		}
	}

	if numStr == "" {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %q", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size suffix: %q", suffix)
	}

	return int64(num * multiplier), nil
}

// fileConfig is the optional config.toml overlay. Values set in the file
// win over built-in defaults; no environment variable covers these keys.
type fileConfig struct {
	DownloadConcurrency int  `toml:"download_concurrency"`
	ResolverFanout      int  `toml:"resolver_fanout"`
	BrewFallback        bool `toml:"brew_fallback"`
}

// Overlay holds the policy knobs loaded from config.toml.
type Overlay struct {
	DownloadConcurrency int
	ResolverFanout      int
	BrewFallback        bool
}

// DefaultOverlay returns the built-in defaults matching spec §4.4/§4.5/§4.10.
func DefaultOverlay() Overlay {
	return Overlay{
		DownloadConcurrency: 8,
		ResolverFanout:      16,
		BrewFallback:        false,
	}
}

// LoadOverlay reads config.toml if present and merges it over the
// defaults. A missing file is not an error.
func LoadOverlay(path string) (Overlay, error) {
	overlay := DefaultOverlay()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		return overlay, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return overlay, fmt.Errorf("failed to parse config file: %w", err)
	}

	if fc.DownloadConcurrency > 0 {
		overlay.DownloadConcurrency = fc.DownloadConcurrency
	}
	if fc.ResolverFanout > 0 {
		overlay.ResolverFanout = fc.ResolverFanout
	}
	overlay.BrewFallback = fc.BrewFallback

	return overlay, nil
}

// Config holds the resolved on-disk layout for one cellar installation.
type Config struct {
	Prefix   string // install prefix, e.g. /opt/homebrew, /usr/local, /home/linuxbrew/.linuxbrew
	Cellar   string // {prefix}/Cellar
	OptDir   string // {prefix}/opt
	BinDir   string // {prefix}/bin
	SbinDir  string // {prefix}/sbin
	LibDir   string // {prefix}/lib
	IncludeDir string // {prefix}/include
	ShareDir string // {prefix}/share
	EtcDir   string // {prefix}/etc
	VarDir   string // {prefix}/var

	CacheRoot        string // user cache root for this tool
	APICacheDir      string // {cache}/api (metadata)
	DownloadCacheDir string // {cache}/downloads (bottles, keyed by sha256)

	ConfigFile string // {cache}/config.toml
}

// ArchDefaultPrefix returns the conventional install prefix for the
// current arch/OS, per spec §4.1's prefix detection order.
func ArchDefaultPrefix() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "/opt/homebrew"
		}
		return "/usr/local"
	case "linux":
		return "/home/linuxbrew/.linuxbrew"
	default:
		return "/usr/local"
	}
}

// DiscoverPrefix looks for an existing Homebrew-compatible install by
// checking the three conventional locations for a Cellar directory, per
// spec §4.1's fallback discovery step.
func DiscoverPrefix() (string, bool) {
	for _, candidate := range []string{"/opt/homebrew", "/usr/local", "/home/linuxbrew/.linuxbrew"} {
		if info, err := os.Stat(filepath.Join(candidate, "Cellar")); err == nil && info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// DefaultConfig resolves Config's prefix: the environment override if set,
// else a host Homebrew install discovered on disk, else the arch-based
// default.
func DefaultConfig() (*Config, error) {
	prefix := os.Getenv(EnvPrefix)
	if prefix == "" {
		if discovered, ok := DiscoverPrefix(); ok {
			prefix = discovered
		} else {
			prefix = ArchDefaultPrefix()
		}
	}

	return NewConfig(prefix)
}

// NewConfig builds a Config for an explicit prefix, useful for tests that
// want an isolated temp-dir "prefix" rather than the real host layout.
func NewConfig(prefix string) (*Config, error) {
	cacheRoot, err := userCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine cache directory: %w", err)
	}

	return &Config{
		Prefix:     prefix,
		Cellar:     filepath.Join(prefix, "Cellar"),
		OptDir:     filepath.Join(prefix, "opt"),
		BinDir:     filepath.Join(prefix, "bin"),
		SbinDir:    filepath.Join(prefix, "sbin"),
		LibDir:     filepath.Join(prefix, "lib"),
		IncludeDir: filepath.Join(prefix, "include"),
		ShareDir:   filepath.Join(prefix, "share"),
		EtcDir:     filepath.Join(prefix, "etc"),
		VarDir:     filepath.Join(prefix, "var"),

		CacheRoot:        cacheRoot,
		APICacheDir:      filepath.Join(cacheRoot, "api"),
		DownloadCacheDir: filepath.Join(cacheRoot, "downloads"),

		ConfigFile: filepath.Join(cacheRoot, "config.toml"),
	}, nil
}

func userCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "cellar"), nil
}

// EnsureDirectories creates the cache directories this process owns.
// The prefix tree (Cellar/opt/bin/...) is expected to already exist when
// interoperating with a real Homebrew install; only Cellar and opt are
// created here since a from-scratch install needs them before the first
// keg lands.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Cellar,
		c.OptDir,
		c.CacheRoot,
		c.APICacheDir,
		c.DownloadCacheDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// KegDir returns the directory for a specific installed formula version:
// {cellar}/{name}/{version}.
func (c *Config) KegDir(name, version string) string {
	return filepath.Join(c.Cellar, name, version)
}

// FormulaDir returns {cellar}/{name}, the parent of all kegs for a formula.
func (c *Config) FormulaDir(name string) string {
	return filepath.Join(c.Cellar, name)
}

// OptLink returns {prefix}/opt/{name}, the stable pointer at the linked keg.
func (c *Config) OptLink(name string) string {
	return filepath.Join(c.OptDir, name)
}
