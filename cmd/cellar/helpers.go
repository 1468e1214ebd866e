package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/config"
	"github.com/tsukumogami/cellar/internal/errmsg"
	"github.com/tsukumogami/cellar/internal/metadata"
	"github.com/tsukumogami/cellar/internal/registry"
)

// apiCacheTTL is how long a fetched formula record stays fresh on disk
// before the next lookup re-fetches it: CELLAR_METADATA_CACHE_TTL if set,
// else config.DefaultMetadataCacheTTL.
var apiCacheTTL = config.GetMetadataCacheTTL()

// apiCacheMemEntries bounds the in-process LRU layered in front of the
// on-disk cache.
const apiCacheMemEntries = 256

// loadConfig resolves the active Cellar configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.DefaultConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare cellar directories: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	return cfg
}

// newMetadataClient builds the cached metadata client every command uses
// to resolve formula records.
func newMetadataClient(cfg *config.Config) metadata.Client {
	store := registry.NewStore(cfg.APICacheDir)
	client, err := registry.NewCache(metadata.NewHTTPClient(""), store, apiCacheTTL, apiCacheMemEntries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize metadata cache: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	return client
}

// printJSON marshals v to indented JSON on stdout.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		exitWithCode(ExitGeneral)
	}
}

// printError renders err with errmsg's suggestion formatting.
func printError(err error, formula string) {
	var ctx *errmsg.ErrorContext
	if formula != "" {
		ctx = &errmsg.ErrorContext{Formula: formula}
	}
	fmt.Fprintln(os.Stderr, errmsg.Format(err, ctx))
}

// exitCodeFor maps a cellarerr.Kind to the exit code scripts should see.
func exitCodeFor(err error) int {
	var cerr *cellarerr.CellarError
	if !errors.As(err, &cerr) {
		return ExitGeneral
	}
	switch cerr.Kind {
	case cellarerr.KindFormulaNotFound:
		return ExitFormulaNotFound
	case cellarerr.KindDependencyCycle:
		return ExitDependencyFailed
	case cellarerr.KindDownloadFailed, cellarerr.KindChecksumMismatch:
		return ExitNetwork
	case cellarerr.KindExtractionFailed, cellarerr.KindRelocationFailed, cellarerr.KindLinkConflict:
		return ExitInstallFailed
	default:
		return ExitGeneral
	}
}
