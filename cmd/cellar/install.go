package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/download"
	"github.com/tsukumogami/cellar/internal/orchestrate"
	"github.com/tsukumogami/cellar/internal/platform"
	"github.com/tsukumogami/cellar/internal/progress"
	"github.com/tsukumogami/cellar/internal/resolver"
)

var installForce bool
var installBrewFallback bool
var installIncludeBuildDeps bool

var installCmd = &cobra.Command{
	Use:   "install <formula>...",
	Short: "Install one or more formulae",
	Long: `Install resolves each formula's dependency tree, downloads the
matching bottle for this platform, extracts and relocates it, and links
it into the prefix.

Examples:
  cellar install jq
  cellar install jq oniguruma`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		probe, err := platform.DetectProbe()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Failed to detect platform: %v\n", err)
			exitWithCode(ExitGeneral)
		}

		c := cellar.New(cfg)
		client := newMetadataClient(cfg)
		res := resolver.New(client, c, probe)

		plan, err := res.Resolve(globalCtx, args, resolver.Options{
			IncludeBuildDeps:  installIncludeBuildDeps,
			AllowBrewFallback: installBrewFallback,
		})
		if err != nil {
			printError(err, "")
			exitWithCode(exitCodeFor(err))
		}

		var poolOpts []download.Option
		if progress.ShouldShowProgress() {
			poolOpts = append(poolOpts, download.WithProgress(newInstallProgressFunc()))
		}
		pool := download.NewPool(cfg.DownloadCacheDir, poolOpts...)
		orch := orchestrate.New(cfg, c, pool, probe, nil)

		opts := orchestrate.Options{Force: installForce, BrewFallback: installBrewFallback}
		if err := orch.Install(globalCtx, plan, opts); err != nil {
			printError(err, "")
			exitWithCode(exitCodeFor(err))
		}

		for _, n := range plan {
			if n.Classification == resolver.AlreadyInstalledAtDesired {
				continue
			}
			fmt.Printf("==> Installed %s %s\n", n.Name, n.DesiredVersion)
		}
	},
}

func init() {
	installCmd.Flags().BoolVar(&installForce, "force", false, "overwrite conflicting links")
	installCmd.Flags().BoolVar(&installBrewFallback, "brew-fallback", false, "shell out to a host `brew install` for formulae with no bottle")
	installCmd.Flags().BoolVar(&installIncludeBuildDeps, "include-build-deps", false, "also resolve build-time dependencies")
}

// newInstallProgressFunc returns a download.ProgressFunc that renders a
// progress.Writer per in-flight request, keyed by display name, so
// several parallel downloads each get their own bar's worth of state
// even though they interleave writes to the same terminal.
func newInstallProgressFunc() download.ProgressFunc {
	var mu sync.Mutex
	bars := make(map[string]*progress.Writer)

	return func(req download.Request, bytesRead, total int64) {
		mu.Lock()
		pw, ok := bars[req.DisplayName]
		if !ok {
			fmt.Fprintf(os.Stderr, "==> Downloading %s\n", req.DisplayName)
			pw = progress.NewWriter(io.Discard, total, os.Stderr)
			bars[req.DisplayName] = pw
		}
		mu.Unlock()

		pw.Update(bytesRead, total)
		if total > 0 && bytesRead >= total {
			pw.Finish()
		}
	}
}
