package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/download"
	"github.com/tsukumogami/cellar/internal/orchestrate"
	"github.com/tsukumogami/cellar/internal/platform"
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall <formula>",
	Aliases: []string{"remove", "rm"},
	Short:   "Remove an installed formula",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		probe, err := platform.DetectProbe()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Failed to detect platform: %v\n", err)
			exitWithCode(ExitGeneral)
		}

		c := cellar.New(cfg)
		name := args[0]

		version, ok, err := c.LinkedVersionOf(name)
		if err != nil {
			printError(err, name)
			exitWithCode(exitCodeFor(err))
		}
		if !ok {
			version, err = c.CurrentVersion(name)
			if err != nil {
				printError(err, name)
				exitWithCode(exitCodeFor(err))
			}
		}

		pool := download.NewPool(cfg.DownloadCacheDir)
		orch := orchestrate.New(cfg, c, pool, probe, nil)
		if err := orch.Uninstall(name, version); err != nil {
			printError(err, name)
			exitWithCode(exitCodeFor(err))
		}
		fmt.Printf("==> Uninstalled %s %s\n", name, version)
	},
}
