package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/download"
	"github.com/tsukumogami/cellar/internal/orchestrate"
	"github.com/tsukumogami/cellar/internal/platform"
	"github.com/tsukumogami/cellar/internal/resolver"
)

var reinstallCmd = &cobra.Command{
	Use:   "reinstall <formula>",
	Short: "Uninstall and reinstall the linked version of a formula",
	Args:  cobra.ExactArgs(1),
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
		name := args[0]

		plan, err := res.Resolve(globalCtx, []string{name}, resolver.Options{})
		if err != nil {
			printError(err, name)
			exitWithCode(exitCodeFor(err))
		}

		pool := download.NewPool(cfg.DownloadCacheDir)
		orch := orchestrate.New(cfg, c, pool, probe, nil)
		if err := orch.Reinstall(globalCtx, name, plan, orchestrate.Options{Force: true}); err != nil {
			printError(err, name)
			exitWithCode(exitCodeFor(err))
		}
		fmt.Printf("==> Reinstalled %s\n", name)
	},
}
