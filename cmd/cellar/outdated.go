package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/outdated"
)

var outdatedJSON bool

var outdatedCmd = &cobra.Command{
	Use:   "outdated",
	Short: "List installed formulae with a newer upstream version",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		c := cellar.New(cfg)
		client := newMetadataClient(cfg)

		formulae, err := outdated.New(c, client).Outdated(globalCtx)
		if err != nil {
			printError(err, "")
			exitWithCode(exitCodeFor(err))
		}

		if outdatedJSON {
			printJSON(formulae)
			return
		}

		if len(formulae) == 0 {
			fmt.Println("No outdated formulae.")
			return
		}
		for _, f := range formulae {
			fmt.Printf("%s (%s -> %s)\n", f.Name, f.InstalledVersion, f.CurrentVersion)
		}
	},
}

func init() {
	outdatedCmd.Flags().BoolVar(&outdatedJSON, "json", false, "output as JSON")
}
