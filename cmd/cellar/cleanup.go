package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/cleanup"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove superseded formula versions",
	Long: `cleanup removes every installed keg that is neither the linked
version nor the newest version of its formula, except kegs another
installed formula's receipt still declares as a runtime dependency.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		c := cellar.New(cfg)
		cleaner := cleanup.New(c)

		removals, err := cleaner.Clean(cleanupDryRun)
		if err != nil {
			printError(err, "")
			exitWithCode(exitCodeFor(err))
		}

		if len(removals) == 0 {
			fmt.Println("Nothing to clean up.")
			return
		}

		var total int64
		for _, r := range removals {
			verb := "Removing"
			if cleanupDryRun {
				verb = "Would remove"
			}
			fmt.Printf("%s %s %s (%s)\n", verb, r.Name, r.Version, r.HumanSize())
			total += r.Size
		}
		fmt.Printf("==> %d kegs, %s reclaimed\n", len(removals), humanize.Bytes(uint64(total)))

		if !cleanupDryRun {
			if free, err := cleanup.DiskFree(cfg.Prefix); err == nil {
				fmt.Printf("==> %s available\n", humanize.Bytes(free))
			}
		}
	},
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupDryRun, "dry-run", "n", false, "show what would be removed without removing it")
}
