package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cellar/internal/cellar"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed formulae",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		c := cellar.New(cfg)

		kegs, err := c.ListInstalled()
		if err != nil {
			printError(err, "")
			exitWithCode(exitCodeFor(err))
		}

		sort.Slice(kegs, func(i, j int) bool {
			if kegs[i].Name != kegs[j].Name {
				return kegs[i].Name < kegs[j].Name
			}
			return kegs[i].Version < kegs[j].Version
		})

		if listJSON {
			printJSON(kegs)
			return
		}

		if len(kegs) == 0 {
			fmt.Println("No formulae installed.")
			return
		}
		for _, keg := range kegs {
			linked, ok, err := c.LinkedVersionOf(keg.Name)
			marker := ""
			if err == nil && ok && linked == keg.Version {
				marker = " (linked)"
			}
			fmt.Printf("%s %s%s\n", keg.Name, keg.Version, marker)
		}
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}
