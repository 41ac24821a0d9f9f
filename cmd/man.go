package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var manCmd = &cobra.Command{
	Use:    "man <dir>",
	Short:  "Generate the man pages into dir.",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(args[0], 0755); err != nil {
			return fmt.Errorf("couldn't create %s: %w", args[0], err)
		}

		header := &doc.GenManHeader{
			Title:   "XORP-FEA",
			Section: "8",
			Source:  "xorp-fea " + builtCommit,
		}
		return doc.GenManTree(rootCmd, header, args[0])
	},
}

func init() {
	rootCmd.AddCommand(manCmd)
}
