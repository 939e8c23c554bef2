package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigreer/devhistory/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("devhistory", version.Version)
	},
}
