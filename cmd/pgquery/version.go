package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/pgquery/internal/version"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if versionShort {
			fmt.Println(version.Short())
			return
		}
		fmt.Println(version.Info())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
}
