package main

import (
	"os"

	"github.com/mosaicnetworks/bootsync/src/cmd/bootsync/commands"
)

func main() {
	rootCmd := commands.RootCmd

	rootCmd.AddCommand(
		commands.NewKeygenCmd(),
		commands.NewRunCmd(),
		commands.NewVersionCmd(),
	)

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
