package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for bootsync
var RootCmd = &cobra.Command{
	Use:              "bootsync",
	Short:            "bootsync ledger state bootstrap",
	TraverseChildren: true,
}
