package commands

import (
	"fmt"

	"github.com/mosaicnetworks/bootsync/src/messages"
	"github.com/mosaicnetworks/bootsync/src/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd produces a VersionCmd which shows the version
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Version)
			fmt.Printf("protocol: %d\n", messages.ProtocolVersion)
		},
	}
}
