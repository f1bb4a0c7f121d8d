package commands

import (
	"time"

	"github.com/mosaicnetworks/bootsync/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Node config.Config `mapstructure:",squash"`

	// StatsInterval is the interval between two stats log lines.
	StatsInterval time.Duration `mapstructure:"stats-interval"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Node:          *config.NewDefaultConfig(),
		StatsInterval: time.Minute,
	}
}
