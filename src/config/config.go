package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/bootsync/src/bootstrap"
	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/models"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultGraphFile is the default name of the file where the bootstrapped
	// consensus graph is exported.
	DefaultGraphFile = "graph.json"
)

// Transports.
const (
	TCP  = "tcp"
	QUIC = "quic"
)

// Default configuration values.
const (
	DefaultLogLevel           = "debug"
	DefaultBindAddr           = "127.0.0.1:31245"
	DefaultTransport          = TCP
	DefaultMessageTimeout     = 10 * time.Second
	DefaultSessionTimeout     = 15 * time.Minute
	DefaultDialTimeout        = 5 * time.Second
	DefaultMaxBatchItems      = 1000
	DefaultMaxBatchBytes      = 1 << 20
	DefaultMaxFrameSize       = 16 << 20
	DefaultMaxClockDelta      = 5 * time.Second
	DefaultAttemptsPerPeer    = 3
	DefaultMaxAttempts        = 20
	DefaultBackoffBase        = 500 * time.Millisecond
	DefaultBackoffMax         = 30 * time.Second
	DefaultSendRetries        = 2
	DefaultProviderRetries    = 3
	DefaultProviderRetryPause = 200 * time.Millisecond
	DefaultMaxSessions        = 16
	DefaultPerIPCooldown      = 10 * time.Second
	DefaultBatchPause         = 0
	DefaultStore              = false
	DefaultHistoryLength      = 10000
	DefaultServiceAddr        = "127.0.0.1:8000"
)

// Config contains all the configuration properties of a bootsync node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of the log output.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where the bootstrap server listens.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to
	// other nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Transport is the stream layer, "tcp" or "quic".
	Transport string `mapstructure:"transport"`

	// BootstrapPeers is a comma separated list of servers to bootstrap from.
	// When empty, the list is read from peers.json or peers.toml in
	// PeersDir.
	BootstrapPeers string `mapstructure:"bootstrap-peers"`

	// PeersDir is the directory holding the bootstrap list file. It defaults
	// to DataDir.
	PeersDir string `mapstructure:"peers-dir"`

	// NoServer disables the bootstrap server.
	NoServer bool `mapstructure:"no-server"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	MessageTimeout time.Duration `mapstructure:"message-timeout"`
	SessionTimeout time.Duration `mapstructure:"session-timeout"`
	DialTimeout    time.Duration `mapstructure:"dial-timeout"`

	// MaxBatchItems and MaxBatchBytes bound the batches sent by the server.
	MaxBatchItems int `mapstructure:"max-batch-items"`
	MaxBatchBytes int `mapstructure:"max-batch-bytes"`

	// MaxFrameSize is the largest frame accepted from the network.
	MaxFrameSize int `mapstructure:"max-frame-size"`

	// MaxClockDelta is the tolerated offset with the clock of a server.
	MaxClockDelta time.Duration `mapstructure:"max-clock-delta"`

	AttemptsPerPeer int           `mapstructure:"attempts-per-peer"`
	MaxAttempts     int           `mapstructure:"max-attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff-base"`
	BackoffMax      time.Duration `mapstructure:"backoff-max"`

	SendRetries        int           `mapstructure:"send-retries"`
	ProviderRetries    int           `mapstructure:"provider-retries"`
	ProviderRetryPause time.Duration `mapstructure:"provider-retry-pause"`

	// MaxSessions caps concurrent server sessions.
	MaxSessions int `mapstructure:"max-sessions"`

	// PerIPCooldown is the minimum interval between two sessions from the same
	// IP address.
	PerIPCooldown time.Duration `mapstructure:"per-ip-cooldown"`

	// BatchPause throttles server sessions.
	BatchPause time.Duration `mapstructure:"batch-pause"`

	// Store activates persistant storage of the final state.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// HistoryLength is the number of finalized slots whose changes are kept
	// to serve state deltas.
	HistoryLength int `mapstructure:"history-length"`

	// Limits bounds the values accepted from the network.
	Limits models.Limits `mapstructure:"limits"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           DefaultLogLevel,
		BindAddr:           DefaultBindAddr,
		Transport:          DefaultTransport,
		MessageTimeout:     DefaultMessageTimeout,
		SessionTimeout:     DefaultSessionTimeout,
		DialTimeout:        DefaultDialTimeout,
		MaxBatchItems:      DefaultMaxBatchItems,
		MaxBatchBytes:      DefaultMaxBatchBytes,
		MaxFrameSize:       DefaultMaxFrameSize,
		MaxClockDelta:      DefaultMaxClockDelta,
		AttemptsPerPeer:    DefaultAttemptsPerPeer,
		MaxAttempts:        DefaultMaxAttempts,
		BackoffBase:        DefaultBackoffBase,
		BackoffMax:         DefaultBackoffMax,
		SendRetries:        DefaultSendRetries,
		ProviderRetries:    DefaultProviderRetries,
		ProviderRetryPause: DefaultProviderRetryPause,
		MaxSessions:        DefaultMaxSessions,
		PerIPCooldown:      DefaultPerIPCooldown,
		BatchPause:         DefaultBatchPause,
		Store:              DefaultStore,
		DatabaseDir:        DefaultDatabaseDir(),
		HistoryLength:      DefaultHistoryLength,
		ServiceAddr:        DefaultServiceAddr,
		Limits:             models.DefaultLimits(),
	}

	return config
}

// NewTestConfig returns a config object with short timeouts, no per-IP
// cooldown and a special logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.BindAddr = "127.0.0.1:0"
	config.MessageTimeout = time.Second
	config.SessionTimeout = 10 * time.Second
	config.DialTimeout = time.Second
	config.MaxBatchItems = 10
	config.BackoffBase = 10 * time.Millisecond
	config.BackoffMax = 100 * time.Millisecond
	config.ProviderRetryPause = 10 * time.Millisecond
	config.PerIPCooldown = 0
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// GraphFile returns the full path of the consensus graph export.
func (c *Config) GraphFile() string {
	return filepath.Join(c.DataDir, DefaultGraphFile)
}

// PeersPath returns the directory of the bootstrap list file.
func (c *Config) PeersPath() string {
	if c.PeersDir != "" {
		return c.PeersDir
	}
	return c.DataDir
}

// Validate checks the values that cannot be corrected silently.
func (c *Config) Validate() error {
	if c.Transport != TCP && c.Transport != QUIC {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.MaxBatchItems <= 0 || c.MaxBatchBytes <= 0 {
		return fmt.Errorf("batch limits must be positive")
	}
	if c.MaxBatchBytes >= c.MaxFrameSize {
		return fmt.Errorf("max-batch-bytes (%d) must be smaller than max-frame-size (%d)",
			c.MaxBatchBytes, c.MaxFrameSize)
	}
	if c.AttemptsPerPeer <= 0 || c.MaxAttempts <= 0 {
		return fmt.Errorf("attempt counts must be positive")
	}
	if c.Limits.ThreadCount == 0 {
		return fmt.Errorf("thread count must be positive")
	}
	return nil
}

// ServerConfig returns the settings of the bootstrap server.
func (c *Config) ServerConfig() bootstrap.ServerConfig {
	return bootstrap.ServerConfig{
		MessageTimeout:     c.MessageTimeout,
		SessionTimeout:     c.SessionTimeout,
		MaxBatchItems:      c.MaxBatchItems,
		MaxBatchBytes:      c.MaxBatchBytes,
		MaxFrameSize:       c.MaxFrameSize,
		SendRetries:        c.SendRetries,
		ProviderRetries:    c.ProviderRetries,
		ProviderRetryPause: c.ProviderRetryPause,
		MaxSessions:        c.MaxSessions,
		PerIPCooldown:      c.PerIPCooldown,
		BatchPause:         c.BatchPause,
		Limits:             c.Limits,
	}
}

// ClientConfig returns the settings of the bootstrap client.
func (c *Config) ClientConfig() bootstrap.ClientConfig {
	return bootstrap.ClientConfig{
		MessageTimeout:  c.MessageTimeout,
		SessionTimeout:  c.SessionTimeout,
		DialTimeout:     c.DialTimeout,
		MaxFrameSize:    c.MaxFrameSize,
		SendRetries:     c.SendRetries,
		MaxClockDelta:   c.MaxClockDelta,
		AttemptsPerPeer: c.AttemptsPerPeer,
		MaxAttempts:     c.MaxAttempts,
		BackoffBase:     c.BackoffBase,
		BackoffMax:      c.BackoffMax,
		Limits:          c.Limits,
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "bootsync".
// When LogFile is set, entries are also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, level := range logrus.AllLevels {
				pathMap[level] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "bootsync")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config based
// on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Bootsync")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Bootsync")
		} else {
			return filepath.Join(home, ".bootsync")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
