package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/bootsync/src/crypto/keys"
	"github.com/mosaicnetworks/bootsync/src/net"
	"github.com/mosaicnetworks/bootsync/src/node"
	"github.com/mosaicnetworks/bootsync/src/peers"
	"github.com/mosaicnetworks/bootsync/src/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a bootsync node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNode(cmd *cobra.Command, args []string) error {
	conf := &_config.Node
	logger := conf.Logger()

	if err := conf.Validate(); err != nil {
		return err
	}

	key, err := keys.NewSimpleKeyfile(conf.Keyfile()).ReadKey()
	if err != nil {
		logger.Error("Cannot read private key: ", err)
		return err
	}

	candidates, err := bootstrapPeers()
	if err != nil {
		logger.Error("Cannot read bootstrap peers: ", err)
		return err
	}

	dialer, err := node.NewDialer(conf)
	if err != nil {
		return err
	}

	var layer net.StreamLayer
	if !conf.NoServer {
		if layer, err = node.NewStreamLayer(conf, logger.WithField("component", "transport")); err != nil {
			logger.Error("Cannot listen: ", err)
			return err
		}
	}

	n := node.NewNode(conf, node.NewValidator(key, conf.Moniker), layer, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	//Relay SIGINT and SIGTERM
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigintCh
		logger.Debug("Reveived signal")
		cancel()
	}()

	if err := n.Init(ctx, candidates); err != nil {
		logger.Error("Cannot initialize node: ", err)
		n.Shutdown()
		return err
	}

	if !conf.NoServer {
		if err := n.Serve(); err != nil {
			n.Shutdown()
			return err
		}
	}

	if !conf.NoService {
		srv := service.NewService(conf.ServiceAddr, n, logger.WithField("prefix", "service"))
		go srv.Serve()
	}

	n.Run(ctx, _config.StatsInterval)

	return nil
}

// bootstrapPeers returns the candidates given on the command line, or else
// those of the peers file. A missing peers file means no bootstrap.
func bootstrapPeers() ([]peers.Peer, error) {
	conf := &_config.Node

	var ps *peers.PeerSet
	if conf.BootstrapPeers != "" {
		ps = peers.NewPeerSetFromAddrs(conf.BootstrapPeers)
	} else {
		var err error
		ps, err = peers.Load(conf.PeersPath())
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
	}
	if ps == nil {
		return nil, nil
	}

	res := make([]peers.Peer, 0, ps.Len())
	for _, p := range ps.Peers {
		res = append(res, *p)
	}
	return res, nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	c := &_config.Node

	cmd.Flags().String("datadir", c.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", c.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", c.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", c.Moniker, "Optional name")
	cmd.Flags().Duration("stats-interval", _config.StatsInterval, "Time between two stats log lines")

	// Network
	cmd.Flags().StringP("listen", "l", c.BindAddr, "Listen IP:Port for the bootstrap server")
	cmd.Flags().StringP("advertise", "a", c.AdvertiseAddr, "Advertise IP:Port for the bootstrap server")
	cmd.Flags().String("transport", c.Transport, "tcp or quic")
	cmd.Flags().Bool("no-server", c.NoServer, "Do not serve the state to other nodes")
	cmd.Flags().String("service-listen", c.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", c.NoService, "Disable HTTP service")
	cmd.Flags().Duration("message-timeout", c.MessageTimeout, "Timeout of a single message")
	cmd.Flags().Duration("session-timeout", c.SessionTimeout, "Timeout of a whole bootstrap session")
	cmd.Flags().Duration("dial-timeout", c.DialTimeout, "Timeout of connection attempts")
	cmd.Flags().Int("max-frame-size", c.MaxFrameSize, "Largest frame accepted from the network")
	cmd.Flags().Int("send-retries", c.SendRetries, "Number of times a timed out write is resumed")

	// Bootstrap client
	cmd.Flags().StringP("bootstrap-peers", "b", c.BootstrapPeers, "Comma separated IP:Port of bootstrap servers")
	cmd.Flags().String("peers-dir", c.PeersDir, "Directory of peers.json or peers.toml (defaults to datadir)")
	cmd.Flags().Duration("max-clock-delta", c.MaxClockDelta, "Tolerated offset with the clock of a server")
	cmd.Flags().Int("attempts-per-peer", c.AttemptsPerPeer, "Consecutive attempts on a server with transient failures")
	cmd.Flags().Int("max-attempts", c.MaxAttempts, "Attempts before giving up")
	cmd.Flags().Duration("backoff-base", c.BackoffBase, "Pause after the first failed attempt")
	cmd.Flags().Duration("backoff-max", c.BackoffMax, "Longest pause between attempts")

	// Bootstrap server
	cmd.Flags().Int("max-batch-items", c.MaxBatchItems, "Max items in a batch")
	cmd.Flags().Int("max-batch-bytes", c.MaxBatchBytes, "Max bytes in a batch")
	cmd.Flags().Int("provider-retries", c.ProviderRetries, "Number of times a failed batch read is retried")
	cmd.Flags().Duration("provider-retry-pause", c.ProviderRetryPause, "Pause before retrying a batch read")
	cmd.Flags().Int("max-sessions", c.MaxSessions, "Max concurrent bootstrap sessions")
	cmd.Flags().Duration("per-ip-cooldown", c.PerIPCooldown, "Min interval between two sessions from one IP")
	cmd.Flags().Duration("batch-pause", c.BatchPause, "Pause between two batches")

	// Store
	cmd.Flags().Bool("store", c.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", c.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Int("history-length", c.HistoryLength, "Number of finalized slots kept to serve state deltas")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Node.SetDataDir(_config.Node.DataDir)

	c := &_config.Node
	logFields := logrus.Fields{
		"DataDir":         c.DataDir,
		"BindAddr":        c.BindAddr,
		"AdvertiseAddr":   c.AdvertiseAddr,
		"Transport":       c.Transport,
		"NoServer":        c.NoServer,
		"ServiceAddr":     c.ServiceAddr,
		"NoService":       c.NoService,
		"BootstrapPeers":  c.BootstrapPeers,
		"PeersDir":        c.PeersPath(),
		"LogLevel":        c.LogLevel,
		"Moniker":         c.Moniker,
		"MessageTimeout":  c.MessageTimeout,
		"SessionTimeout":  c.SessionTimeout,
		"MaxBatchItems":   c.MaxBatchItems,
		"MaxBatchBytes":   c.MaxBatchBytes,
		"MaxClockDelta":   c.MaxClockDelta,
		"AttemptsPerPeer": c.AttemptsPerPeer,
		"MaxAttempts":     c.MaxAttempts,
		"MaxSessions":     c.MaxSessions,
		"PerIPCooldown":   c.PerIPCooldown,
		"Store":           c.Store,
	}

	if c.Store {
		logFields["DatabaseDir"] = c.DatabaseDir
	}

	c.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/bootsync.toml (.json, .yaml also work)
	viper.SetConfigName("bootsync")           // name of config file (without extension)
	viper.AddConfigPath(_config.Node.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Node.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Node.Logger().Debugf("No config file found in: %s", _config.Node.DataDir)
	} else {
		return fmt.Errorf("reading config file: %w", err)
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
