package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestDefaultConfigIsValid(t *testing.T) {
	conf := NewDefaultConfig()
	if err := conf.Validate(); err != nil {
		t.Fatalf("err: %v", err)
	}

	sc := conf.ServerConfig()
	if sc.MaxBatchItems != DefaultMaxBatchItems || sc.PerIPCooldown != DefaultPerIPCooldown {
		t.Fatalf("server config: %+v", sc)
	}
	cc := conf.ClientConfig()
	if cc.AttemptsPerPeer != DefaultAttemptsPerPeer || cc.Limits != conf.Limits {
		t.Fatalf("client config: %+v", cc)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"transport", func(c *Config) { c.Transport = "udp" }, "unknown transport"},
		{"batch", func(c *Config) { c.MaxBatchItems = 0 }, "batch limits"},
		{"frame", func(c *Config) { c.MaxFrameSize = c.MaxBatchBytes }, "max-frame-size"},
		{"attempts", func(c *Config) { c.MaxAttempts = 0 }, "attempt counts"},
		{"threads", func(c *Config) { c.Limits.ThreadCount = 0 }, "thread count"},
	}

	for _, tc := range cases {
		conf := NewDefaultConfig()
		tc.modify(conf)
		err := conf.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
			t.Errorf("%s: expected error containing %q, got %v", tc.name, tc.errMsg, err)
		}
	}
}

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/bootsync")

	if conf.DatabaseDir != filepath.Join("/tmp/bootsync", DefaultBadgerFile) {
		t.Fatalf("DatabaseDir should follow DataDir, got %s", conf.DatabaseDir)
	}
	if conf.PeersPath() != "/tmp/bootsync" {
		t.Fatalf("PeersPath should default to DataDir, got %s", conf.PeersPath())
	}

	conf.DatabaseDir = "/data/db"
	conf.SetDataDir("/tmp/other")
	if conf.DatabaseDir != "/data/db" {
		t.Fatalf("an explicit DatabaseDir should be kept, got %s", conf.DatabaseDir)
	}
}

func TestLogFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "bootsync-config")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = filepath.Join(dir, "bootsync.log")

	logger := conf.Logger()
	if logger.Logger.Level != logrus.InfoLevel {
		t.Fatalf("level %s", logger.Logger.Level)
	}
	logger.WithField("slot", "3:1").Info("written to file")

	data, err := os.ReadFile(conf.LogFile)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file content: %s", data)
	}
}

func TestTestConfig(t *testing.T) {
	conf := NewTestConfig(t, logrus.DebugLevel)
	if conf.PerIPCooldown != 0 || conf.MessageTimeout != time.Second {
		t.Fatalf("test config: %+v", conf)
	}
	if err := conf.Validate(); err != nil {
		t.Fatalf("err: %v", err)
	}
	conf.Logger().Debug("routed to t.Log")
}
