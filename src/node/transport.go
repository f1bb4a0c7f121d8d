package node

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/bootsync/src/config"
	"github.com/mosaicnetworks/bootsync/src/net"
)

//NewDialer returns the dialer of the configured transport.
func NewDialer(conf *config.Config) (net.Dialer, error) {
	switch conf.Transport {
	case config.TCP:
		return net.TCPDialer{}, nil
	case config.QUIC:
		return net.QUICDialer{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", conf.Transport)
	}
}

//NewStreamLayer listens on the configured bind address with the configured
//transport.
func NewStreamLayer(conf *config.Config, logger *logrus.Entry) (net.StreamLayer, error) {
	switch conf.Transport {
	case config.TCP:
		layer, err := net.NewTCPStreamLayer(conf.BindAddr, conf.AdvertiseAddr)
		if err != nil {
			return nil, err
		}
		return layer, nil
	case config.QUIC:
		layer, err := net.NewQUICStreamLayer(conf.BindAddr, conf.AdvertiseAddr, conf.DialTimeout, logger)
		if err != nil {
			return nil, err
		}
		return layer, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", conf.Transport)
	}
}
