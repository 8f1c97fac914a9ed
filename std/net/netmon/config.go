package netmon

import (
	"fmt"

	"github.com/named-data/ndnnet/std/log"
	"github.com/named-data/ndnnet/std/net/netlink"
	"github.com/named-data/ndnnet/std/utils/toolutils"
)

// Backend names accepted in Config.Monitor.Backend.
const (
	BackendAuto    = "auto"
	BackendNetlink = "netlink"
	BackendNoop    = "noop"
)

// Config represents the configuration of a network monitor.
type Config struct {
	// Logging level
	LogLevel string `json:"log_level"`
	// Output log to file
	LogFile string `json:"log_file"`

	// Netlink socket options
	Netlink netlink.ConnConfig `json:"netlink"`

	Monitor struct {
		// Backend to use: auto, netlink or noop.
		// auto picks the platform backend and falls back to noop.
		Backend string `json:"backend"`
	} `json:"monitor"`

	Metrics struct {
		// Listen address of the Prometheus exporter, disabled if empty
		Listen string `json:"listen"`
	} `json:"metrics"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	c := &Config{}
	c.LogLevel = "INFO"
	c.LogFile = ""
	c.Netlink = netlink.DefaultConnConfig()
	c.Monitor.Backend = BackendAuto
	c.Metrics.Listen = ""
	return c
}

// ReadConfig reads a yaml configuration file on top of the defaults.
func ReadConfig(file string) (*Config, error) {
	c := DefaultConfig()
	if err := toolutils.ReadYaml(c, file); err != nil {
		return nil, err
	}
	if err := c.Parse(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse validates the configuration.
func (c *Config) Parse() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	c.LogLevel = level.String()

	switch c.Monitor.Backend {
	case "":
		c.Monitor.Backend = BackendAuto
	case BackendAuto, BackendNetlink, BackendNoop:
	default:
		return fmt.Errorf("invalid monitor backend %q", c.Monitor.Backend)
	}

	if c.Netlink.RecvBufferSize < 0 {
		return fmt.Errorf("invalid netlink recv_buffer_size %d", c.Netlink.RecvBufferSize)
	}
	return nil
}
