// Package server implements the PCP request dispatcher: a UDP loop that
// decodes requests, applies mapping-table logic gated on the live
// configuration, and sends binary responses.
package server

import (
	"fmt"
	"net"
	"time"

	"github.com/plexsphere/pcpd/internal/wire"
)

// DefaultListenAddr is the default UDP listen address (the well-known PCP
// server port on all interfaces).
var DefaultListenAddr = fmt.Sprintf(":%d", wire.ServerPort)

// DefaultSweepInterval is the default period between expired-mapping sweeps.
const DefaultSweepInterval = 60 * time.Second

// Config holds the dispatcher configuration.
type Config struct {
	// ListenAddr is the UDP address to serve on.
	// Default: ":5351"
	ListenAddr string `yaml:"listen_addr"`

	// SweepInterval is the period between expired-mapping sweeps.
	// Negative disables the reaper, leaving expiry fully lazy.
	// Default: 60s
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Allocator configures the built-in external endpoint allocator.
	Allocator AllocatorConfig `yaml:"allocator"`
}

// ApplyDefaults sets default values for zero-valued fields. A disabled
// reaper must be expressed as a negative SweepInterval so a zero-valued
// Config gets the default sweep.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	c.Allocator.ApplyDefaults()
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if _, err := net.ResolveUDPAddr("udp", c.ListenAddr); err != nil {
		return fmt.Errorf("server: config: invalid listen_addr %q: %w", c.ListenAddr, err)
	}
	return c.Allocator.Validate()
}
