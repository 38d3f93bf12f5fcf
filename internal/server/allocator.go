package server

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/plexsphere/pcpd/internal/mapping"
)

// ErrNoPorts is returned by an Allocator when no external port is available.
var ErrNoPorts = errors.New("server: no external ports available")

// Allocator chooses the external endpoint for a new mapping. The NAT
// allocation policy lives behind this interface; tests and deployments
// without a real NAT substitute a fixed allocator.
type Allocator interface {
	Allocate(protocol uint8, internalIP net.IP, internalPort uint16, suggestedIP net.IP, suggestedPort uint16) (net.IP, uint16, error)
}

// Default external port range handed out by the static allocator.
const (
	DefaultPortMin = 32768
	DefaultPortMax = 65535
)

// AllocatorConfig configures the static allocator.
type AllocatorConfig struct {
	// ExternalIP is the address external endpoints are allocated on.
	// Default: "0.0.0.0" (placeholder; deployments set the NAT's
	// public address).
	ExternalIP string `yaml:"external_ip"`

	// PortMin and PortMax bound the allocatable external port range.
	// Defaults: 32768..65535
	PortMin uint16 `yaml:"port_min"`
	PortMax uint16 `yaml:"port_max"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AllocatorConfig) ApplyDefaults() {
	if c.ExternalIP == "" {
		c.ExternalIP = "0.0.0.0"
	}
	if c.PortMin == 0 {
		c.PortMin = DefaultPortMin
	}
	if c.PortMax == 0 {
		c.PortMax = DefaultPortMax
	}
}

// Validate checks that configuration values are acceptable.
func (c *AllocatorConfig) Validate() error {
	if net.ParseIP(c.ExternalIP) == nil {
		return fmt.Errorf("server: config: invalid external_ip %q", c.ExternalIP)
	}
	if c.PortMin > c.PortMax {
		return fmt.Errorf("server: config: port_min %d above port_max %d", c.PortMin, c.PortMax)
	}
	return nil
}

// StaticAllocator hands out ports on one fixed external address. A
// client-suggested port inside the range is honored when free; otherwise
// allocation proceeds round-robin from a cursor, skipping ports already
// bound by a live mapping of the same protocol.
type StaticAllocator struct {
	externalIP net.IP
	portMin    uint16
	portMax    uint16
	mappings   *mapping.Adapter

	mu   sync.Mutex
	next uint16
}

// NewStaticAllocator creates a StaticAllocator from its config. The adapter
// is consulted for ports already in use.
func NewStaticAllocator(cfg AllocatorConfig, mappings *mapping.Adapter) *StaticAllocator {
	cfg.ApplyDefaults()
	return &StaticAllocator{
		externalIP: net.ParseIP(cfg.ExternalIP).To16(),
		portMin:    cfg.PortMin,
		portMax:    cfg.PortMax,
		mappings:   mappings,
		next:       cfg.PortMin,
	}
}

// Allocate implements Allocator.
func (a *StaticAllocator) Allocate(protocol uint8, _ net.IP, _ uint16, _ net.IP, suggestedPort uint16) (net.IP, uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if suggestedPort >= a.portMin && suggestedPort <= a.portMax && !a.portInUse(suggestedPort, protocol) {
		return a.externalIP, suggestedPort, nil
	}

	span := int(a.portMax) - int(a.portMin) + 1
	for i := 0; i < span; i++ {
		port := a.next
		if a.next == a.portMax {
			a.next = a.portMin
		} else {
			a.next++
		}
		if !a.portInUse(port, protocol) {
			return a.externalIP, port, nil
		}
	}
	return nil, 0, ErrNoPorts
}

func (a *StaticAllocator) portInUse(port uint16, protocol uint8) bool {
	for _, m := range a.mappings.List() {
		if m.ExternalPort == port && (m.Protocol == protocol || m.Protocol == 0 || protocol == 0) {
			return true
		}
	}
	return false
}
