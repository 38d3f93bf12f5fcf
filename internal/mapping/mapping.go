// Package mapping manages the lifecycle of PCP port mappings: creation with
// unique index allocation, refresh, expiry, deletion and enumeration, all
// persisted under /pcp/mappings in the store.
package mapping

import (
	"errors"
	"net"
	"time"

	"github.com/plexsphere/pcpd/internal/wire"
)

// Mapping errors.
var (
	ErrNotFound      = errors.New("mapping: not found")
	ErrAlreadyExists = errors.New("mapping: already exists")
	ErrNoResources   = errors.New("mapping: no resources")
	ErrOutOfRange    = errors.New("mapping: end of life out of range")
)

// AutoIndex asks Create to allocate the next free index.
const AutoIndex = -1

// Mapping is one active port-forwarding rule.
type Mapping struct {
	Index        int
	Nonce        wire.Nonce
	InternalIP   net.IP
	InternalPort uint16
	ExternalIP   net.IP
	ExternalPort uint16
	Lifetime     uint32
	StartOfLife  int64 // seconds since epoch
	EndOfLife    int64 // StartOfLife + Lifetime at creation
	Opcode       wire.Opcode
	Protocol     uint8
}

// RemainingLifetime returns the seconds until expiry, saturating at zero.
// A mapping whose end of life has passed is logically expired but stays in
// the table until refreshed, deleted or reaped.
func (m *Mapping) RemainingLifetime(now time.Time) uint32 {
	if m.EndOfLife <= now.Unix() {
		return 0
	}
	return uint32(m.EndOfLife - now.Unix())
}

// Expired reports whether the mapping's end of life has passed.
func (m *Mapping) Expired(now time.Time) bool {
	return m.EndOfLife <= now.Unix()
}
