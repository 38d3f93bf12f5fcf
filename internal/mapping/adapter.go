package mapping

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/plexsphere/pcpd/internal/store"
	"github.com/plexsphere/pcpd/internal/wire"
)

// Store paths and field keys for persisted mappings.
const (
	mappingsPath = "/pcp/mappings"

	keyIndex        = "index"
	keyNonce1       = "mapping_nonce_1"
	keyNonce2       = "mapping_nonce_2"
	keyNonce3       = "mapping_nonce_3"
	keyInternalIP   = "internal_ip"
	keyInternalPort = "internal_port"
	keyExternalIP   = "external_ip"
	keyExternalPort = "external_port"
	keyLifetime     = "lifetime"
	keyStartOfLife  = "start_of_life"
	keyEndOfLife    = "end_of_life"
	keyOpcode       = "opcode"
	keyProtocol     = "protocol"
)

// DefaultMaxIndex is the largest allocatable mapping index.
const DefaultMaxIndex = math.MaxInt32

// refreshSkewTolerance is the clock-skew window, in seconds, accepted
// between a caller-supplied end of life and the locally computed one.
const refreshSkewTolerance = 3

// Adapter performs mapping CRUD against the store. Compound operations
// (index allocation plus insert, refresh field pairs) are serialized under
// one mutex so concurrent creators cannot race the check-then-insert.
type Adapter struct {
	st       *store.Store
	maxIndex int
	logger   *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewAdapter creates an Adapter. maxIndex bounds allocatable indices;
// zero or negative means DefaultMaxIndex.
func NewAdapter(st *store.Store, maxIndex int, logger *slog.Logger) *Adapter {
	if maxIndex <= 0 {
		maxIndex = DefaultMaxIndex
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		st:       st,
		maxIndex: maxIndex,
		logger:   logger.With("component", "mapping"),
		now:      time.Now,
	}
}

func indexPath(index int) string {
	return fmt.Sprintf("%s/%d", mappingsPath, index)
}

// Find looks up a mapping by index. Absence is not an error.
func (a *Adapter) Find(index int) (*Mapping, bool) {
	path := indexPath(index)
	if _, ok := a.st.GetInt(path, keyIndex); !ok {
		return nil, false
	}
	m := &Mapping{Index: index}
	m.Nonce[0] = uint32(a.getInt(path, keyNonce1))
	m.Nonce[1] = uint32(a.getInt(path, keyNonce2))
	m.Nonce[2] = uint32(a.getInt(path, keyNonce3))
	m.InternalIP = a.getIP(path, keyInternalIP)
	m.InternalPort = uint16(a.getInt(path, keyInternalPort))
	m.ExternalIP = a.getIP(path, keyExternalIP)
	m.ExternalPort = uint16(a.getInt(path, keyExternalPort))
	m.Lifetime = uint32(a.getInt(path, keyLifetime))
	m.StartOfLife = a.getInt(path, keyStartOfLife)
	m.EndOfLife = a.getInt(path, keyEndOfLife)
	m.Opcode = wire.Opcode(a.getInt(path, keyOpcode))
	m.Protocol = uint8(a.getInt(path, keyProtocol))
	return m, true
}

// FindByInternal looks up the mapping bound to an internal endpoint.
func (a *Adapter) FindByInternal(ip net.IP, port uint16, protocol uint8) (*Mapping, bool) {
	for _, m := range a.List() {
		if m.InternalPort == port && m.Protocol == protocol && m.InternalIP.Equal(ip) {
			return m, true
		}
	}
	return nil, false
}

// Create inserts a new mapping. With index AutoIndex the next free index is
// allocated; otherwise the explicit index is used. The mapping's StartOfLife
// and EndOfLife are derived from the current time and m.Lifetime. Fails with
// ErrAlreadyExists if the index denotes a live mapping and ErrNoResources if
// allocation would exceed the maximum index.
func (a *Adapter) Create(index int, m Mapping) (*Mapping, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index == AutoIndex {
		index = a.nextIndexLocked()
		if index < 0 {
			return nil, fmt.Errorf("mapping: create: %w", ErrNoResources)
		}
	}

	now := a.now().Unix()
	m.Index = index
	m.StartOfLife = now
	m.EndOfLife = now + int64(m.Lifetime)

	values := map[string]string{
		keyIndex:        strconv.Itoa(index),
		keyNonce1:       strconv.FormatUint(uint64(m.Nonce[0]), 10),
		keyNonce2:       strconv.FormatUint(uint64(m.Nonce[1]), 10),
		keyNonce3:       strconv.FormatUint(uint64(m.Nonce[2]), 10),
		keyInternalIP:   ipString(m.InternalIP),
		keyInternalPort: strconv.FormatUint(uint64(m.InternalPort), 10),
		keyExternalIP:   ipString(m.ExternalIP),
		keyExternalPort: strconv.FormatUint(uint64(m.ExternalPort), 10),
		keyLifetime:     strconv.FormatUint(uint64(m.Lifetime), 10),
		keyStartOfLife:  strconv.FormatInt(m.StartOfLife, 10),
		keyEndOfLife:    strconv.FormatInt(m.EndOfLife, 10),
		keyOpcode:       strconv.Itoa(int(m.Opcode)),
		keyProtocol:     strconv.Itoa(int(m.Protocol)),
	}
	if err := a.st.CreateSubtree(indexPath(index), values); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("mapping: create index %d: %w", index, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("mapping: create index %d: %w", index, err)
	}

	a.logger.Debug("mapping created",
		"index", index,
		"internal", fmt.Sprintf("[%s]:%d", m.InternalIP, m.InternalPort),
		"external", fmt.Sprintf("[%s]:%d", m.ExternalIP, m.ExternalPort),
		"lifetime", m.Lifetime,
	)
	return &m, nil
}

// Refresh updates a mapping's lifetime and end of life, leaving every other
// field untouched. The caller-supplied newEndOfLife must fall within the
// clock-skew window of now + newLifetime or the refresh is rejected with
// ErrOutOfRange and the mapping is unchanged.
func (a *Adapter) Refresh(index int, newLifetime uint32, newEndOfLife int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	expected := a.now().Unix() + int64(newLifetime)
	if newEndOfLife < expected-refreshSkewTolerance || newEndOfLife > expected+refreshSkewTolerance {
		return fmt.Errorf("mapping: refresh index %d: %w", index, ErrOutOfRange)
	}

	path := indexPath(index)
	if _, ok := a.st.GetInt(path, keyIndex); !ok {
		return fmt.Errorf("mapping: refresh index %d: %w", index, ErrNotFound)
	}

	if err := a.st.SetInt(path, keyLifetime, int64(newLifetime)); err != nil {
		return fmt.Errorf("mapping: refresh index %d: %w", index, err)
	}
	if err := a.st.SetInt(path, keyEndOfLife, newEndOfLife); err != nil {
		return fmt.Errorf("mapping: refresh index %d: %w", index, err)
	}
	return nil
}

// Delete removes a mapping and all its persisted fields as one unit.
func (a *Adapter) Delete(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := indexPath(index)
	if _, ok := a.st.GetInt(path, keyIndex); !ok {
		return fmt.Errorf("mapping: delete index %d: %w", index, ErrNotFound)
	}
	if err := a.st.Prune(path); err != nil {
		return fmt.Errorf("mapping: delete index %d: %w", index, err)
	}
	a.logger.Debug("mapping deleted", "index", index)
	return nil
}

// DeleteAll removes every mapping. Used for full service teardown.
func (a *Adapter) DeleteAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.st.Prune(mappingsPath); err != nil {
		return fmt.Errorf("mapping: delete all: %w", err)
	}
	return nil
}

// DeleteExpired removes every mapping whose end of life is at or before now
// and returns how many were removed.
func (a *Adapter) DeleteExpired(now time.Time) int {
	deleted := 0
	for _, m := range a.List() {
		if !m.Expired(now) {
			continue
		}
		if err := a.Delete(m.Index); err != nil {
			a.logger.Warn("expired mapping not deleted", "index", m.Index, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}

// List returns all live mappings sorted ascending by index.
func (a *Adapter) List() []*Mapping {
	var indices []int
	for _, path := range a.st.Search(mappingsPath + "/") {
		id, err := strconv.Atoi(path[strings.LastIndexByte(path, '/')+1:])
		if err != nil {
			continue
		}
		indices = append(indices, id)
	}
	sort.Ints(indices)

	mappings := make([]*Mapping, 0, len(indices))
	for _, id := range indices {
		if m, ok := a.Find(id); ok {
			mappings = append(mappings, m)
		}
	}
	return mappings
}

// nextIndexLocked allocates the next identifier: the smallest multiple of
// ten strictly above the current highest index, leaving gaps below each
// block for static assignment. Returns -1 when the result would exceed the
// configured maximum.
func (a *Adapter) nextIndexLocked() int {
	max := 0
	for _, path := range a.st.Search(mappingsPath + "/") {
		if id, ok := a.st.GetInt(path, keyIndex); ok && int(id) > max {
			max = int(id)
		}
	}
	next := (max + 11) - ((max + 11) % 10)
	if next > a.maxIndex {
		return -1
	}
	return next
}

func (a *Adapter) getInt(path, key string) int64 {
	v, _ := a.st.GetInt(path, key)
	return v
}

func (a *Adapter) getIP(path, key string) net.IP {
	v, ok := a.st.Get(path, key)
	if !ok {
		return nil
	}
	ip := net.ParseIP(v)
	if ip == nil {
		return nil
	}
	return ip.To16()
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
