// Package confsync keeps live server behavior consistent with the persisted
// PCP settings under /pcp/config. It owns first-run defaulting, replays
// current values to a registered listener on startup, and fans out
// individual field changes detected through the store's watch mechanism.
package confsync

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/plexsphere/pcpd/internal/store"
)

// ErrPersistFailed wraps store write failures during bootstrap.
var ErrPersistFailed = errors.New("confsync: persist failed")

// configPath is the root of the persisted settings namespace.
const configPath = "/pcp/config"

// Persisted setting keys.
const (
	keyInitialized        = "pcp_initialized"
	keyEnabled            = "pcp_enabled"
	keyMapSupport         = "map_support"
	keyPeerSupport        = "peer_support"
	keyThirdPartySupport  = "third_party_support"
	keyProxySupport       = "proxy_support"
	keyUPnPIWFSupport     = "upnp_igd_pcp_iwf_support"
	keyMinMappingLifetime = "min_mapping_lifetime"
	keyMaxMappingLifetime = "max_mapping_lifetime"
	keyPreferFailureRate  = "prefer_failure_req_rate_limit"
	keyStartupEpochTime   = "startup_epoch_time"
)

// Defaults applied on first run. pcp_enabled is forced on separately so a
// reset never toggles service availability.
const (
	DefaultMapSupport             = true
	DefaultPeerSupport            = true
	DefaultThirdPartySupport      = false
	DefaultProxySupport           = false
	DefaultUPnPIWFSupport         = false
	DefaultMinMappingLifetime     = 120
	DefaultMaxMappingLifetime     = 86400
	DefaultPreferFailureRateLimit = 5
)

// Field identifies one of the persisted settings.
type Field int

const (
	FieldEnabled Field = iota
	FieldMapSupport
	FieldPeerSupport
	FieldThirdPartySupport
	FieldProxySupport
	FieldUPnPIWFSupport
	FieldMinMappingLifetime
	FieldMaxMappingLifetime
	FieldPreferFailureRateLimit
	FieldStartupEpochTime
)

// Listener receives one callback per changed field, each carrying the
// field's freshly re-read value. Callbacks never run concurrently with each
// other or with a Bootstrap replay.
type Listener interface {
	PCPEnabled(enabled bool)
	MapSupport(enabled bool)
	PeerSupport(enabled bool)
	ThirdPartySupport(enabled bool)
	ProxySupport(enabled bool)
	UPnPIWFSupport(enabled bool)
	MinMappingLifetime(seconds uint32)
	MaxMappingLifetime(seconds uint32)
	PreferFailureRateLimit(requestsPerSecond uint32)
	StartupEpochTime(epoch uint32)
}

// fieldKeys maps a store key to its field tag, so change dispatch does a
// single lookup instead of per-change string comparison chains.
var fieldKeys = map[string]Field{
	keyEnabled:            FieldEnabled,
	keyMapSupport:         FieldMapSupport,
	keyPeerSupport:        FieldPeerSupport,
	keyThirdPartySupport:  FieldThirdPartySupport,
	keyProxySupport:       FieldProxySupport,
	keyUPnPIWFSupport:     FieldUPnPIWFSupport,
	keyMinMappingLifetime: FieldMinMappingLifetime,
	keyMaxMappingLifetime: FieldMaxMappingLifetime,
	keyPreferFailureRate:  FieldPreferFailureRateLimit,
	keyStartupEpochTime:   FieldStartupEpochTime,
}

// notifiers dispatches a field to the matching listener callback with the
// field's current persisted value.
var notifiers = map[Field]func(s *Synchronizer, l Listener){
	FieldEnabled:                func(s *Synchronizer, l Listener) { l.PCPEnabled(s.Enabled()) },
	FieldMapSupport:             func(s *Synchronizer, l Listener) { l.MapSupport(s.MapSupport()) },
	FieldPeerSupport:            func(s *Synchronizer, l Listener) { l.PeerSupport(s.PeerSupport()) },
	FieldThirdPartySupport:      func(s *Synchronizer, l Listener) { l.ThirdPartySupport(s.ThirdPartySupport()) },
	FieldProxySupport:           func(s *Synchronizer, l Listener) { l.ProxySupport(s.ProxySupport()) },
	FieldUPnPIWFSupport:         func(s *Synchronizer, l Listener) { l.UPnPIWFSupport(s.UPnPIWFSupport()) },
	FieldMinMappingLifetime:     func(s *Synchronizer, l Listener) { l.MinMappingLifetime(s.MinMappingLifetime()) },
	FieldMaxMappingLifetime:     func(s *Synchronizer, l Listener) { l.MaxMappingLifetime(s.MaxMappingLifetime()) },
	FieldPreferFailureRateLimit: func(s *Synchronizer, l Listener) { l.PreferFailureRateLimit(s.PreferFailureRateLimit()) },
	FieldStartupEpochTime:       func(s *Synchronizer, l Listener) { l.StartupEpochTime(s.StartupEpochTime()) },
}

// bootstrapOrder is the replay sequence for a steady-state Bootstrap: the
// nine operator-facing fields, excluding the initialized marker and the
// startup epoch (which the server stamps itself at boot).
var bootstrapOrder = []Field{
	FieldEnabled,
	FieldMapSupport,
	FieldPeerSupport,
	FieldThirdPartySupport,
	FieldProxySupport,
	FieldUPnPIWFSupport,
	FieldMinMappingLifetime,
	FieldMaxMappingLifetime,
	FieldPreferFailureRateLimit,
}

// Synchronizer is the single source of truth for the persisted PCP settings.
// At most one listener is active at a time; registering a new one replaces
// the previous. One mutex serializes every listener invocation with
// Bootstrap, so listeners always observe a self-consistent snapshot.
type Synchronizer struct {
	st     *store.Store
	logger *slog.Logger

	mu       sync.Mutex
	listener Listener
}

// New creates a Synchronizer and installs its watch on the config namespace.
func New(st *store.Store, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		st:     st,
		logger: logger.With("component", "confsync"),
	}
	st.Watch(configPath+"/*", s.OnStoreChange)
	return s
}

// Register installs l as the active listener, replacing any previous one.
func (s *Synchronizer) Register(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Bootstrap brings persisted settings and the listener in sync at startup.
// On first run (initialized unset) every field except pcp_enabled gets its
// documented default, pcp_enabled is forced on, and the initialized marker
// is set; the writes are treated as one unit and the first failure aborts.
// On later runs the listener is replayed the current value of each
// operator-facing field once, synchronously, under the dispatch mutex so a
// concurrent change notification cannot interleave with the dump.
func (s *Synchronizer) Bootstrap() error {
	if s.Initialized() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener != nil {
			for _, f := range bootstrapOrder {
				notifiers[f](s, s.listener)
			}
		}
		s.logger.Info("configuration loaded", "enabled", s.Enabled())
		return nil
	}

	if err := s.applyDefaults(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	s.logger.Info("first run, default configuration applied")
	return nil
}

// applyDefaults writes the first-run configuration.
func (s *Synchronizer) applyDefaults() error {
	if err := s.setBool(keyInitialized, true); err != nil {
		return err
	}
	if err := s.setBool(keyEnabled, true); err != nil {
		return err
	}
	if err := s.setBool(keyMapSupport, DefaultMapSupport); err != nil {
		return err
	}
	if err := s.setBool(keyPeerSupport, DefaultPeerSupport); err != nil {
		return err
	}
	if err := s.setBool(keyThirdPartySupport, DefaultThirdPartySupport); err != nil {
		return err
	}
	if err := s.setBool(keyProxySupport, DefaultProxySupport); err != nil {
		return err
	}
	if err := s.setBool(keyUPnPIWFSupport, DefaultUPnPIWFSupport); err != nil {
		return err
	}
	if err := s.setUint32(keyMinMappingLifetime, DefaultMinMappingLifetime); err != nil {
		return err
	}
	if err := s.setUint32(keyMaxMappingLifetime, DefaultMaxMappingLifetime); err != nil {
		return err
	}
	return s.setUint32(keyPreferFailureRate, DefaultPreferFailureRateLimit)
}

// OnStoreChange routes one changed store path to its listener callback.
// Paths outside the config namespace and unknown keys are not handled and
// produce no side effects. The initialized marker is recognized but
// intentionally triggers no callback.
func (s *Synchronizer) OnStoreChange(path, value string) bool {
	if !strings.HasPrefix(path, configPath+"/") {
		return false
	}
	key := path[len(configPath)+1:]

	if key == keyInitialized {
		return true
	}
	f, ok := fieldKeys[key]
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		notifiers[f](s, s.listener)
	}
	s.logger.Debug("config changed", "key", key, "value", value)
	return true
}
