package server

import "sync"

// Settings caches the live configuration flags the dispatcher consults per
// datagram. It implements confsync.Listener so synchronizer callbacks keep
// it current, and hands the request path a consistent snapshot without
// touching the store.
type Settings struct {
	mu sync.RWMutex
	s  snapshot
}

type snapshot struct {
	enabled           bool
	mapSupport        bool
	peerSupport       bool
	thirdPartySupport bool
	proxySupport      bool
	upnpIWFSupport    bool
	minLifetime       uint32
	maxLifetime       uint32
	preferFailureRate uint32
	startupEpoch      uint32
}

// NewSettings creates an empty Settings cache; the synchronizer fills it
// during bootstrap.
func NewSettings() *Settings {
	return &Settings{}
}

func (c *Settings) snapshot() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s
}

// PCPEnabled implements confsync.Listener.
func (c *Settings) PCPEnabled(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.enabled = v
}

// MapSupport implements confsync.Listener.
func (c *Settings) MapSupport(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.mapSupport = v
}

// PeerSupport implements confsync.Listener.
func (c *Settings) PeerSupport(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.peerSupport = v
}

// ThirdPartySupport implements confsync.Listener.
func (c *Settings) ThirdPartySupport(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.thirdPartySupport = v
}

// ProxySupport implements confsync.Listener.
func (c *Settings) ProxySupport(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.proxySupport = v
}

// UPnPIWFSupport implements confsync.Listener.
func (c *Settings) UPnPIWFSupport(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.upnpIWFSupport = v
}

// MinMappingLifetime implements confsync.Listener.
func (c *Settings) MinMappingLifetime(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.minLifetime = v
}

// MaxMappingLifetime implements confsync.Listener.
func (c *Settings) MaxMappingLifetime(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.maxLifetime = v
}

// PreferFailureRateLimit implements confsync.Listener.
func (c *Settings) PreferFailureRateLimit(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.preferFailureRate = v
}

// StartupEpochTime implements confsync.Listener.
func (c *Settings) StartupEpochTime(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.startupEpoch = v
}
