package confsync

// Typed accessors for each persisted setting. Reads of absent keys return
// the zero value; first-run defaulting is Bootstrap's job.

func (s *Synchronizer) getBool(key string) bool {
	n, _ := s.st.GetInt(configPath, key)
	return n == 1
}

func (s *Synchronizer) setBool(key string, v bool) error {
	n := int64(0)
	if v {
		n = 1
	}
	return s.st.SetInt(configPath, key, n)
}

func (s *Synchronizer) getUint32(key string) uint32 {
	n, _ := s.st.GetInt(configPath, key)
	return uint32(n)
}

func (s *Synchronizer) setUint32(key string, v uint32) error {
	return s.st.SetInt(configPath, key, int64(v))
}

// Initialized reports whether first-run defaulting has already happened.
func (s *Synchronizer) Initialized() bool { return s.getBool(keyInitialized) }

// Enabled reports whether the PCP service is enabled.
func (s *Synchronizer) Enabled() bool { return s.getBool(keyEnabled) }

// SetEnabled persists the service-enabled flag.
func (s *Synchronizer) SetEnabled(v bool) error { return s.setBool(keyEnabled, v) }

// MapSupport reports whether the MAP opcode is supported.
func (s *Synchronizer) MapSupport() bool { return s.getBool(keyMapSupport) }

// SetMapSupport persists the MAP support flag.
func (s *Synchronizer) SetMapSupport(v bool) error { return s.setBool(keyMapSupport, v) }

// PeerSupport reports whether the PEER opcode is supported.
func (s *Synchronizer) PeerSupport() bool { return s.getBool(keyPeerSupport) }

// SetPeerSupport persists the PEER support flag.
func (s *Synchronizer) SetPeerSupport(v bool) error { return s.setBool(keyPeerSupport, v) }

// ThirdPartySupport reports whether the THIRD_PARTY option flag is set.
func (s *Synchronizer) ThirdPartySupport() bool { return s.getBool(keyThirdPartySupport) }

// SetThirdPartySupport persists the THIRD_PARTY option flag.
func (s *Synchronizer) SetThirdPartySupport(v bool) error { return s.setBool(keyThirdPartySupport, v) }

// ProxySupport reports whether the proxy flag is set.
func (s *Synchronizer) ProxySupport() bool { return s.getBool(keyProxySupport) }

// SetProxySupport persists the proxy flag.
func (s *Synchronizer) SetProxySupport(v bool) error { return s.setBool(keyProxySupport, v) }

// UPnPIWFSupport reports whether the UPnP IGD-PCP interworking flag is set.
func (s *Synchronizer) UPnPIWFSupport() bool { return s.getBool(keyUPnPIWFSupport) }

// SetUPnPIWFSupport persists the UPnP IGD-PCP interworking flag.
func (s *Synchronizer) SetUPnPIWFSupport(v bool) error { return s.setBool(keyUPnPIWFSupport, v) }

// MinMappingLifetime returns the lower bound for granted lifetimes.
func (s *Synchronizer) MinMappingLifetime() uint32 { return s.getUint32(keyMinMappingLifetime) }

// SetMinMappingLifetime persists the lifetime lower bound.
func (s *Synchronizer) SetMinMappingLifetime(v uint32) error {
	return s.setUint32(keyMinMappingLifetime, v)
}

// MaxMappingLifetime returns the upper bound for granted lifetimes.
func (s *Synchronizer) MaxMappingLifetime() uint32 { return s.getUint32(keyMaxMappingLifetime) }

// SetMaxMappingLifetime persists the lifetime upper bound.
func (s *Synchronizer) SetMaxMappingLifetime(v uint32) error {
	return s.setUint32(keyMaxMappingLifetime, v)
}

// PreferFailureRateLimit returns the PREFER_FAILURE request rate limit.
func (s *Synchronizer) PreferFailureRateLimit() uint32 { return s.getUint32(keyPreferFailureRate) }

// SetPreferFailureRateLimit persists the PREFER_FAILURE request rate limit.
func (s *Synchronizer) SetPreferFailureRateLimit(v uint32) error {
	return s.setUint32(keyPreferFailureRate, v)
}

// StartupEpochTime returns the wall-clock second the server last started.
func (s *Synchronizer) StartupEpochTime() uint32 { return s.getUint32(keyStartupEpochTime) }

// SetStartupEpochTime stamps the server start time; the dispatcher calls
// this once at boot so response epoch fields count from it.
func (s *Synchronizer) SetStartupEpochTime(v uint32) error {
	return s.setUint32(keyStartupEpochTime, v)
}
