package daemon

import (
	"fmt"
	"io"
	"time"

	"github.com/plexsphere/pcpd/internal/confsync"
	"github.com/plexsphere/pcpd/internal/mapping"
	"github.com/plexsphere/pcpd/internal/wire"
)

const stateTimeFormat = "2006-01-02 15:04:05"

// RenderState writes the human-readable service state: the configuration
// flags, server uptime, and every live mapping.
func RenderState(w io.Writer, conf *confsync.Synchronizer, mappings *mapping.Adapter, now time.Time) error {
	onOff := func(v bool) string {
		if v {
			return "Enabled"
		}
		return "Disabled"
	}

	_, err := fmt.Fprintf(w,
		"PCP Config:\n"+
			"     %-36s: %s\n"+
			"     %-36s: %s\n"+
			"     %-36s: %s\n"+
			"     %-36s: %s\n"+
			"     %-36s: %s\n"+
			"     %-36s: %s\n"+
			"     %-36s: %d\n"+
			"     %-36s: %d\n"+
			"     %-36s: %d\n",
		"PCP service", onOff(conf.Enabled()),
		"MAP opcode support", onOff(conf.MapSupport()),
		"PEER opcode support", onOff(conf.PeerSupport()),
		"THIRD_PARTY option support", onOff(conf.ThirdPartySupport()),
		"Proxy support", onOff(conf.ProxySupport()),
		"UPnP IGD-PCP IWF support", onOff(conf.UPnPIWFSupport()),
		"Minimum mapping lifetime", conf.MinMappingLifetime(),
		"Maximum mapping lifetime", conf.MaxMappingLifetime(),
		"PREFER_FAILURE request rate limit", conf.PreferFailureRateLimit(),
	)
	if err != nil {
		return fmt.Errorf("daemon: render state: %w", err)
	}

	uptime := int64(0)
	if start := int64(conf.StartupEpochTime()); start > 0 && now.Unix() > start {
		uptime = now.Unix() - start
	}
	if _, err := fmt.Fprintf(w,
		"PCP Server:\n"+
			"     %-36s: %s\n",
		"Server uptime", formatUptime(uptime),
	); err != nil {
		return fmt.Errorf("daemon: render state: %w", err)
	}

	if _, err := fmt.Fprintf(w, "PCP Mappings:\n"); err != nil {
		return fmt.Errorf("daemon: render state: %w", err)
	}
	for _, m := range mappings.List() {
		if err := renderMapping(w, m, now); err != nil {
			return fmt.Errorf("daemon: render state: %w", err)
		}
	}
	return nil
}

func renderMapping(w io.Writer, m *mapping.Mapping, now time.Time) error {
	kind := "MAP mapping ID"
	if m.Opcode == wire.OpcodePeer {
		kind = "PEER mapping ID"
	}
	_, err := fmt.Fprintf(w,
		"     %-21s: %d\n"+
			"       %-19s: %10d %10d %10d\n"+
			"       %-19s: [%s]:%d\n"+
			"       %-19s: [%s]:%d\n"+
			"       %-19s: %d\n"+
			"       %-19s: %d\n"+
			"       %-19s: %s\n"+
			"       %-19s: %s\n"+
			"       %-19s: %d\n\n",
		kind, m.Index,
		"Mapping nonce", m.Nonce[0], m.Nonce[1], m.Nonce[2],
		"Internal IP & port", m.InternalIP, m.InternalPort,
		"External IP & port", m.ExternalIP, m.ExternalPort,
		"Lifetime", m.Lifetime,
		"Lifetime remaining", m.RemainingLifetime(now),
		"First requested", time.Unix(m.StartOfLife, 0).Format(stateTimeFormat),
		"Expiry date/time", time.Unix(m.EndOfLife, 0).Format(stateTimeFormat),
		"Protocol", m.Protocol,
	)
	return err
}

// formatUptime renders a duration in seconds as d:hh:mm:ss.
func formatUptime(seconds int64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%d:%02d:%02d:%02d", days, hours, minutes, seconds%60)
}
