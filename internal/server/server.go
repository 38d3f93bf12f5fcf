package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/plexsphere/pcpd/internal/confsync"
	"github.com/plexsphere/pcpd/internal/mapping"
	"github.com/plexsphere/pcpd/internal/wire"
)

// Server is the PCP dispatcher. It owns the UDP socket, decodes each
// datagram, runs the mapping-table logic for MAP and PEER, and answers
// ANNOUNCE. All policy flags come from the Settings cache, which the
// configuration synchronizer keeps current.
type Server struct {
	cfg      Config
	mappings *mapping.Adapter
	conf     *confsync.Synchronizer
	alloc    Allocator
	settings *Settings
	logger   *slog.Logger

	now func() time.Time

	mu        sync.Mutex
	localAddr net.Addr
}

// LocalAddr returns the bound UDP address, or nil before Run has started
// listening.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAddr
}

// New creates a Server and registers its settings cache with the
// synchronizer, so bootstrap and later store changes flow into it.
func New(cfg Config, mappings *mapping.Adapter, conf *confsync.Synchronizer, alloc Allocator, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	s := &Server{
		cfg:      cfg,
		mappings: mappings,
		conf:     conf,
		alloc:    alloc,
		settings: NewSettings(),
		logger:   logger.With("component", "server"),
		now:      time.Now,
	}
	conf.Register(s.settings)
	return s
}

// Run binds the UDP socket, records the startup epoch time, and serves
// requests until ctx is cancelled. It blocks for the lifetime of the
// server and returns nil on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: resolve %q: %w", s.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	if err := s.conf.SetStartupEpochTime(uint32(s.now().Unix())); err != nil {
		conn.Close()
		return fmt.Errorf("server: record startup epoch: %w", err)
	}

	s.mu.Lock()
	s.localAddr = conn.LocalAddr()
	s.mu.Unlock()
	s.logger.Info("listening", "addr", conn.LocalAddr().String())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		conn.Close()
	}()

	if s.cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runReaper(ctx)
		}()
	}

	err = s.serve(ctx, conn)
	wg.Wait()
	return err
}

func (s *Server) serve(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, wire.MaxMessageSize+1)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: read: %w", err)
		}
		if n > wire.MaxMessageSize {
			continue
		}
		resp := s.handlePacket(buf[:n], src.IP)
		if resp == nil {
			continue
		}
		if _, err := conn.WriteToUDP(resp, src); err != nil {
			s.logger.Warn("response not sent", "peer", src.String(), "error", err)
		}
	}
}

func (s *Server) runReaper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.mappings.DeleteExpired(s.now()); n > 0 {
				s.logger.Info("expired mappings reaped", "count", n)
			}
		}
	}
}

// handlePacket turns one inbound datagram into a response, or nil when the
// datagram must be dropped silently (responses, truncated packets, and all
// traffic while the service is disabled).
func (s *Server) handlePacket(buf []byte, src net.IP) []byte {
	snap := s.settings.snapshot()
	if !snap.enabled {
		return nil
	}

	op, isResponse, err := wire.Classify(buf)
	if isResponse {
		return nil
	}
	switch {
	case errors.Is(err, wire.ErrUnsupportedVersion):
		return wire.ErrorResponse(buf, wire.ResultUnsuppVersion, s.epoch(snap))
	case errors.Is(err, wire.ErrUnsupportedOpcode):
		return wire.ErrorResponse(buf, wire.ResultUnsuppOpcode, s.epoch(snap))
	case err != nil:
		return nil
	}

	switch op {
	case wire.OpcodeAnnounce:
		return s.handleAnnounce(buf, snap)
	case wire.OpcodeMap:
		if !snap.mapSupport {
			return wire.ErrorResponse(buf, wire.ResultUnsuppOpcode, s.epoch(snap))
		}
		return s.handleMap(buf, src, snap)
	case wire.OpcodePeer:
		if !snap.peerSupport {
			return wire.ErrorResponse(buf, wire.ResultUnsuppOpcode, s.epoch(snap))
		}
		return s.handlePeer(buf, src, snap)
	}
	return nil
}

func (s *Server) handleAnnounce(buf []byte, snap snapshot) []byte {
	req, err := wire.DecodeAnnounceRequest(buf)
	if err != nil {
		return wire.ErrorResponse(buf, wire.ResultMalformedRequest, s.epoch(snap))
	}
	return wire.NewAnnounceResponse(req, wire.ResultSuccess, s.epoch(snap)).Encode()
}

func (s *Server) handleMap(buf []byte, src net.IP, snap snapshot) []byte {
	req, err := wire.DecodeMapRequest(buf)
	if err != nil {
		return wire.ErrorResponse(buf, wire.ResultMalformedRequest, s.epoch(snap))
	}
	result, lifetime, extPort, extIP := s.applyMap(req, wire.OpcodeMap, src, snap)
	return wire.NewMapResponse(req, result, lifetime, s.epoch(snap), extPort, extIP).Encode()
}

func (s *Server) handlePeer(buf []byte, src net.IP, snap snapshot) []byte {
	req, err := wire.DecodePeerRequest(buf)
	if err != nil {
		return wire.ErrorResponse(buf, wire.ResultMalformedRequest, s.epoch(snap))
	}
	result, lifetime, extPort, extIP := s.applyMap(&req.MapRequest, wire.OpcodePeer, src, snap)
	return wire.NewPeerResponse(req, result, lifetime, s.epoch(snap), extPort, extIP).Encode()
}

// applyMap runs the mapping-table logic shared by MAP and PEER: delete on a
// zero requested lifetime, refresh when the internal endpoint already has a
// live mapping, and create otherwise. It returns the response fields; on any
// result other than SUCCESS the external endpoint is zero.
func (s *Server) applyMap(req *wire.MapRequest, op wire.Opcode, src net.IP, snap snapshot) (wire.ResultCode, uint32, uint16, net.IP) {
	if !req.Header.ClientIP.Equal(src) {
		return wire.ResultAddressMismatch, 0, 0, nil
	}
	if req.Protocol == 0 && req.InternalPort != 0 {
		return wire.ResultMalformedRequest, 0, 0, nil
	}

	if req.Header.RequestedLifetime == 0 {
		return s.deleteMapping(req)
	}

	lifetime := req.Header.RequestedLifetime
	if lifetime < snap.minLifetime {
		lifetime = snap.minLifetime
	}
	if snap.maxLifetime > 0 && lifetime > snap.maxLifetime {
		lifetime = snap.maxLifetime
	}

	if m, ok := s.mappings.FindByInternal(req.Header.ClientIP, req.InternalPort, req.Protocol); ok {
		if m.Nonce != req.Nonce {
			return wire.ResultNotAuthorized, 0, 0, nil
		}
		eol := s.now().Unix() + int64(lifetime)
		if err := s.mappings.Refresh(m.Index, lifetime, eol); err != nil {
			s.logger.Warn("mapping refresh failed", "index", m.Index, "error", err)
			return wire.ResultNetworkFailure, 0, 0, nil
		}
		return wire.ResultSuccess, lifetime, m.ExternalPort, m.ExternalIP
	}

	extIP, extPort, err := s.alloc.Allocate(req.Protocol, req.Header.ClientIP, req.InternalPort, req.SuggestedExternalIP, req.SuggestedExternalPort)
	if err != nil {
		if errors.Is(err, ErrNoPorts) {
			return wire.ResultNoResources, 0, 0, nil
		}
		s.logger.Warn("external endpoint allocation failed", "error", err)
		return wire.ResultNetworkFailure, 0, 0, nil
	}

	created, err := s.mappings.Create(mapping.AutoIndex, mapping.Mapping{
		Nonce:        req.Nonce,
		InternalIP:   req.Header.ClientIP,
		InternalPort: req.InternalPort,
		ExternalIP:   extIP,
		ExternalPort: extPort,
		Lifetime:     lifetime,
		Opcode:       op,
		Protocol:     req.Protocol,
	})
	if err != nil {
		if errors.Is(err, mapping.ErrNoResources) {
			return wire.ResultNoResources, 0, 0, nil
		}
		s.logger.Warn("mapping creation failed", "error", err)
		return wire.ResultNetworkFailure, 0, 0, nil
	}
	return wire.ResultSuccess, lifetime, created.ExternalPort, created.ExternalIP
}

// deleteMapping handles a zero-lifetime request. Deleting a mapping that
// does not exist succeeds, so clients can retry deletes safely; deleting
// with the wrong nonce is refused.
func (s *Server) deleteMapping(req *wire.MapRequest) (wire.ResultCode, uint32, uint16, net.IP) {
	m, ok := s.mappings.FindByInternal(req.Header.ClientIP, req.InternalPort, req.Protocol)
	if !ok {
		return wire.ResultSuccess, 0, 0, nil
	}
	if m.Nonce != req.Nonce {
		return wire.ResultNotAuthorized, 0, 0, nil
	}
	if err := s.mappings.Delete(m.Index); err != nil && !errors.Is(err, mapping.ErrNotFound) {
		s.logger.Warn("mapping deletion failed", "index", m.Index, "error", err)
		return wire.ResultNetworkFailure, 0, 0, nil
	}
	return wire.ResultSuccess, 0, 0, nil
}

// epoch returns seconds since the recorded service start, saturating at
// zero if the clock moved backwards.
func (s *Server) epoch(snap snapshot) uint32 {
	now := s.now().Unix()
	start := int64(snap.startupEpoch)
	if now <= start {
		return 0
	}
	return uint32(now - start)
}
