// Package daemon wires the pcpd subsystems together: the persistent store,
// the configuration synchronizer, the mapping adapter, and the UDP server.
// It also owns process-level concerns: the PID file, SIGUSR1 state dumps,
// and graceful teardown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/plexsphere/pcpd/internal/confsync"
	"github.com/plexsphere/pcpd/internal/mapping"
	"github.com/plexsphere/pcpd/internal/server"
	"github.com/plexsphere/pcpd/internal/store"
)

// Daemon is the assembled pcpd service.
type Daemon struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Daemon from a validated configuration.
func New(cfg Config, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: logger.With("component", "daemon"),
	}
}

// Run starts the service and blocks until ctx is cancelled. On shutdown all
// mappings are withdrawn and the store is flushed.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.PIDFile != "" {
		if err := writePIDFile(d.cfg.PIDFile); err != nil {
			return err
		}
		defer removePIDFile(d.cfg.PIDFile, d.logger)
	}

	if err := os.MkdirAll(d.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("daemon: create data dir %s: %w", d.cfg.DataDir, err)
	}
	st, err := store.Open(d.cfg.DataDir, d.logger)
	if err != nil {
		return fmt.Errorf("daemon: open store: %w", err)
	}

	conf := confsync.New(st, d.logger)
	mappings := mapping.NewAdapter(st, d.cfg.MaxMappingID, d.logger)
	alloc := server.NewStaticAllocator(d.cfg.Server.Allocator, mappings)
	srv := server.New(d.cfg.Server, mappings, conf, alloc, d.logger)

	// Bootstrap after the server registered its listener so the replay
	// lands in the settings cache.
	if err := conf.Bootstrap(); err != nil {
		st.Close()
		return fmt.Errorf("daemon: bootstrap config: %w", err)
	}

	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGUSR1)
	defer signal.Stop(dumpCh)

	dumpCtx, stopDumps := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-dumpCtx.Done():
				return
			case <-dumpCh:
				d.dumpState(conf, mappings)
			}
		}
	}()

	err = srv.Run(ctx)

	stopDumps()
	wg.Wait()

	if derr := mappings.DeleteAll(); derr != nil {
		d.logger.Warn("mappings not withdrawn on shutdown", "error", derr)
	}
	if cerr := st.Close(); cerr != nil {
		d.logger.Warn("store not flushed on shutdown", "error", cerr)
	}
	d.logger.Info("pcpd stopped")
	return err
}

// dumpState writes the state report to the configured output path, or to
// stdout when none is set.
func (d *Daemon) dumpState(conf *confsync.Synchronizer, mappings *mapping.Adapter) {
	target := os.Stdout
	if d.cfg.OutputPath != "" {
		f, err := os.Create(d.cfg.OutputPath)
		if err != nil {
			d.logger.Error("state dump target not writable", "path", d.cfg.OutputPath, "error", err)
			return
		}
		defer f.Close()
		target = f
	}
	if err := RenderState(target, conf, mappings, time.Now()); err != nil {
		d.logger.Error("state dump failed", "error", err)
	}
}
