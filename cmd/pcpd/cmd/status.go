package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexsphere/pcpd/internal/confsync"
	"github.com/plexsphere/pcpd/internal/daemon"
	"github.com/plexsphere/pcpd/internal/mapping"
	"github.com/plexsphere/pcpd/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server configuration and mappings",
	Long:  "Render the persisted service state: configuration flags, uptime, and live mappings.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// openState loads the persisted store for offline inspection. The store is
// never closed by these commands so the running daemon's state file is not
// rewritten.
func openState() (*confsync.Synchronizer, *mapping.Adapter, error) {
	cfg, err := daemon.ParseConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, err
	}
	conf := confsync.New(st, logger)
	maps := mapping.NewAdapter(st, cfg.MaxMappingID, logger)
	return conf, maps, nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	conf, maps, err := openState()
	if err != nil {
		return fmt.Errorf("pcpd status: %w", err)
	}
	if err := daemon.RenderState(cmd.OutOrStdout(), conf, maps, time.Now()); err != nil {
		return fmt.Errorf("pcpd status: %w", err)
	}
	return nil
}
