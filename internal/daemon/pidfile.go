package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// writePIDFile records the current process ID at path. An existing file is
// overwritten; a leftover from a crashed run must not block restart.
func writePIDFile(path string) error {
	pid := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("daemon: write pid file %s: %w", path, err)
	}
	return nil
}

func removePIDFile(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("pid file not removed", "path", path, "error", err)
	}
}
