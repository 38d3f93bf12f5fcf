package cmd

import (
	"bytes"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/plexsphere/pcpd/internal/mapping"
	"github.com/plexsphere/pcpd/internal/store"
	"github.com/plexsphere/pcpd/internal/wire"
)

func TestRootCommand_Help(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{})

	_ = rootCmd.Execute()

	output := buf.String()
	if !strings.Contains(output, "pcpd") {
		t.Errorf("help output should contain 'pcpd', got: %s", output)
	}
	if !strings.Contains(output, "Port Control Protocol") {
		t.Errorf("help output should contain 'Port Control Protocol', got: %s", output)
	}
}

func TestRootCommand_Version(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})

	_ = rootCmd.Execute()

	output := buf.String()
	if !strings.Contains(output, "1.2.3") {
		t.Errorf("version output should contain '1.2.3', got: %s", output)
	}
	if !strings.Contains(output, "abc123") {
		t.Errorf("version output should contain 'abc123', got: %s", output)
	}
}

func TestStatusCommand_RendersPersistedState(t *testing.T) {
	tmpDir := t.TempDir()

	// Seed a persisted store with one mapping.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st, err := store.Open(tmpDir, logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	maps := mapping.NewAdapter(st, mapping.DefaultMaxIndex, logger)
	if _, err := maps.Create(mapping.AutoIndex, mapping.Mapping{
		InternalIP:   net.ParseIP("192.0.2.10"),
		InternalPort: 8080,
		ExternalIP:   net.ParseIP("203.0.113.9"),
		ExternalPort: 40000,
		Lifetime:     3600,
		Opcode:       wire.OpcodeMap,
		Protocol:     6,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("store.Close: %v", err)
	}

	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("data_dir: "+tmpDir+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	oldCfg := cfgFile
	cfgFile = cfgPath
	defer func() { cfgFile = oldCfg }()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"status"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"PCP Config:", "PCP Mappings:", "[192.0.2.10]:8080"} {
		if !strings.Contains(output, want) {
			t.Errorf("status output missing %q:\n%s", want, output)
		}
	}
}

func TestMappingsCommand_ListsMappings(t *testing.T) {
	tmpDir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st, err := store.Open(tmpDir, logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	maps := mapping.NewAdapter(st, mapping.DefaultMaxIndex, logger)
	m := mapping.Mapping{
		InternalIP:   net.ParseIP("192.0.2.10"),
		InternalPort: 8080,
		ExternalIP:   net.ParseIP("203.0.113.9"),
		ExternalPort: 40000,
		Lifetime:     3600,
		Opcode:       wire.OpcodePeer,
		Protocol:     17,
	}
	if _, err := maps.Create(mapping.AutoIndex, m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("store.Close: %v", err)
	}

	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("data_dir: "+tmpDir+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	oldCfg := cfgFile
	cfgFile = cfgPath
	defer func() { cfgFile = oldCfg }()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"mappings"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("mappings: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "[203.0.113.9]:40000") {
		t.Errorf("mappings output missing external endpoint:\n%s", output)
	}
	if !strings.Contains(output, "PEER") {
		t.Errorf("mappings output missing opcode label:\n%s", output)
	}
}
