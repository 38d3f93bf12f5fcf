package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List live port mappings",
	Long:  "List every live port mapping from the persisted store.",
	RunE:  runMappings,
}

func init() {
	rootCmd.AddCommand(mappingsCmd)
}

func runMappings(cmd *cobra.Command, _ []string) error {
	_, maps, err := openState()
	if err != nil {
		return fmt.Errorf("pcpd mappings: %w", err)
	}

	now := time.Now()
	w := cmd.OutOrStdout()
	list := maps.List()
	if len(list) == 0 {
		fmt.Fprintln(w, "no mappings")
		return nil
	}
	fmt.Fprintf(w, "%-6s %-6s %-22s %-22s %-10s %s\n",
		"ID", "PROTO", "INTERNAL", "EXTERNAL", "REMAINING", "KIND")
	for _, m := range list {
		fmt.Fprintf(w, "%-6d %-6d %-22s %-22s %-10d %s\n",
			m.Index,
			m.Protocol,
			fmt.Sprintf("[%s]:%d", m.InternalIP, m.InternalPort),
			fmt.Sprintf("[%s]:%d", m.ExternalIP, m.ExternalPort),
			m.RemainingLifetime(now),
			m.Opcode,
		)
	}
	return nil
}
