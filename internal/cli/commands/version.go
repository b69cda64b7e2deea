package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the dbrowse version and the database engines it can connect to.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dbrowse v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Engines: %s\n", strings.Join(adapter.ListEngines(), ", "))
		},
	}
}
