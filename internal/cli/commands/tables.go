package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dbrowse/internal/schema"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List tables, views and collections",
		Long: `List the tables, views and collections of the selected connection,
largest first. Row counts and sizes are engine estimates.`,
		Example: `  dbrowse tables
  dbrowse tables --search user
  dbrowse tables -p "postgres://app@localhost/shop" -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, p, err := profileAndSession(cmd.Context())
			if err != nil {
				return err
			}
			tables, err := s.Service.ListTables(cmd.Context(), p)
			if err != nil {
				return err
			}
			return s.Renderer.Tables(schema.FilterTables(tables, search))
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show tables whose name contains this text")
	return cmd
}
