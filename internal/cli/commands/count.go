package commands

import (
	"github.com/spf13/cobra"
)

// NewCountCommand creates the count command.
func NewCountCommand() *cobra.Command {
	var (
		filter   string
		estimate bool
	)

	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Count the rows of a table",
		Long: `Count the rows of a table exactly, optionally restricted by a filter in
the engine's own dialect. With --estimate the engine's cheap statistics are
used instead, which ignores the filter.`,
		Example: `  dbrowse count orders
  dbrowse count orders --filter "status = 'open'"
  dbrowse count events --estimate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, p, err := profileAndSession(cmd.Context())
			if err != nil {
				return err
			}
			if estimate {
				if filter != "" {
					s.Renderer.Notef("--filter is ignored with --estimate")
				}
				n, err := s.Service.EstimateRowCount(cmd.Context(), p, args[0])
				if err != nil {
					return err
				}
				return s.Renderer.Count(args[0], n, false)
			}
			n, err := s.Service.CountRows(cmd.Context(), p, args[0], filter)
			if err != nil {
				return err
			}
			return s.Renderer.Count(args[0], n, true)
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Filter clause (SQL WHERE body, or a JSON filter document for MongoDB)")
	cmd.Flags().BoolVar(&estimate, "estimate", false, "Use the engine's row estimate")
	return cmd
}
