package commands

import (
	"github.com/spf13/cobra"
)

// NewDescribeCommand creates the describe command.
func NewDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "describe <table>",
		Aliases: []string{"schema"},
		Short:   "Show the columns and indexes of a table",
		Long: `Show the columns and indexes of a table. For document collections the
columns are inferred from a sample of documents.`,
		Example: `  dbrowse describe users
  dbrowse describe public.orders -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, p, err := profileAndSession(cmd.Context())
			if err != nil {
				return err
			}
			desc, err := s.Service.DescribeTable(cmd.Context(), p, args[0])
			if err != nil {
				return err
			}
			return s.Renderer.Schema(desc)
		},
	}
}
