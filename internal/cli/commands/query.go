package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Input string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [TEXT]",
		Short: "Run a raw query against the connection",
		Long: `Run query text in the engine's own language: SQL for relational engines,
a JSON database command for MongoDB. Results bypass pagination and are capped
at query.max_raw_rows.

When invoked without text on a terminal, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  dbrowse query "SELECT id, email FROM users WHERE active"

  # MongoDB command
  dbrowse query '{"find": "events", "filter": {"type": "click"}}'

  # From a file or a pipe
  dbrowse query --input report.sql
  echo "SELECT 1" | dbrowse query -o json

  # Interactive mode
  dbrowse query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read query text from file")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	s, p, err := profileAndSession(cmd.Context())
	if err != nil {
		return err
	}

	var text string
	switch {
	case len(args) > 0:
		text = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		text = string(content)
	case !isTerminal(cmd.InOrStdin()):
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(content)
	default:
		return runQueryREPL(cmd, s, p)
	}

	return executeAndRender(cmd.Context(), s, p, text)
}

func executeAndRender(ctx context.Context, s *Session, p core.ConnectionProfile, text string) error {
	res, err := s.Service.ExecuteRawQuery(ctx, p, strings.TrimSpace(text))
	if err != nil {
		return err
	}
	banner := fmt.Sprintf("(%d rows, %s)", res.RowsReturned, res.Elapsed.Round(time.Millisecond))
	return s.Renderer.Page(res, banner)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}
