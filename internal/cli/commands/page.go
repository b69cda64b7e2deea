package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dbrowse/internal/pagination"
)

// PageOptions holds options for the page command.
type PageOptions struct {
	Filter  string
	Sort    string
	Offset  int
	Limit   int
	Page    int
	Exact   bool
	NoTotal bool
}

// NewPageCommand creates the page command.
func NewPageCommand() *cobra.Command {
	opts := &PageOptions{}

	cmd := &cobra.Command{
		Use:   "page <table>",
		Short: "Show one page of rows from a table",
		Long: `Show one page of rows from a table or collection.

Filter and sort are passed to the engine verbatim: a SQL WHERE body and
ORDER BY list for relational engines, a JSON filter document and a sort
document (or "field DESC") for MongoDB.`,
		Example: `  dbrowse page users
  dbrowse page users --page 3 --limit 50
  dbrowse page orders --filter "total > 100" --sort "created_at DESC" --count
  dbrowse page events --filter '{"type": "click"}' --sort '{"ts": -1}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPage(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", "", "Filter clause in the engine's dialect")
	cmd.Flags().StringVarP(&opts.Sort, "sort", "s", "", "Sort clause in the engine's dialect")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Rows to skip")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "Rows per page (default page.size)")
	cmd.Flags().IntVar(&opts.Page, "page", 0, "1-based page number; overrides --offset")
	cmd.Flags().BoolVar(&opts.Exact, "count", false, "Count matching rows exactly for the banner")
	cmd.Flags().BoolVar(&opts.NoTotal, "no-total", false, "Do not fetch a row total")
	cmd.MarkFlagsMutuallyExclusive("count", "no-total")

	return cmd
}

func runPage(cmd *cobra.Command, table string, opts *PageOptions) error {
	ctx := cmd.Context()
	s, p, err := profileAndSession(ctx)
	if err != nil {
		return err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.Cfg.Page.Size
	}
	offset := opts.Offset
	if opts.Page > 0 {
		offset = (opts.Page - 1) * limit
	}

	view := s.Service.OpenView(p, table, limit)
	defer view.Close()

	seq := view.RequestPage(ctx, offset, limit, opts.Filter, opts.Sort)
	wantTotal := !opts.NoTotal
	if wantTotal {
		view.RefreshTotal(ctx, opts.Exact)
	}

	var (
		state     pagination.State
		total     pagination.Total
		pageDone  bool
		totalDone = !wantTotal
	)
	for !pageDone || !totalDone {
		select {
		case u, ok := <-view.Updates():
			if !ok {
				return errors.New("view closed before the page arrived")
			}
			switch u.Kind {
			case pagination.PageApplied:
				if u.Sequence == seq {
					state, pageDone = u.State, true
				}
			case pagination.PageFailed:
				return u.Err
			case pagination.TotalApplied:
				total, totalDone = u.State.Total, true
			case pagination.TotalFailed:
				s.Logger.Warn("row total unavailable", slog.String("error", u.Err.Error()))
				totalDone = true
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	banner := RowsBanner(state.Offset, len(state.Result.Rows), total)
	banner += fmt.Sprintf(", page %d (%s)", state.Page, state.Result.Elapsed.Round(time.Millisecond))
	return s.Renderer.Page(state.Result, banner)
}
