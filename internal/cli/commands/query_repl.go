package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dbrowse/internal/schema"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

const (
	replPrompt     = "dbrowse> "
	replContPrompt = "   ...> "
)

func runQueryREPL(cmd *cobra.Command, s *Session, p core.ConnectionProfile) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go s.Service.Connections().RunIdleSweeper(ctx, s.Cfg.Pool.IdleTimeout)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile(s.Logger),
		AutoComplete:    newTableCompleter(ctx, s, p),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "dbrowse REPL (%s)\n", p.String())
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(ctx, cmd, s, p, line); quit {
				break
			}
			continue
		}

		buf.WriteString(line)
		if !statementComplete(buf.String(), p.Engine) {
			buf.WriteString("\n")
			rl.SetPrompt(replContPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		text := strings.TrimSuffix(strings.TrimSpace(buf.String()), ";")
		buf.Reset()

		// Ctrl-C while a query runs cancels the query, not the REPL.
		qctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		if err := executeAndRender(qctx, s, p, text); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		stop()
		_, _ = fmt.Fprintln(out)
	}

	return nil
}

// statementComplete reports whether buffered input is ready to run. SQL ends
// with a semicolon; a MongoDB command is complete once its braces balance.
func statementComplete(text string, engine core.EngineKind) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if engine.IsRelational() {
		return strings.HasSuffix(text, ";")
	}
	if strings.HasSuffix(text, ";") {
		return true
	}
	depth, inString, escaped := 0, false, false
	for _, r := range text {
		switch {
		case escaped:
			escaped = false
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			depth++
		case r == '}':
			depth--
		}
	}
	return depth <= 0 && strings.HasSuffix(text, "}")
}

// handleDotCommand runs a REPL command. It returns true when the REPL should exit.
func handleDotCommand(ctx context.Context, cmd *cobra.Command, s *Session, p core.ConnectionProfile, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	errOut := cmd.ErrOrStderr()
	report := func(err error) {
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(cmd.OutOrStdout(), p.Engine)

	case ".tables":
		tables, err := s.Service.ListTables(ctx, p)
		if err == nil {
			search := ""
			if len(parts) > 1 {
				search = parts[1]
			}
			err = s.Renderer.Tables(schema.FilterTables(tables, search))
		}
		report(err)

	case ".describe", ".schema":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(errOut, "Usage: %s <table>\n", command)
			return false
		}
		desc, err := s.Service.DescribeTable(ctx, p, parts[1])
		if err == nil {
			err = s.Renderer.Schema(desc)
		}
		report(err)

	case ".count":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .count <table> [filter]")
			return false
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		filter := strings.TrimSpace(strings.TrimPrefix(rest, parts[1]))
		n, err := s.Service.CountRows(ctx, p, parts[1], filter)
		if err == nil {
			err = s.Renderer.Count(parts[1], n, true)
		}
		report(err)

	case ".connections":
		for _, st := range s.Service.Connections().Stats() {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  opened %s  in-flight %d\n",
				st.Profile, st.Engine, st.OpenedAt.Format("15:04:05"), st.InFlight)
		}

	case ".clear":
		_, _ = fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer, engine core.EngineKind) {
	help := `
Commands:
  .help                   Show this help message
  .tables [search]        List tables, optionally filtered by name
  .describe <table>       Show columns and indexes of a table
  .count <table> [filter] Count rows exactly
  .connections            Show live connections
  .clear                  Clear the screen
  .quit / .exit           Exit the REPL

Tips:`
	if engine.IsRelational() {
		help += `
  - SQL statements must end with a semicolon (;)`
	} else {
		help += `
  - Enter a JSON command document, e.g. {"find": "users", "limit": 5}`
	}
	help += `
  - Ctrl-C cancels a running query
  - Use arrow keys to navigate history
  - Tab completion works for table names
`
	_, _ = fmt.Fprintln(w, help)
}

// historyFile returns the REPL history path under the user config dir, or ""
// to keep history in memory only.
func historyFile(logger *slog.Logger) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "dbrowse")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logger.Debug("history disabled", slog.String("error", err.Error()))
		return ""
	}
	return filepath.Join(dir, "query_history")
}

// newTableCompleter creates a readline completer for table names.
func newTableCompleter(ctx context.Context, s *Session, p core.ConnectionProfile) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface

	// Autocomplete is best effort; the REPL still works if listing fails.
	if tables, err := s.Service.ListTables(ctx, p); err == nil {
		names := make([]readline.PrefixCompleterInterface, 0, len(tables))
		for _, t := range tables {
			items = append(items, readline.PcItem(t.Name))
			names = append(names, readline.PcItem(t.QualifiedName()))
		}
		items = append(items,
			readline.PcItem(".describe", names...),
			readline.PcItem(".count", names...),
		)
	} else {
		s.Logger.Debug("table completion unavailable", slog.String("error", err.Error()))
		items = append(items, readline.PcItem(".describe"), readline.PcItem(".count"))
	}

	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".connections"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)

	return readline.NewPrefixCompleter(items...)
}
