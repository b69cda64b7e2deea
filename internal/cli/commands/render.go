package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/dbrowse/internal/pagination"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Format is an output format.
type Format string

// Output formats.
const (
	FormatAuto     Format = "auto"
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatYAML     Format = "yaml"
)

// Formats lists the values accepted by --output.
var Formats = []string{string(FormatAuto), string(FormatTable), string(FormatJSON), string(FormatCSV), string(FormatMarkdown), string(FormatYAML)}

const maxCellWidth = 60

// Renderer writes results in the selected format. Auto picks a boxed table
// on a terminal and markdown otherwise.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	format Format
	tty    bool
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, format string) *Renderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
	}
	return NewRendererWithTTY(out, errOut, format, tty)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, format string, tty bool) *Renderer {
	return &Renderer{out: out, errOut: errOut, format: Format(strings.ToLower(format)), tty: tty}
}

// Format returns the effective output format.
func (r *Renderer) Format() Format {
	switch r.format {
	case FormatTable, FormatJSON, FormatCSV, FormatMarkdown, FormatYAML:
		return r.format
	case "markdown":
		return FormatMarkdown
	}
	if r.tty {
		return FormatTable
	}
	return FormatMarkdown
}

// Out returns the writer results go to.
func (r *Renderer) Out() io.Writer { return r.out }

// Notef writes a status line to the error stream.
func (r *Renderer) Notef(format string, args ...any) {
	_, _ = fmt.Fprintf(r.errOut, format+"\n", args...)
}

// structured reports whether the format is for machines, in which case status
// lines stay off stdout.
func (r *Renderer) structured() bool {
	f := r.Format()
	return f == FormatJSON || f == FormatYAML || f == FormatCSV
}

func (r *Renderer) encode(v any) error {
	if r.Format() == FormatYAML {
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	t.SetStyle(style)
	return t
}

func (r *Renderer) render(t table.Writer) {
	switch r.Format() {
	case FormatCSV:
		t.RenderCSV()
	case FormatMarkdown:
		t.RenderMarkdown()
	default:
		t.Render()
	}
}

// Page renders one page of rows followed by banner, when given.
func (r *Renderer) Page(res *core.PageResult, banner string) error {
	if r.Format() == FormatJSON || r.Format() == FormatYAML {
		if err := r.encode(rowMaps(res)); err != nil {
			return err
		}
		if banner != "" {
			r.Notef("%s", banner)
		}
		return nil
	}

	if len(res.Columns) == 0 {
		r.Notef("Statement executed (%s)", res.Elapsed.Round(time.Millisecond))
		return nil
	}

	t := r.newTable()
	header := make(table.Row, len(res.Columns))
	configs := make([]table.ColumnConfig, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
		configs[i] = table.ColumnConfig{Number: i + 1, WidthMax: maxCellWidth, WidthMaxEnforcer: text.Trim}
	}
	t.AppendHeader(header)
	if r.Format() == FormatTable {
		t.SetColumnConfigs(configs)
	}
	for _, row := range res.Rows {
		cells := make(table.Row, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		t.AppendRow(cells)
	}
	r.render(t)

	if banner == "" {
		return nil
	}
	if res.Truncated {
		banner += " (truncated)"
	}
	if r.structured() {
		r.Notef("%s", banner)
	} else {
		_, _ = fmt.Fprintln(r.out, banner)
	}
	return nil
}

func rowMaps(res *core.PageResult) []map[string]any {
	out := make([]map[string]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		m := make(map[string]any, len(res.Columns))
		for i, col := range res.Columns {
			if i < len(row) {
				m[col] = jsonValue(row[i])
			}
		}
		out = append(out, m)
	}
	return out
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// formatValue renders a cell for text output.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", v)
	}
}

// RowsBanner describes which rows of how many a page shows, e.g.
// "Rows 11-20 of 1,024" or "Rows 1-10 of ~5,000" for an estimate.
func RowsBanner(offset, count int, total pagination.Total) string {
	if count == 0 {
		if total.Known {
			return fmt.Sprintf("No rows at offset %d of %s", offset, totalText(total))
		}
		return "No rows"
	}
	banner := fmt.Sprintf("Rows %s-%s", humanize.Comma(int64(offset+1)), humanize.Comma(int64(offset+count)))
	if total.Known {
		banner += " of " + totalText(total)
	}
	return banner
}

func totalText(total pagination.Total) string {
	if total.Exact {
		return humanize.Comma(total.Value)
	}
	return "~" + humanize.Comma(total.Value)
}

type tableView struct {
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Name   string `json:"name" yaml:"name"`
	Kind   string `json:"kind" yaml:"kind"`
	Rows   *int64 `json:"estimated_rows,omitempty" yaml:"estimated_rows,omitempty"`
	Bytes  *int64 `json:"estimated_bytes,omitempty" yaml:"estimated_bytes,omitempty"`
}

// Tables renders a table listing.
func (r *Renderer) Tables(tables []core.TableDescriptor) error {
	if r.Format() == FormatJSON || r.Format() == FormatYAML {
		views := make([]tableView, 0, len(tables))
		for _, t := range tables {
			v := tableView{Schema: t.Schema, Name: t.Name, Kind: string(t.Kind)}
			if t.EstimatedRowCount >= 0 {
				v.Rows = &t.EstimatedRowCount
			}
			if t.EstimatedSizeBytes >= 0 {
				v.Bytes = &t.EstimatedSizeBytes
			}
			views = append(views, v)
		}
		return r.encode(views)
	}

	if len(tables) == 0 {
		_, _ = fmt.Fprintln(r.out, "(no tables)")
		return nil
	}
	t := r.newTable()
	t.AppendHeader(table.Row{"Schema", "Name", "Kind", "Rows", "Size"})
	for _, d := range tables {
		t.AppendRow(table.Row{d.Schema, d.Name, string(d.Kind), rowsText(d.EstimatedRowCount), sizeText(d.EstimatedSizeBytes)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	r.render(t)
	return nil
}

func rowsText(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.Comma(n)
}

func sizeText(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

type columnView struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	Nullable   bool   `json:"nullable" yaml:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Position   int    `json:"position" yaml:"position"`
}

type indexView struct {
	Name       string   `json:"name" yaml:"name"`
	Columns    []string `json:"columns" yaml:"columns"`
	Unique     bool     `json:"unique" yaml:"unique"`
	Definition string   `json:"definition,omitempty" yaml:"definition,omitempty"`
}

type schemaView struct {
	Table   string       `json:"table" yaml:"table"`
	Columns []columnView `json:"columns" yaml:"columns"`
	Indexes []indexView  `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

func newSchemaView(s *core.TableSchema) schemaView {
	v := schemaView{Table: s.Table}
	for _, c := range s.Columns {
		v.Columns = append(v.Columns, columnView{Name: c.Name, Type: c.Type, Nullable: c.Nullable, PrimaryKey: c.IsPrimaryKey, Position: c.Position})
	}
	for _, i := range s.Indexes {
		v.Indexes = append(v.Indexes, indexView{Name: i.Name, Columns: i.Columns, Unique: i.Unique, Definition: i.Definition})
	}
	return v
}

// Schema renders a table description: columns, then indexes.
func (r *Renderer) Schema(s *core.TableSchema) error {
	if r.Format() == FormatJSON || r.Format() == FormatYAML {
		return r.encode(newSchemaView(s))
	}

	cols := r.newTable()
	cols.SetTitle(s.Table)
	cols.AppendHeader(table.Row{"#", "Column", "Type", "Nullable", "Key"})
	for _, c := range s.Columns {
		key := ""
		if c.IsPrimaryKey {
			key = "PK"
		}
		cols.AppendRow(table.Row{c.Position, c.Name, c.Type, yesNo(c.Nullable), key})
	}
	r.render(cols)

	if len(s.Indexes) == 0 || r.Format() == FormatCSV {
		return nil
	}
	_, _ = fmt.Fprintln(r.out)
	idx := r.newTable()
	idx.AppendHeader(table.Row{"Index", "Columns", "Unique"})
	for _, i := range s.Indexes {
		idx.AppendRow(table.Row{i.Name, strings.Join(i.Columns, ", "), yesNo(i.Unique)})
	}
	r.render(idx)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Count renders a single row count.
func (r *Renderer) Count(table string, n int64, exact bool) error {
	if r.Format() == FormatJSON || r.Format() == FormatYAML {
		return r.encode(map[string]any{"table": table, "rows": n, "exact": exact})
	}
	if n < 0 {
		_, _ = fmt.Fprintf(r.out, "%s: no estimate available\n", table)
		return nil
	}
	prefix := ""
	if !exact {
		prefix = "~"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %s%s rows\n", table, prefix, humanize.Comma(n))
	return nil
}

// Profiles renders saved connection profiles without credentials.
func (r *Renderer) Profiles(profiles []core.ConnectionProfile) error {
	if r.Format() == FormatJSON || r.Format() == FormatYAML {
		type view struct {
			Name     string `json:"name" yaml:"name"`
			Engine   string `json:"engine" yaml:"engine"`
			Address  string `json:"address,omitempty" yaml:"address,omitempty"`
			Database string `json:"database,omitempty" yaml:"database,omitempty"`
			User     string `json:"user,omitempty" yaml:"user,omitempty"`
		}
		views := make([]view, 0, len(profiles))
		for _, p := range profiles {
			views = append(views, view{Name: p.Name, Engine: string(p.Engine), Address: address(p), Database: p.Database, User: p.Username})
		}
		return r.encode(views)
	}

	if len(profiles) == 0 {
		_, _ = fmt.Fprintln(r.out, "(no profiles)")
		return nil
	}
	t := r.newTable()
	t.AppendHeader(table.Row{"Name", "Engine", "Address", "Database", "User"})
	for _, p := range profiles {
		t.AppendRow(table.Row{p.Name, string(p.Engine), address(p), p.Database, p.Username})
	}
	r.render(t)
	return nil
}

func address(p core.ConnectionProfile) string {
	if p.Engine == core.EngineSQLite {
		return ""
	}
	return p.Address()
}
