package adapter

import (
	"cmp"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Identifier quote characters.
const (
	DoubleQuote = '"'
	Backtick    = '`'
)

// QuoteIdent quotes a single identifier, doubling embedded quote characters.
func QuoteIdent(name string, quote rune) string {
	q := string(quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// QuoteQualified quotes a possibly schema-qualified name part by part.
func QuoteQualified(table string, quote rune) string {
	schema, name := SplitQualified(table)
	if schema == "" {
		return QuoteIdent(name, quote)
	}
	return QuoteIdent(schema, quote) + "." + QuoteIdent(name, quote)
}

// SplitQualified splits "schema.table" on the first dot. A name without a dot
// has an empty schema.
func SplitQualified(table string) (schema, name string) {
	if i := strings.Index(table, "."); i > 0 && i < len(table)-1 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// ParseQualifiedName splits a table reference into schema and name,
// falling back to defaultSchema.
func ParseQualifiedName(table, defaultSchema string) (schema, name string) {
	schema, name = SplitQualified(table)
	if schema == "" {
		schema = defaultSchema
	}
	return schema, name
}

// ValidatePageRequest rejects windows that no engine can serve.
func ValidatePageRequest(req core.PageRequest) error {
	if strings.TrimSpace(req.Table) == "" {
		return &core.QuerySyntaxError{Message: "table name is required"}
	}
	if req.Limit <= 0 {
		return &core.QuerySyntaxError{Message: fmt.Sprintf("limit must be positive, got %d", req.Limit)}
	}
	if req.Offset < 0 {
		return &core.QuerySyntaxError{Message: fmt.Sprintf("offset must not be negative, got %d", req.Offset)}
	}
	return nil
}

// ValidateRawQuery rejects empty query text before it reaches the engine.
func ValidateRawQuery(text string) error {
	if strings.TrimSpace(text) == "" {
		return &core.QuerySyntaxError{Message: "empty query"}
	}
	return nil
}

// BuildPageQuery renders SELECT * FROM from [WHERE (filter)] [ORDER BY sort] LIMIT n OFFSET m.
// from must already be quoted. Filter and sort are inserted verbatim.
func BuildPageQuery(from string, req core.PageRequest) string {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(from)
	if f := strings.TrimSpace(req.Filter); f != "" {
		sb.WriteString(" WHERE (")
		sb.WriteString(f)
		sb.WriteString(")")
	}
	if s := strings.TrimSpace(req.Sort); s != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(s)
	}
	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(req.Limit))
	sb.WriteString(" OFFSET ")
	sb.WriteString(strconv.Itoa(req.Offset))
	return sb.String()
}

// BuildCountQuery renders SELECT COUNT(*) FROM from [WHERE (filter)].
func BuildCountQuery(from, filter string) string {
	q := "SELECT COUNT(*) FROM " + from
	if f := strings.TrimSpace(filter); f != "" {
		q += " WHERE (" + f + ")"
	}
	return q
}

// ScanRows reads rows into positional values. When limit > 0 at most limit
// rows are kept and truncated reports whether more were available.
func ScanRows(rows *sql.Rows, limit int) (cols []string, data [][]any, truncated bool, err error) {
	cols, err = rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read columns: %w", err)
	}

	data = [][]any{}
	for rows.Next() {
		if limit > 0 && len(data) >= limit {
			truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, false, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			values[i] = NormalizeValue(v)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("error iterating rows: %w", err)
	}
	return cols, data, truncated, nil
}

// NormalizeValue turns driver values into display-friendly Go values.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

// SortTables orders tables by estimated size descending, then by qualified name.
func SortTables(tables []core.TableDescriptor) {
	slices.SortStableFunc(tables, func(a, b core.TableDescriptor) int {
		if c := cmp.Compare(b.EstimatedSizeBytes, a.EstimatedSizeBytes); c != 0 {
			return c
		}
		return cmp.Compare(a.QualifiedName(), b.QualifiedName())
	})
}
