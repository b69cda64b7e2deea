package core

import "time"

// TableKind distinguishes browsable object types.
type TableKind string

// Table kinds.
const (
	KindTable      TableKind = "table"
	KindView       TableKind = "view"
	KindCollection TableKind = "collection"
)

// TableDescriptor describes one table or collection. Produced fresh on every
// listing and never cached.
type TableDescriptor struct {
	Schema             string
	Name               string
	Kind               TableKind
	EstimatedRowCount  int64 // -1 when the engine has no estimate
	EstimatedSizeBytes int64 // -1 when unknown
}

// QualifiedName returns schema.name, or name alone when the schema is empty.
func (t TableDescriptor) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnDescriptor describes one column. Document stores report columns
// inferred from a sample of documents.
type ColumnDescriptor struct {
	Name         string
	Type         string
	Nullable     bool
	IsPrimaryKey bool
	Position     int
}

// IndexDescriptor describes one index.
type IndexDescriptor struct {
	Name       string
	Columns    []string
	Unique     bool
	Definition string
}

// TableSchema is the description of a single table.
type TableSchema struct {
	Table   string
	Columns []ColumnDescriptor
	Indexes []IndexDescriptor
}

// PageRequest asks for one window of rows. Filter and Sort are opaque clauses
// in the engine's own dialect; empty means none.
type PageRequest struct {
	Table    string
	Filter   string
	Sort     string
	Offset   int
	Limit    int
	Sequence uint64
}

// PageResult is one window of rows. Rows are positional with respect to Columns.
// The total row count is not part of a page; it is fetched separately.
type PageResult struct {
	Columns      []string
	Rows         [][]any
	Elapsed      time.Duration
	RowsReturned int
	Sequence     uint64

	// Truncated is set when a raw query produced more rows than the adapter keeps.
	Truncated bool
}
