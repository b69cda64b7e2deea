package adapter

import (
	"testing"

	"github.com/leapstack-labs/dbrowse/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPageQuery(t *testing.T) {
	tests := []struct {
		name     string
		req      core.PageRequest
		expected string
	}{
		{
			name:     "no filter or sort",
			req:      core.PageRequest{Offset: 0, Limit: 10},
			expected: `SELECT * FROM "users" LIMIT 10 OFFSET 0`,
		},
		{
			name:     "filter only",
			req:      core.PageRequest{Filter: "age > 30", Offset: 20, Limit: 10},
			expected: `SELECT * FROM "users" WHERE (age > 30) LIMIT 10 OFFSET 20`,
		},
		{
			name:     "sort only",
			req:      core.PageRequest{Sort: "id DESC", Limit: 2},
			expected: `SELECT * FROM "users" ORDER BY id DESC LIMIT 2 OFFSET 0`,
		},
		{
			name:     "filter and sort",
			req:      core.PageRequest{Filter: "name LIKE 'a%' OR id = 1", Sort: "name", Offset: 5, Limit: 5},
			expected: `SELECT * FROM "users" WHERE (name LIKE 'a%' OR id = 1) ORDER BY name LIMIT 5 OFFSET 5`,
		},
		{
			name:     "blank clauses are omitted",
			req:      core.PageRequest{Filter: "  ", Sort: "\t", Limit: 1},
			expected: `SELECT * FROM "users" LIMIT 1 OFFSET 0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildPageQuery(`"users"`, tt.req))
		})
	}
}

func TestBuildCountQuery(t *testing.T) {
	assert.Equal(t, "SELECT COUNT(*) FROM `t`", BuildCountQuery("`t`", ""))
	assert.Equal(t, "SELECT COUNT(*) FROM `t` WHERE (a = 1)", BuildCountQuery("`t`", "a = 1"))
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		input    string
		quote    rune
		expected string
	}{
		{"users", DoubleQuote, `"users"`},
		{`we"ird`, DoubleQuote, `"we""ird"`},
		{"users", Backtick, "`users`"},
		{"we`ird", Backtick, "`we``ird`"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdent(tt.input, tt.quote))
		})
	}
}

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, `"public"."users"`, QuoteQualified("public.users", DoubleQuote))
	assert.Equal(t, "`users`", QuoteQualified("users", Backtick))
	assert.Equal(t, "`db`.`events`", QuoteQualified("db.events", Backtick))
}

func TestParseQualifiedName(t *testing.T) {
	schema, name := ParseQualifiedName("users", "public")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "users", name)

	schema, name = ParseQualifiedName("sales.orders", "public")
	assert.Equal(t, "sales", schema)
	assert.Equal(t, "orders", name)

	schema, name = ParseQualifiedName(".hidden", "main")
	assert.Equal(t, "main", schema)
	assert.Equal(t, ".hidden", name)
}

func TestValidatePageRequest(t *testing.T) {
	require.NoError(t, ValidatePageRequest(core.PageRequest{Table: "t", Limit: 1}))

	var syntaxErr *core.QuerySyntaxError
	assert.ErrorAs(t, ValidatePageRequest(core.PageRequest{Table: "t", Limit: 0}), &syntaxErr)
	assert.ErrorAs(t, ValidatePageRequest(core.PageRequest{Table: "t", Limit: 5, Offset: -1}), &syntaxErr)
	assert.ErrorAs(t, ValidatePageRequest(core.PageRequest{Limit: 5}), &syntaxErr)
}

func TestSortTables(t *testing.T) {
	tables := []core.TableDescriptor{
		{Name: "small", EstimatedSizeBytes: 10},
		{Name: "b_unknown", EstimatedSizeBytes: -1},
		{Name: "big", EstimatedSizeBytes: 5000},
		{Name: "a_unknown", EstimatedSizeBytes: -1},
	}
	SortTables(tables)

	var names []string
	for _, tbl := range tables {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"big", "small", "a_unknown", "b_unknown"}, names)
}
