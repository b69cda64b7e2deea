// Package schema lists and describes tables through the executor. Nothing is
// cached: every call asks the engine.
package schema

import (
	"context"
	"strings"

	"github.com/leapstack-labs/dbrowse/internal/executor"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Operation names used for metrics and logs.
const (
	OpListTables    = "list_tables"
	OpDescribeTable = "describe_table"
)

// Inspector answers schema questions against a live connection.
type Inspector struct {
	exec *executor.Executor
}

// New creates an Inspector running its calls on exec.
func New(exec *executor.Executor) *Inspector {
	return &Inspector{exec: exec}
}

// ListTables returns the tables of the connection ordered by estimated size
// descending, then by qualified name.
func (i *Inspector) ListTables(ctx context.Context, conn executor.Target) ([]core.TableDescriptor, error) {
	out := executor.Execute(ctx, i.exec, conn, OpListTables,
		func(ctx context.Context, a adapter.Adapter) ([]core.TableDescriptor, error) {
			return a.ListTables(ctx)
		})
	return out.Value, out.Err
}

// DescribeTable returns the columns and indexes of table.
func (i *Inspector) DescribeTable(ctx context.Context, conn executor.Target, table string) (*core.TableSchema, error) {
	if strings.TrimSpace(table) == "" {
		return nil, &core.NotFoundError{Object: "table", Message: "no table name given"}
	}
	out := executor.Execute(ctx, i.exec, conn, OpDescribeTable,
		func(ctx context.Context, a adapter.Adapter) (*core.TableSchema, error) {
			return a.GetTableSchema(ctx, table)
		})
	return out.Value, out.Err
}

// FilterTables keeps the tables whose qualified name contains term, ignoring
// case. An empty term keeps everything.
func FilterTables(tables []core.TableDescriptor, term string) []core.TableDescriptor {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return tables
	}
	var out []core.TableDescriptor
	for _, t := range tables {
		if strings.Contains(strings.ToLower(t.QualifiedName()), term) {
			out = append(out, t)
		}
	}
	return out
}
