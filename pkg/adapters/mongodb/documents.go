package mongodb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/dbrowse/pkg/core"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const idField = "_id"

// parseFilter decodes a relaxed Extended JSON filter document.
// An empty filter matches every document.
func parseFilter(filter string) (bson.D, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(filter), false, &doc); err != nil {
		return nil, &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: "invalid filter document: " + err.Error()}
	}
	return doc, nil
}

// parseSort accepts either an Extended JSON sort document ({"age": -1}) or a
// list in the form "field [ASC|DESC], ...".
func parseSort(s string) (bson.D, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "{") {
		var doc bson.D
		if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
			return nil, &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: "invalid sort document: " + err.Error()}
		}
		return doc, nil
	}

	var doc bson.D
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch {
		case len(fields) == 1:
			doc = append(doc, bson.E{Key: fields[0], Value: 1})
		case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
			doc = append(doc, bson.E{Key: fields[0], Value: 1})
		case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
			doc = append(doc, bson.E{Key: fields[0], Value: -1})
		default:
			return nil, &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: fmt.Sprintf("invalid sort term %q", strings.TrimSpace(part))}
		}
	}
	return doc, nil
}

// documentsToPage flattens documents into a table. Columns are the union of
// top-level keys with _id first and the rest sorted. Absent fields are nil;
// embedded documents and arrays are rendered as JSON text.
func documentsToPage(docs []bson.D) ([]string, [][]any) {
	seen := make(map[string]struct{})
	for _, doc := range docs {
		for _, e := range doc {
			seen[e.Key] = struct{}{}
		}
	}

	columns := make([]string, 0, len(seen))
	_, hasID := seen[idField]
	for k := range seen {
		if k != idField {
			columns = append(columns, k)
		}
	}
	sort.Strings(columns)
	if hasID {
		columns = append([]string{idField}, columns...)
	}

	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		byKey := make(map[string]any, len(doc))
		for _, e := range doc {
			byKey[e.Key] = e.Value
		}
		row := make([]any, len(columns))
		for i, col := range columns {
			v, ok := byKey[col]
			if !ok {
				continue
			}
			row[i] = cellValue(v)
		}
		rows = append(rows, row)
	}
	return columns, rows
}

// cellValue converts a top-level field into a display value.
func cellValue(v any) any {
	switch v.(type) {
	case bson.D, bson.M, bson.A:
		b, err := json.Marshal(plainValue(v))
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return plainValue(v)
	}
}

// plainValue converts BSON types into plain Go values.
func plainValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case bson.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format(time.RFC3339)
	case bson.Binary:
		return fmt.Sprintf("Binary(%d bytes)", len(val.Data))
	case bson.Decimal128:
		return val.String()
	case bson.Regex:
		return "/" + val.Pattern + "/" + val.Options
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = plainValue(e)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}

// typeName returns the BSON type alias of a decoded value.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.ObjectID:
		return "objectId"
	case bson.DateTime:
		return "date"
	case bson.Timestamp:
		return "timestamp"
	case bson.Binary:
		return "binData"
	case bson.Decimal128:
		return "decimal"
	case bson.Regex:
		return "regex"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// inferColumns derives column descriptors from sampled documents. A field is
// nullable when some sampled document lacks it or holds null. Types observed
// for the same field are joined with "|".
func inferColumns(docs []bson.D) []core.ColumnDescriptor {
	type field struct {
		types    map[string]struct{}
		present  int
		nullable bool
	}
	var order []string
	fields := make(map[string]*field)

	for _, doc := range docs {
		for _, e := range doc {
			f, ok := fields[e.Key]
			if !ok {
				f = &field{types: make(map[string]struct{})}
				fields[e.Key] = f
				order = append(order, e.Key)
			}
			f.present++
			t := typeName(e.Value)
			if t == "null" {
				f.nullable = true
				continue
			}
			f.types[t] = struct{}{}
		}
	}

	// _id leads, remaining fields keep first-seen order.
	sort.SliceStable(order, func(i, j int) bool { return order[i] == idField && order[j] != idField })

	columns := make([]core.ColumnDescriptor, 0, len(order))
	for i, name := range order {
		f := fields[name]
		types := make([]string, 0, len(f.types))
		for t := range f.types {
			types = append(types, t)
		}
		sort.Strings(types)
		typ := strings.Join(types, "|")
		if typ == "" {
			typ = "null"
		}
		columns = append(columns, core.ColumnDescriptor{
			Name:         name,
			Type:         typ,
			Nullable:     f.nullable || f.present < len(docs),
			IsPrimaryKey: name == idField,
			Position:     i + 1,
		})
	}
	return columns
}

// indexColumns lists the keys of an index key document.
func indexColumns(keys bson.Raw) []string {
	elems, err := keys.Elements()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		out = append(out, e.Key())
	}
	return out
}

// toInt64 reads a numeric statistic regardless of its BSON width.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
