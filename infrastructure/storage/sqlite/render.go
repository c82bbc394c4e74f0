package sqlite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// renderer translates neutral filters into SQL. Every rendered predicate
// evaluates to 0 or 1, never NULL, so that negation keeps document-database
// semantics for absent fields.
type renderer struct {
	c storage.Collection
	// inline renders values as literals and avoids subqueries, as required
	// by partial index definitions.
	inline bool
	args   []any
}

func newRenderer(c storage.Collection) *renderer {
	return &renderer{c: c}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// jsonPath converts a dotted field path into a quoted SQLite JSON path.
func jsonPath(field string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(field, ".") {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(seg, `"`, ""))
		b.WriteString(`"`)
	}
	return quoteString(b.String())
}

// expr returns the SQL expression of a scalar field value.
func expr(field string) string {
	if field == storage.FieldDBID {
		return storage.FieldDBID
	}
	return "json_extract(doc, " + jsonPath(field) + ")"
}

func typeOf(field string) string {
	return "json_type(doc, " + jsonPath(field) + ")"
}

// scalar reports whether a field never holds an array, which allows plain
// comparisons that can use expression indexes.
func (r *renderer) scalar(field string) bool {
	return r.inline || field == storage.FieldDBID || field == r.c.PartitionKey
}

func (r *renderer) value(v any) string {
	if r.inline {
		return literal(v)
	}
	r.args = append(r.args, bindValue(v))
	return "?"
}

// bindValue converts a document value to a driver argument.
func bindValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		return t
	case float64, float32, int, int32, int64, uint32, uint64:
		f, _ := storage.ToFloat(t)
		return f
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func literal(v any) string {
	switch t := bindValue(v).(type) {
	case nil:
		return "NULL"
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return quoteString(t)
	default:
		return quoteString(fmt.Sprint(t))
	}
}

func isNumber(v any) bool {
	_, ok := storage.ToFloat(v)
	return ok
}

// where renders a filter.
func (r *renderer) where(f storage.Filter) (string, error) {
	switch t := f.(type) {
	case nil, storage.All:
		return "1", nil
	case storage.Eq:
		return r.eq(t.Field, t.Value), nil
	case storage.Ne:
		return "NOT (" + r.eq(t.Field, t.Value) + ")", nil
	case storage.Gt:
		return r.compare(t.Field, ">", t.Value), nil
	case storage.Gte:
		return r.compare(t.Field, ">=", t.Value), nil
	case storage.Lt:
		return r.compare(t.Field, "<", t.Value), nil
	case storage.Lte:
		return r.compare(t.Field, "<=", t.Value), nil
	case storage.In:
		return r.in(t.Field, t.Values), nil
	case storage.NotIn:
		return "NOT (" + r.in(t.Field, t.Values) + ")", nil
	case storage.Exists:
		if t.Field == storage.FieldDBID {
			if t.Exists {
				return "1", nil
			}
			return "0", nil
		}
		if t.Exists {
			return typeOf(t.Field) + " IS NOT NULL", nil
		}
		return typeOf(t.Field) + " IS NULL", nil
	case storage.Prefix:
		return r.prefix(t.Field, t.Prefix), nil
	case storage.And:
		return r.join(t, " AND ", "1")
	case storage.Or:
		return r.join(t, " OR ", "0")
	case storage.Not:
		inner, err := r.where(t.Filter)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", fmt.Errorf("%w: unsupported filter %T", storage.ErrInvalidOperation, f)
	}
}

func (r *renderer) join(parts []storage.Filter, sep, empty string) (string, error) {
	if len(parts) == 0 {
		return empty, nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s, err := r.where(p)
		if err != nil {
			return "", err
		}
		out = append(out, s)
	}
	return "(" + strings.Join(out, sep) + ")", nil
}

func (r *renderer) eq(field string, v any) string {
	if v == nil {
		if field == storage.FieldDBID {
			return "0"
		}
		return "coalesce(" + typeOf(field) + ", 'null') = 'null'"
	}
	switch v.(type) {
	case []any, map[string]any, storage.Document:
		return "coalesce(" + expr(field) + " = " + r.value(v) + ", 0)"
	}
	if r.scalar(field) {
		return "coalesce(" + expr(field) + " = " + r.value(v) + ", 0)"
	}
	return "EXISTS (SELECT 1 FROM json_each(doc, " + jsonPath(field) + ") AS e WHERE e.value = " + r.value(v) + ")"
}

func (r *renderer) compare(field, op string, v any) string {
	if field == storage.FieldDBID {
		return "coalesce(" + expr(field) + " " + op + " " + r.value(v) + ", 0)"
	}
	guard := typeOf(field) + " = 'text'"
	if isNumber(v) {
		guard = typeOf(field) + " IN ('integer', 'real')"
	}
	return "coalesce(" + guard + " AND " + expr(field) + " " + op + " " + r.value(v) + ", 0)"
}

func (r *renderer) in(field string, values []any) string {
	if len(values) == 0 {
		return "0"
	}
	var parts []string
	var list []string
	for _, v := range values {
		if v == nil {
			parts = append(parts, r.eq(field, nil))
			continue
		}
		list = append(list, r.value(v))
	}
	if len(list) > 0 {
		set := "(" + strings.Join(list, ", ") + ")"
		if r.scalar(field) {
			parts = append(parts, "coalesce("+expr(field)+" IN "+set+", 0)")
		} else {
			parts = append(parts, "EXISTS (SELECT 1 FROM json_each(doc, "+jsonPath(field)+") AS e WHERE e.value IN "+set+")")
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (r *renderer) prefix(field, prefix string) string {
	n := strconv.Itoa(len([]rune(prefix)))
	if r.scalar(field) {
		return "coalesce(substr(" + expr(field) + ", 1, " + n + ") = " + r.value(prefix) + ", 0)"
	}
	return "EXISTS (SELECT 1 FROM json_each(doc, " + jsonPath(field) + ") AS e WHERE e.type = 'text' AND substr(e.value, 1, " + n + ") = " + r.value(prefix) + ")"
}

// orderBy renders sort keys, with insertion order as the final tie-break.
func orderBy(keys []storage.SortKey) string {
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		dir := "ASC"
		if k.Direction == storage.Descending {
			dir = "DESC"
		}
		parts = append(parts, expr(k.Field)+" "+dir)
	}
	parts = append(parts, "rowid ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

// createIndexSQL renders the DDL of an effective index. Unique keys fold
// null and absent values together so that, like in a document database,
// two documents missing the field collide unless a partial filter excludes
// them.
func createIndexSQL(c storage.Collection, idx storage.Index) (string, error) {
	cols := make([]string, 0, len(idx.Keys))
	for _, k := range idx.Keys {
		col := expr(k.Field)
		if idx.Unique && k.Field != storage.FieldDBID {
			col = "ifnull(" + col + ", '')"
		}
		if k.Direction == storage.Descending {
			col += " DESC"
		}
		cols = append(cols, col)
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX IF NOT EXISTS ")
	b.WriteString(quoteIdent(idx.Name))
	b.WriteString(" ON ")
	b.WriteString(quoteIdent(c.Name))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(")")

	if idx.Partial != nil {
		r := &renderer{c: c, inline: true}
		where, err := r.where(idx.Partial)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	return b.String(), nil
}
