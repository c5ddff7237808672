package sql

import (
	"sort"
	"strconv"
	"strings"

	"github.com/syssam/keel/dialect"
)

// Builder is the base query builder shared by the statement builders.
// It holds the dialect, the accumulated query text and its arguments.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// Dialect sets the dialect of the builder.
func (b *Builder) Dialect(name string) {
	b.dialect = name
}

// Quote quotes the given identifier according to the configured dialect.
func (b *Builder) Quote(ident string) string {
	quote := `"`
	if b.dialect == dialect.MySQL {
		quote = "`"
	}
	return quote + ident + quote
}

// Arg appends an argument and writes its placeholder.
func (b *Builder) Arg(v any) {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
}

// WriteString appends the given string to the query buffer.
func (b *Builder) WriteString(s string) {
	b.sb.WriteString(s)
}

// String returns the accumulated query text.
func (b *Builder) String() string { return b.sb.String() }

// Predicate is a conjunction of column = value (or IS NULL) conditions,
// applied to UPDATE and DELETE statements.
type Predicate struct {
	conds []cond
}

type cond struct {
	column string
	value  any
	isNull bool
}

// EQ returns a column = value predicate.
func EQ(column string, value any) *Predicate {
	return (&Predicate{}).EQ(column, value)
}

// EQ appends a column = value condition.
func (p *Predicate) EQ(column string, value any) *Predicate {
	p.conds = append(p.conds, cond{column: column, value: value})
	return p
}

// IsNull appends a column IS NULL condition.
func (p *Predicate) IsNull(column string) *Predicate {
	p.conds = append(p.conds, cond{column: column, isNull: true})
	return p
}

func (p *Predicate) build(b *Builder) {
	for i, c := range p.conds {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(b.Quote(c.column))
		if c.isNull {
			b.WriteString(" IS NULL")
			continue
		}
		b.WriteString(" = ")
		b.Arg(c.value)
	}
}

// InsertBuilder builds a single-row INSERT statement.
type InsertBuilder struct {
	Builder
	table     string
	columns   []string
	values    map[string]any
	returning []string
}

// Insert returns a builder for an INSERT statement into the given table.
// Columns are emitted in Set call order.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table, values: make(map[string]any)}
}

// SetDialect sets the dialect and returns the builder.
func (i *InsertBuilder) SetDialect(name string) *InsertBuilder {
	i.Dialect(name)
	return i
}

// Set assigns a value to a column. Setting the same column twice
// keeps its original position and overrides the value.
func (i *InsertBuilder) Set(column string, v any) *InsertBuilder {
	if _, ok := i.values[column]; !ok {
		i.columns = append(i.columns, column)
	}
	i.values[column] = v
	return i
}

// Returning adds a RETURNING clause. Only effective on dialects
// that support it; callers should consult SupportsReturning.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Query returns the statement text and its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	i.WriteString("INSERT INTO ")
	i.WriteString(i.Quote(i.table))
	if len(i.columns) == 0 {
		if i.dialect == dialect.MySQL {
			i.WriteString(" () VALUES ()")
		} else {
			i.WriteString(" DEFAULT VALUES")
		}
	} else {
		i.WriteString(" (")
		for j, c := range i.columns {
			if j > 0 {
				i.WriteString(", ")
			}
			i.WriteString(i.Quote(c))
		}
		i.WriteString(") VALUES (")
		for j, c := range i.columns {
			if j > 0 {
				i.WriteString(", ")
			}
			i.Arg(i.values[c])
		}
		i.WriteString(")")
	}
	if len(i.returning) > 0 && SupportsReturning(i.dialect) {
		i.WriteString(" RETURNING ")
		for j, c := range i.returning {
			if j > 0 {
				i.WriteString(", ")
			}
			i.WriteString(i.Quote(c))
		}
	}
	return i.String(), i.args
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	Builder
	table   string
	columns []string
	values  map[string]any
	where   *Predicate
}

// Update returns a builder for an UPDATE statement on the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table, values: make(map[string]any)}
}

// SetDialect sets the dialect and returns the builder.
func (u *UpdateBuilder) SetDialect(name string) *UpdateBuilder {
	u.Dialect(name)
	return u
}

// Set assigns a value to a column in the SET clause.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	if _, ok := u.values[column]; !ok {
		u.columns = append(u.columns, column)
	}
	u.values[column] = v
	return u
}

// Where sets the WHERE predicate.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	u.where = p
	return u
}

// Query returns the statement text and its arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	u.WriteString("UPDATE ")
	u.WriteString(u.Quote(u.table))
	u.WriteString(" SET ")
	for j, c := range u.columns {
		if j > 0 {
			u.WriteString(", ")
		}
		u.WriteString(u.Quote(c))
		u.WriteString(" = ")
		u.Arg(u.values[c])
	}
	if u.where != nil {
		u.WriteString(" WHERE ")
		u.where.build(&u.Builder)
	}
	return u.String(), u.args
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	Builder
	table string
	where *Predicate
}

// Delete returns a builder for a DELETE statement on the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// SetDialect sets the dialect and returns the builder.
func (d *DeleteBuilder) SetDialect(name string) *DeleteBuilder {
	d.Dialect(name)
	return d
}

// Where sets the WHERE predicate.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	d.where = p
	return d
}

// Query returns the statement text and its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	d.WriteString("DELETE FROM ")
	d.WriteString(d.Quote(d.table))
	if d.where != nil {
		d.WriteString(" WHERE ")
		d.where.build(&d.Builder)
	}
	return d.String(), d.args
}

// SupportsReturning reports whether the dialect can return generated
// values with a RETURNING clause. MySQL and SQLite rely on
// LastInsertId instead.
func SupportsReturning(name string) bool {
	return name == dialect.Postgres
}

// SupportsLastInsertID reports whether sql.Result.LastInsertId is
// meaningful for the dialect.
func SupportsLastInsertID(name string) bool {
	return name == dialect.MySQL || name == dialect.SQLite
}

// SortedKeys returns the keys of the given map in sorted order.
// Used by callers that need deterministic column order from a map.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
