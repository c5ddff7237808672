package keel

import (
	"github.com/syssam/keel/schema"
)

// Record is one in-memory entity instance: a mutable set of property
// values paired with the entity descriptor they belong to.
//
// A property that was never set is "not provided" and ignored by change
// detection. A property explicitly set to nil is a real null value.
// Relation properties hold either a related *Record, a slice of related
// records, or a bare primary-key scalar (the relation-id shortcut).
//
// Records are deduplicated by pointer identity: the same *Record
// reached through two relation paths maps to exactly one unit of work.
type Record struct {
	meta   *schema.Entity
	fields map[string]any
}

// NewRecord returns an empty record of the given entity.
func NewRecord(meta *schema.Entity) *Record {
	return &Record{meta: meta, fields: make(map[string]any)}
}

// Meta returns the entity descriptor of the record.
func (r *Record) Meta() *schema.Entity { return r.meta }

// Set assigns a property value and returns the record.
func (r *Record) Set(name string, v any) *Record {
	r.fields[name] = v
	return r
}

// Get returns the property value and whether it was provided.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Value returns the property value, or nil if it was not provided.
func (r *Record) Value(name string) any {
	return r.fields[name]
}

// Has reports whether the property was provided.
func (r *Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// Unset removes a property, returning it to the "not provided" state.
func (r *Record) Unset(name string) {
	delete(r.fields, name)
}

// Fields returns a shallow copy of the provided properties.
func (r *Record) Fields() map[string]any {
	m := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		m[k] = v
	}
	return m
}

// pk returns the primary-key values keyed by property name, and whether
// every primary-key column has a non-nil value.
func (r *Record) pk() (map[string]any, bool) {
	cols := r.meta.PK()
	m := make(map[string]any, len(cols))
	for _, c := range cols {
		v, ok := r.fields[c.Name]
		if !ok || v == nil {
			return nil, false
		}
		m[c.Name] = v
	}
	return m, true
}
