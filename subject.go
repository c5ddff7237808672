package keel

import (
	"fmt"

	"github.com/syssam/keel/schema"
)

// Op is the persistence intent of a record or subject.
type Op uint8

// Operations.
const (
	// OpSave is the upsert intent used at the API surface: records with
	// a known primary key become updates, the rest become inserts.
	OpSave Op = iota
	OpInsert
	OpUpdate
	OpRemove
)

// String returns the operation token, e.g. "insert".
func (o Op) String() string {
	switch o {
	case OpSave:
		return "save"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(o))
	}
}

// ChangeRecord is one scheduled write: either a column value or the
// join-column value of an owning relation, never both.
type ChangeRecord struct {
	Column   *schema.Column
	Relation *schema.Relation
	// Value is the entity-side value to write. For relation changes it
	// may be a subjectRef placeholder resolved during execution, once
	// the referenced sibling has a generated primary key.
	Value any
}

// subjectRef is an unresolved cross-reference: the arena index of a
// sibling subject whose primary key is not known until it executes.
type subjectRef struct {
	index int
}

// Subject is one unit of work: an entity instance paired with its
// persistence intent, its last-known stored state and the set of
// changes computed against it.
type Subject struct {
	index    int // arena index, also the submission order
	meta     *schema.Entity
	record   *Record
	snapshot map[string]any // stored state by property name; nil for fresh inserts

	op       Op
	changes  []ChangeRecord
	diffCols []*schema.Column
	diffRels []*schema.Relation

	// deferredRels marks owning relations whose join column is omitted
	// from the insert and filled by a follow-up update, to break a
	// nullable dependency cycle.
	deferredRels map[string]bool
}

// hasChanges reports whether any column or relation differs.
func (s *Subject) hasChanges() bool {
	return len(s.diffCols) > 0 || len(s.diffRels) > 0
}

// upsertColumnChange records a column write, replacing the value of an
// existing change for the same column.
func (s *Subject) upsertColumnChange(c *schema.Column, v any) {
	for i := range s.changes {
		if s.changes[i].Column == c {
			s.changes[i].Value = v
			return
		}
	}
	s.changes = append(s.changes, ChangeRecord{Column: c, Value: v})
	s.diffCols = append(s.diffCols, c)
}

// upsertRelationChange records a relation write, replacing the value of
// an existing change for the same relation.
func (s *Subject) upsertRelationChange(r *schema.Relation, v any) {
	for i := range s.changes {
		if s.changes[i].Relation == r {
			s.changes[i].Value = v
			return
		}
	}
	s.changes = append(s.changes, ChangeRecord{Relation: r, Value: v})
	s.diffRels = append(s.diffRels, r)
}

// relationChange returns the change record for the given relation, if any.
func (s *Subject) relationChange(r *schema.Relation) (ChangeRecord, bool) {
	for _, ch := range s.changes {
		if ch.Relation == r {
			return ch, true
		}
	}
	return ChangeRecord{}, false
}

// arena owns every subject of one batch. Subjects are indexed by their
// submission order, and deduplicated by record identity through a side
// table: one record instance maps to exactly one subject no matter how
// many relation paths reach it.
type arena struct {
	subjects []*Subject
	byRecord map[*Record]*Subject
}

func newArena() *arena {
	return &arena{byRecord: make(map[*Record]*Subject)}
}

// subject returns the subject holding the given record, if present.
func (a *arena) subject(rec *Record) (*Subject, bool) {
	s, ok := a.byRecord[rec]
	return s, ok
}

// add creates a subject for the record with the given resolved intent.
func (a *arena) add(rec *Record, op Op) *Subject {
	s := &Subject{
		index:        len(a.subjects),
		meta:         rec.Meta(),
		record:       rec,
		op:           op,
		deferredRels: make(map[string]bool),
	}
	a.subjects = append(a.subjects, s)
	a.byRecord[rec] = s
	return s
}

// at returns the subject with the given arena index.
func (a *arena) at(index int) *Subject {
	return a.subjects[index]
}
