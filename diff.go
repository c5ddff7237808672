package keel

import (
	"github.com/syssam/keel/schema"
)

// Change detection. computeChanges annotates every subject in place
// with the columns and owning relations whose entity-side value differs
// from the stored snapshot. It has no other side effects and raises no
// errors: structural problems are the graph builder's job, execution
// failures the executor's.
func computeChanges(a *arena) {
	for _, s := range a.subjects {
		computeSubject(a, s)
	}
}

func computeSubject(a *arena, s *Subject) {
	if s.op == OpRemove {
		return
	}
	// Physical columns already supplied by an owning relation on this
	// subject. The relation diff takes precedence, so the plain-column
	// comparison is skipped to avoid scheduling one write twice.
	backed := make(map[string]bool)
	for _, rel := range s.meta.AllRelations() {
		if !rel.Owning {
			continue
		}
		if v, ok := s.record.Get(rel.Name); ok && v != nil {
			backed[rel.JoinKey] = true
		}
	}
	// Primary-key columns are never update targets; they address the row.
	pk := make(map[*schema.Column]bool, len(s.meta.PK()))
	if s.op == OpUpdate {
		for _, c := range s.meta.PK() {
			pk[c] = true
		}
	}
	for _, c := range s.meta.AllColumns() {
		if c.Virtual || c.Discriminator || c.Version || c.CreateTime || pk[c] {
			continue
		}
		v, ok := s.record.Get(c.Name)
		if !ok {
			// Not provided. Distinct from an explicit nil, which is a
			// real change to NULL.
			continue
		}
		if backed[c.Key] {
			continue
		}
		if s.snapshot != nil && equalValue(c, v, s.snapshot[c.Name]) {
			continue
		}
		s.upsertColumnChange(c, v)
	}
	for _, rel := range s.meta.AllRelations() {
		if !rel.Owning || rel.JoinKey == "" {
			continue
		}
		v, ok := s.record.Get(rel.Name)
		if !ok {
			continue
		}
		value, pending := relationValue(a, rel, v)
		if !pending && s.snapshot != nil {
			ref, err := rel.RefColumn()
			if err == nil && equalValue(ref, value, s.snapshot[rel.Name]) {
				continue
			}
		}
		s.upsertRelationChange(rel, value)
	}
}

// relationValue reduces a relation property to the value scheduled for
// its join column. A related record that is itself pending insertion in
// the same batch yields a subjectRef placeholder, so the executor can
// resolve it once the sibling's generated key is known. Otherwise the
// referenced column value is extracted, whether the property holds a
// full record or a bare primary-key scalar.
func relationValue(a *arena, rel *schema.Relation, v any) (value any, pending bool) {
	switch rv := v.(type) {
	case nil:
		return nil, false
	case *Record:
		if sibling, ok := a.subject(rv); ok && sibling.op == OpInsert {
			return subjectRef{index: sibling.index}, true
		}
		ref, err := rel.RefColumn()
		if err != nil {
			return nil, false
		}
		return rv.Value(ref.Name), false
	default:
		// Relation-id shortcut: a bare primary-key scalar behaves
		// identically to a record populated only with that key.
		return v, false
	}
}
