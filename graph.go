package keel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// snapshotConcurrency bounds the number of snapshot loads in flight
// while the subject graph is being prepared.
const snapshotConcurrency = 4

// graphBuilder walks a submitted record graph through relation
// metadata, creating one subject per distinct record instance, tagging
// insert/update/remove intent and following cascade flags. It then
// fetches stored snapshots as diff baselines and validates the whole
// batch before any statement is issued.
type graphBuilder struct {
	loader Loader
	arena  *arena
}

func newGraphBuilder(loader Loader) *graphBuilder {
	return &graphBuilder{loader: loader, arena: newArena()}
}

// build collects the subject set for the given roots and intent,
// loads snapshots and validates the batch.
func (b *graphBuilder) build(ctx context.Context, op Op, recs []*Record) error {
	for _, rec := range recs {
		b.collect(rec, op)
	}
	if err := b.loadSnapshots(ctx); err != nil {
		return err
	}
	return b.validate()
}

// collect creates or reuses the subject for the record and recurses
// into cascade-eligible relations. Reuse is keyed by record identity:
// the same instance reached via two paths maps to one subject.
func (b *graphBuilder) collect(rec *Record, op Op) *Subject {
	if s, ok := b.arena.subject(rec); ok {
		return s
	}
	resolved := op
	if op == OpSave {
		if _, ok := rec.pk(); ok {
			resolved = OpUpdate
		} else {
			resolved = OpInsert
		}
	}
	s := b.arena.add(rec, resolved)
	childOp := op
	if op != OpRemove {
		// Cascaded records decide insert vs. update on their own key.
		childOp = OpSave
	}
	for _, rel := range rec.Meta().AllRelations() {
		follow := rel.SaveCascade
		if op == OpRemove {
			follow = rel.RemoveCascade
		}
		if !follow {
			continue
		}
		v, ok := rec.Get(rel.Name)
		if !ok || v == nil {
			continue
		}
		switch rv := v.(type) {
		case *Record:
			b.collect(rv, childOp)
		case []*Record:
			for _, child := range rv {
				b.collect(child, childOp)
			}
		case []any:
			for _, e := range rv {
				if child, ok := e.(*Record); ok {
					b.collect(child, childOp)
				}
			}
		}
	}
	return s
}

// loadSnapshots fetches the last-persisted state for every subject
// whose primary key is already known. Related values come back in
// id-only form and serve as the diff baseline.
func (b *graphBuilder) loadSnapshots(ctx context.Context) error {
	if b.loader == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrency)
	for _, s := range b.arena.subjects {
		if s.op == OpInsert {
			continue
		}
		pk, ok := s.record.pk()
		if !ok {
			continue
		}
		g.Go(func() error {
			snap, err := b.loader.Snapshot(ctx, s.meta, pk)
			if err != nil {
				return fmt.Errorf("keel: loading snapshot of %s: %w", s.meta.Name, err)
			}
			s.snapshot = snap
			return nil
		})
	}
	return g.Wait()
}

// validate fails the whole batch before any SQL executes when a
// subject is structurally unfit to persist.
func (b *graphBuilder) validate() error {
	for _, s := range b.arena.subjects {
		switch s.op {
		case OpInsert:
			if err := b.validateInsert(s); err != nil {
				return err
			}
		case OpUpdate:
			if _, ok := s.record.pk(); !ok {
				return &ValidationError{Entity: s.meta.Name, Reason: "update requires a primary key"}
			}
			if err := b.validateUpdate(s); err != nil {
				return err
			}
		case OpRemove:
			if _, ok := s.record.pk(); !ok {
				return &ValidationError{Entity: s.meta.Name, Reason: "remove requires a primary key"}
			}
		}
		if err := b.validateReferences(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *graphBuilder) validateInsert(s *Subject) error {
	// Physical columns covered by an owning relation value.
	backed := make(map[string]bool)
	for _, rel := range s.meta.AllRelations() {
		if !rel.Owning {
			continue
		}
		if v, ok := s.record.Get(rel.Name); ok && v != nil {
			backed[rel.JoinKey] = true
		}
	}
	for _, c := range s.meta.AllColumns() {
		if !s.meta.Required(c) {
			continue
		}
		if v, ok := s.record.Get(c.Name); ok && v != nil {
			continue
		}
		if backed[c.Key] {
			continue
		}
		return &ValidationError{Entity: s.meta.Name, Name: c.Name, Reason: "required column has no value"}
	}
	for _, rel := range s.meta.AllRelations() {
		if !rel.Owning || rel.Nullable {
			continue
		}
		// The join column may be provided either through the relation
		// property or through a plain column sharing its storage key.
		if v, ok := s.record.Get(rel.Name); ok && v != nil {
			continue
		}
		if c, ok := s.meta.ColumnByKey(rel.JoinKey); ok {
			if v, provided := s.record.Get(c.Name); provided && v != nil {
				continue
			}
		}
		return &ValidationError{Entity: s.meta.Name, Name: rel.Name, Reason: "required relation has no value"}
	}
	return nil
}

// validateUpdate performs the pre-flight optimistic-lock check: an
// in-memory version that already differs from the stored row fails
// without issuing an UPDATE.
func (b *graphBuilder) validateUpdate(s *Subject) error {
	ver := s.meta.VersionColumn()
	if ver == nil || s.snapshot == nil {
		return nil
	}
	v, ok := s.record.Get(ver.Name)
	if !ok || v == nil {
		return nil
	}
	stored, exists := s.snapshot[ver.Name]
	if !exists || equalValue(ver, v, stored) {
		return nil
	}
	pk, _ := s.record.pk()
	return &OptimisticLockError{Entity: s.meta.Name, ID: pkScalar(pk)}
}

// validateReferences rejects a subject pointing at a related record
// that has neither a primary key nor a pending insert in this batch:
// its join-column value could never be resolved.
func (b *graphBuilder) validateReferences(s *Subject) error {
	if s.op == OpRemove {
		return nil
	}
	for _, rel := range s.meta.AllRelations() {
		if !rel.Owning {
			continue
		}
		v, ok := s.record.Get(rel.Name)
		if !ok || v == nil {
			continue
		}
		related, ok := v.(*Record)
		if !ok {
			continue
		}
		if _, err := rel.RefColumn(); err != nil {
			return &ValidationError{Entity: s.meta.Name, Name: rel.Name, Reason: err.Error()}
		}
		if sibling, ok := b.arena.subject(related); ok && sibling.op == OpInsert {
			continue
		}
		ref, _ := rel.RefColumn()
		if rv := related.Value(ref.Name); rv == nil {
			return &ValidationError{
				Entity: s.meta.Name,
				Name:   rel.Name,
				Reason: fmt.Sprintf("related %s has no %s value and no pending insert in this batch", rel.Target.Name, ref.Name),
			}
		}
	}
	return nil
}

// pkScalar reduces a primary-key map to its single value when possible,
// for readable error messages.
func pkScalar(pk map[string]any) any {
	if len(pk) == 1 {
		for _, v := range pk {
			return v
		}
	}
	return pk
}
