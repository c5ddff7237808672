package keel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/keel/dialect"
	dsql "github.com/syssam/keel/dialect/sql"
	"github.com/syssam/keel/schema"
)

// executor drives the collaborator query layer in plan order inside a
// transaction, merges generated values back into the caller's records,
// and rolls back the whole batch on the first failure.
type executor struct {
	drv       dialect.Driver
	outer     dialect.Tx // caller-supplied transaction, if any
	arena     *arena
	listeners []Listener
	cache     Cache
	now       func() time.Time
}

// execute runs the plan. The transaction is owned by this call unless
// an outer transaction was supplied; an owned transaction commits on
// success and always rolls back on failure.
func (e *executor) execute(ctx context.Context, p *plan) error {
	tx := e.outer
	owned := false
	if tx == nil {
		var err error
		if tx, err = e.drv.Tx(ctx); err != nil {
			return fmt.Errorf("keel: starting transaction: %w", err)
		}
		owned = true
	}
	if err := e.run(ctx, tx, p); err != nil {
		if owned {
			if rerr := tx.Rollback(); rerr != nil {
				return errors.Join(err, &RollbackError{Err: rerr})
			}
		}
		return err
	}
	if owned {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("keel: committing transaction: %w", err)
		}
	}
	return nil
}

func (e *executor) run(ctx context.Context, tx dialect.Tx, p *plan) error {
	for _, s := range p.ordered {
		var err error
		switch s.op {
		case OpInsert:
			err = e.insert(ctx, tx, s)
		case OpUpdate:
			err = e.update(ctx, tx, s)
		case OpRemove:
			err = e.remove(ctx, tx, s)
		}
		if err != nil {
			return err
		}
	}
	for _, d := range p.deferred {
		if err := e.deferredUpdate(ctx, tx, d); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) insert(ctx context.Context, tx dialect.Tx, s *Subject) error {
	if err := e.notify(ctx, OpInsert, PhaseBefore, s.record); err != nil {
		return err
	}
	name := e.drv.Dialect()
	ins := dsql.Insert(s.meta.Table).SetDialect(name)
	for _, ch := range s.changes {
		switch {
		case ch.Column != nil:
			ins.Set(ch.Column.Key, storageValue(ch.Column, ch.Value))
		case ch.Relation != nil:
			if s.deferredRels[ch.Relation.Name] {
				continue
			}
			v, err := e.resolveRelation(ch.Relation, ch.Value)
			if err != nil {
				return err
			}
			ins.Set(ch.Relation.JoinKey, v)
		}
	}
	e.fillInsertDefaults(s, ins)
	var incremented *schema.Column
	for _, c := range s.meta.PK() {
		if c.Generated == schema.GeneratedIncrement && !s.record.Has(c.Name) {
			incremented = c
		}
	}
	var (
		query string
		args  []any
		err   error
	)
	switch {
	case incremented != nil && dsql.SupportsReturning(name):
		query, args = ins.Returning(incremented.Key).Query()
		rows := &dsql.Rows{}
		if err = tx.Query(ctx, query, args, rows); err == nil {
			var id int64
			if rows.Next() {
				err = rows.Scan(&id)
			}
			err = errors.Join(err, rows.Close())
			if err == nil {
				s.record.Set(incremented.Name, id)
			}
		}
	case incremented != nil:
		query, args = ins.Query()
		var res dsql.Result
		if err = tx.Exec(ctx, query, args, &res); err == nil {
			var id int64
			if id, err = res.LastInsertId(); err == nil {
				s.record.Set(incremented.Name, id)
			}
		}
	default:
		query, args = ins.Query()
		err = tx.Exec(ctx, query, args, nil)
	}
	if err != nil {
		return e.queryFailed(s.meta, "insert", query, args, err)
	}
	if err := e.invalidate(ctx, s); err != nil {
		return err
	}
	return e.notify(ctx, OpInsert, PhaseAfter, s.record)
}

// fillInsertDefaults schedules every engine-filled column the caller
// did not provide, merging the values back into the record so the
// caller observes what was written.
func (e *executor) fillInsertDefaults(s *Subject, ins *dsql.InsertBuilder) {
	now := e.now().UTC()
	for _, c := range s.meta.AllColumns() {
		if c.Virtual {
			continue
		}
		if s.record.Has(c.Name) {
			// Engine-managed columns are excluded from change detection,
			// so a caller-provided value still has to be written here.
			if c.Discriminator || c.Version || c.CreateTime {
				ins.Set(c.Key, storageValue(c, s.record.Value(c.Name)))
			}
			continue
		}
		switch {
		case c.Discriminator:
			if s.meta.Discriminator != "" {
				ins.Set(c.Key, s.meta.Discriminator)
				s.record.Set(c.Name, s.meta.Discriminator)
			}
		case c.Version:
			ins.Set(c.Key, int64(1))
			s.record.Set(c.Name, int64(1))
		case c.CreateTime, c.UpdateTime:
			ins.Set(c.Key, storageValue(c, now))
			s.record.Set(c.Name, now)
		case c.Generated == schema.GeneratedUUID:
			id := uuid.NewString()
			ins.Set(c.Key, id)
			s.record.Set(c.Name, id)
		case c.Default != nil:
			v := c.Default
			if fn, ok := v.(func() any); ok {
				v = fn()
			}
			ins.Set(c.Key, storageValue(c, v))
			s.record.Set(c.Name, v)
		}
	}
}

func (e *executor) update(ctx context.Context, tx dialect.Tx, s *Subject) error {
	if !s.hasChanges() {
		return nil
	}
	if err := e.notify(ctx, OpUpdate, PhaseBefore, s.record); err != nil {
		return err
	}
	upd := dsql.Update(s.meta.Table).SetDialect(e.drv.Dialect())
	for _, ch := range s.changes {
		switch {
		case ch.Column != nil:
			upd.Set(ch.Column.Key, storageValue(ch.Column, ch.Value))
		case ch.Relation != nil:
			v, err := e.resolveRelation(ch.Relation, ch.Value)
			if err != nil {
				return err
			}
			upd.Set(ch.Relation.JoinKey, v)
		}
	}
	now := e.now().UTC()
	if c := s.meta.UpdateTimeColumn(); c != nil {
		upd.Set(c.Key, storageValue(c, now))
	}
	ver := s.meta.VersionColumn()
	var storedVersion int64
	if ver != nil {
		storedVersion = e.currentVersion(s, ver)
		upd.Set(ver.Key, storedVersion+1)
	}
	where, err := e.pkPredicate(s)
	if err != nil {
		return err
	}
	if ver != nil {
		where.EQ(ver.Key, storedVersion)
	}
	query, args := upd.Where(where).Query()
	var res dsql.Result
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		return e.queryFailed(s.meta, "update", query, args, err)
	}
	if ver != nil {
		affected, err := res.RowsAffected()
		if err != nil {
			return e.queryFailed(s.meta, "update", query, args, err)
		}
		if affected == 0 {
			pk, _ := s.record.pk()
			return &OptimisticLockError{Entity: s.meta.Name, ID: pkScalar(pk)}
		}
		s.record.Set(ver.Name, storedVersion+1)
	}
	if c := s.meta.UpdateTimeColumn(); c != nil {
		s.record.Set(c.Name, now)
	}
	if err := e.invalidate(ctx, s); err != nil {
		return err
	}
	return e.notify(ctx, OpUpdate, PhaseAfter, s.record)
}

// currentVersion returns the version the stored row is expected to
// hold: the snapshot value when one was loaded, otherwise the value
// carried by the record.
func (e *executor) currentVersion(s *Subject, ver *schema.Column) int64 {
	if s.snapshot != nil {
		if n, ok := toInt64(s.snapshot[ver.Name]); ok {
			return n
		}
	}
	if v, ok := s.record.Get(ver.Name); ok {
		if n, ok := toInt64(v); ok {
			return n
		}
	}
	return 0
}

func (e *executor) remove(ctx context.Context, tx dialect.Tx, s *Subject) error {
	if err := e.notify(ctx, OpRemove, PhaseBefore, s.record); err != nil {
		return err
	}
	where, err := e.pkPredicate(s)
	if err != nil {
		return err
	}
	query, args := dsql.Delete(s.meta.Table).SetDialect(e.drv.Dialect()).Where(where).Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return e.queryFailed(s.meta, "remove", query, args, err)
	}
	if err := e.invalidate(ctx, s); err != nil {
		return err
	}
	return e.notify(ctx, OpRemove, PhaseAfter, s.record)
}

// deferredUpdate fills a join column that was omitted from its insert
// to break a dependency cycle, now that the target key is known.
func (e *executor) deferredUpdate(ctx context.Context, tx dialect.Tx, d deferredWrite) error {
	ref, err := d.rel.RefColumn()
	if err != nil {
		return &ValidationError{Entity: d.subject.meta.Name, Name: d.rel.Name, Reason: err.Error()}
	}
	v, ok := d.target.record.Get(ref.Name)
	if !ok {
		return &ValidationError{
			Entity: d.subject.meta.Name,
			Name:   d.rel.Name,
			Reason: fmt.Sprintf("deferred reference to %s was never resolved", d.rel.Target.Name),
		}
	}
	where, err := e.pkPredicate(d.subject)
	if err != nil {
		return err
	}
	upd := dsql.Update(d.subject.meta.Table).SetDialect(e.drv.Dialect())
	query, args := upd.Set(d.rel.JoinKey, storageValue(ref, v)).Where(where).Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return e.queryFailed(d.subject.meta, "update", query, args, err)
	}
	return e.invalidate(ctx, d.subject)
}

// resolveRelation produces the join-column value of a relation change.
// Pending sibling references resolve through the arena: the target has
// executed by now, so its generated key is present on its record.
func (e *executor) resolveRelation(rel *schema.Relation, v any) (any, error) {
	ref, err := rel.RefColumn()
	if err != nil {
		return nil, &ValidationError{Entity: rel.Target.Name, Name: rel.Name, Reason: err.Error()}
	}
	if r, ok := v.(subjectRef); ok {
		target := e.arena.at(r.index)
		resolved, ok := target.record.Get(ref.Name)
		if !ok {
			return nil, &ValidationError{
				Entity: rel.Target.Name,
				Name:   rel.Name,
				Reason: "pending reference was not resolved before its dependent executed",
			}
		}
		v = resolved
	}
	return storageValue(ref, v), nil
}

// pkPredicate builds the primary-key predicate of the subject.
func (e *executor) pkPredicate(s *Subject) (*dsql.Predicate, error) {
	pk, ok := s.record.pk()
	if !ok {
		return nil, &ValidationError{Entity: s.meta.Name, Reason: "primary key is not set"}
	}
	p := &dsql.Predicate{}
	for _, c := range s.meta.PK() {
		p.EQ(c.Key, storageValue(c, pk[c.Name]))
	}
	return p, nil
}

// notify delivers a lifecycle event to every listener. A listener
// failure is treated exactly like an execution failure.
func (e *executor) notify(ctx context.Context, op Op, phase Phase, rec *Record) error {
	for _, l := range e.listeners {
		if err := l(ctx, Event{Op: op, Phase: phase, Record: rec}); err != nil {
			return fmt.Errorf("keel: %s %s listener: %w", phase, op, err)
		}
	}
	return nil
}

// invalidate drops the cached snapshot of the subject's row, if a
// snapshot cache is configured and the row's key is known.
func (e *executor) invalidate(ctx context.Context, s *Subject) error {
	if e.cache == nil {
		return nil
	}
	pk, ok := s.record.pk()
	if !ok {
		return nil
	}
	if err := e.cache.Delete(ctx, snapshotKey(s.meta, pk)); err != nil {
		return fmt.Errorf("keel: invalidating snapshot of %s: %w", s.meta.Name, err)
	}
	return nil
}

func (e *executor) queryFailed(meta *schema.Entity, op, query string, args []any, err error) error {
	if kind := dsql.ConstraintKindOf(err); kind != dsql.ConstraintNone {
		err = fmt.Errorf("%s constraint violation: %w", kind, err)
	}
	return &QueryFailedError{Entity: meta.Name, Op: op, Query: query, Args: args, Err: err}
}
