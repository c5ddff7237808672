package keel

import (
	"sort"

	"github.com/syssam/keel/schema"
)

// deferredWrite is the second phase of a broken dependency cycle: the
// subject was inserted with the relation's join column omitted, and a
// follow-up UPDATE fills it once the target's primary key is known.
type deferredWrite struct {
	subject *Subject
	rel     *schema.Relation
	target  *Subject
}

// plan is the linearized batch handed to the executor: subjects in
// dependency order, followed by the deferred cycle-breaking updates.
type plan struct {
	ordered  []*Subject
	deferred []deferredWrite
}

// edge records that its owner subject must execute after the target:
// the owner holds a foreign key referencing the target's primary key.
type edge struct {
	owner    *Subject
	target   *Subject
	rel      *schema.Relation
	nullable bool
}

// orderSubjects linearizes the arena: inserts in stable topological
// order (referenced rows strictly before their referencers, ties broken
// by submission order), modified updates in submission order, removes
// in reverse topological order. Cycles among inserts are resolved by
// deferring nullable join columns to a follow-up update pass; a cycle
// with no nullable edge is a schema-design error.
func orderSubjects(a *arena) (*plan, error) {
	var inserts, updates, removes []*Subject
	for _, s := range a.subjects {
		switch s.op {
		case OpInsert:
			inserts = append(inserts, s)
		case OpUpdate:
			// Persisting an unmodified entity issues zero statements.
			if s.hasChanges() {
				updates = append(updates, s)
			}
		case OpRemove:
			removes = append(removes, s)
		}
	}
	p := &plan{}
	ordered, deferred, err := sortInserts(a, inserts)
	if err != nil {
		return nil, err
	}
	p.ordered = append(p.ordered, ordered...)
	p.deferred = deferred
	p.ordered = append(p.ordered, updates...)
	p.ordered = append(p.ordered, sortRemoves(a, removes)...)
	return p, nil
}

// insertEdges derives the dependency edges among pending inserts from
// the relation changes holding sibling references.
func insertEdges(a *arena, inserts []*Subject) []edge {
	var edges []edge
	for _, s := range inserts {
		for _, ch := range s.changes {
			if ch.Relation == nil {
				continue
			}
			ref, ok := ch.Value.(subjectRef)
			if !ok {
				continue
			}
			target := a.at(ref.index)
			if target.op != OpInsert {
				continue
			}
			edges = append(edges, edge{
				owner:    s,
				target:   target,
				rel:      ch.Relation,
				nullable: ch.Relation.Nullable,
			})
		}
	}
	return edges
}

// sortInserts runs a stable Kahn sort over the insert subjects. When
// the sort stalls on a cycle, the nullable edge whose owner has the
// lowest submission index is broken and turned into a deferred write;
// repeated deterministically until the sort completes.
func sortInserts(a *arena, inserts []*Subject) ([]*Subject, []deferredWrite, error) {
	edges := insertEdges(a, inserts)
	pending := make(map[*Subject]int, len(inserts)) // unsatisfied dependencies per owner
	dependents := make(map[*Subject][]edge)         // target -> edges waiting on it
	for _, e := range edges {
		pending[e.owner]++
		dependents[e.target] = append(dependents[e.target], e)
	}
	var (
		ordered  []*Subject
		deferred []deferredWrite
		emitted  = make(map[*Subject]bool, len(inserts))
		broken   = make(map[edge]bool)
	)
	for len(ordered) < len(inserts) {
		next := pickReady(inserts, pending, emitted)
		if next == nil {
			// Stalled on a cycle. Break the best nullable edge, or fail.
			e, ok := pickBreakable(edges, emitted, broken)
			if !ok {
				return nil, nil, cycleError(inserts, pending, emitted)
			}
			broken[e] = true
			pending[e.owner]--
			e.owner.deferredRels[e.rel.Name] = true
			deferred = append(deferred, deferredWrite{subject: e.owner, rel: e.rel, target: e.target})
			continue
		}
		emitted[next] = true
		ordered = append(ordered, next)
		for _, e := range dependents[next] {
			if !broken[e] {
				pending[e.owner]--
			}
		}
	}
	return ordered, deferred, nil
}

// pickReady returns the unemitted subject with no unsatisfied
// dependencies and the lowest submission index, or nil.
func pickReady(inserts []*Subject, pending map[*Subject]int, emitted map[*Subject]bool) *Subject {
	for _, s := range inserts {
		if !emitted[s] && pending[s] == 0 {
			return s
		}
	}
	return nil
}

// pickBreakable returns the unbroken nullable edge between unemitted
// subjects whose owner (then target) has the lowest submission index.
func pickBreakable(edges []edge, emitted map[*Subject]bool, broken map[edge]bool) (edge, bool) {
	var (
		best  edge
		found bool
	)
	for _, e := range edges {
		if broken[e] || !e.nullable || emitted[e.owner] || emitted[e.target] {
			continue
		}
		if !found ||
			e.owner.index < best.owner.index ||
			(e.owner.index == best.owner.index && e.target.index < best.target.index) {
			best, found = e, true
		}
	}
	return best, found
}

// cycleError names the stuck subjects in submission order.
func cycleError(inserts []*Subject, pending map[*Subject]int, emitted map[*Subject]bool) error {
	var names []string
	for _, s := range inserts {
		if !emitted[s] && pending[s] > 0 {
			names = append(names, s.meta.Name)
		}
	}
	sort.Strings(names)
	return &CycleError{Entities: names}
}

// sortRemoves orders remove subjects so that dependents are removed
// strictly before the rows they reference: the reverse of the insert
// topology over the same edges. Even where the store could cascade the
// delete itself, explicit deletes keep the subject set and lifecycle
// notifications consistent.
func sortRemoves(a *arena, removes []*Subject) []*Subject {
	if len(removes) <= 1 {
		return removes
	}
	edges := removeEdges(a, removes)
	pending := make(map[*Subject]int, len(removes))
	dependents := make(map[*Subject][]edge)
	for _, e := range edges {
		pending[e.owner]++
		dependents[e.target] = append(dependents[e.target], e)
	}
	var (
		ordered []*Subject
		emitted = make(map[*Subject]bool, len(removes))
		broken  = make(map[edge]bool)
	)
	for len(ordered) < len(removes) {
		next := pickReady(removes, pending, emitted)
		if next == nil {
			// Mutually referencing rows: deterministically ignore the
			// edge with the lowest owner index and let the database's
			// deferred constraints (or nullable columns) absorb it.
			e, ok := pickBreakable(edges, emitted, broken)
			if !ok {
				e, ok = pickAnyEdge(edges, emitted, broken)
			}
			if !ok {
				break
			}
			broken[e] = true
			pending[e.owner]--
			continue
		}
		emitted[next] = true
		ordered = append(ordered, next)
		for _, e := range dependents[next] {
			if !broken[e] {
				pending[e.owner]--
			}
		}
	}
	// Reverse: referenced rows were emitted first, dependents must go first.
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

// removeEdges derives dependency edges among remove subjects from
// relation values pointing at sibling records in the same batch.
func removeEdges(a *arena, removes []*Subject) []edge {
	var edges []edge
	for _, s := range removes {
		for _, rel := range s.meta.AllRelations() {
			if !rel.Owning {
				continue
			}
			v, ok := s.record.Get(rel.Name)
			if !ok {
				continue
			}
			related, ok := v.(*Record)
			if !ok {
				continue
			}
			target, ok := a.subject(related)
			if !ok || target.op != OpRemove || target == s {
				continue
			}
			edges = append(edges, edge{owner: s, target: target, rel: rel, nullable: rel.Nullable})
		}
	}
	return edges
}

func pickAnyEdge(edges []edge, emitted map[*Subject]bool, broken map[edge]bool) (edge, bool) {
	var (
		best  edge
		found bool
	)
	for _, e := range edges {
		if broken[e] || emitted[e.owner] || emitted[e.target] {
			continue
		}
		if !found ||
			e.owner.index < best.owner.index ||
			(e.owner.index == best.owner.index && e.target.index < best.target.index) {
			best, found = e, true
		}
	}
	return best, found
}
