// Package keel is an object-relational persistence engine. Given a
// graph of in-memory records representing inserts, updates and
// removals, it computes and executes the minimal, correctly-ordered
// set of data-modification statements needed to synchronize the
// backing store with that graph, inside a single atomic transaction.
//
// # Pipeline
//
// One Save or Remove call flows through four stages:
//
//   - the graph builder walks the submitted records through relation
//     metadata, creating one subject (unit of work) per distinct
//     instance, following cascade flags, loading stored snapshots and
//     validating the batch;
//   - the change computer diffs every subject against its snapshot,
//     column by column and owning relation by owning relation, with
//     type-aware value normalization so representation drift never
//     produces a false positive;
//   - the dependency orderer topologically sorts the subjects so rows
//     referenced through non-nullable foreign keys are always written
//     first, resolving nullable cycles by deferring join columns to a
//     follow-up update pass;
//   - the executor drives the dialect driver in plan order inside a
//     transaction, merges generated values back into the caller's
//     records, and rolls back everything on the first failure.
//
// # Usage
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := keel.NewClient(
//	    keel.Driver(drv),
//	    keel.SnapshotLoader(loader),
//	)
//
//	author := keel.NewRecord(userMeta).Set("name", "mashiro")
//	post := keel.NewRecord(postMeta).
//	    Set("title", "hello").
//	    Set("author", author)
//	if err := client.Save(ctx, post); err != nil {
//	    log.Fatal(err)
//	}
//	// author and post now carry their generated ids.
//
// Saving an unchanged record issues zero statements. A batch either
// fully succeeds or the store is left untouched; partial success is
// never observable.
//
// Entity metadata lives in the schema package as static, read-only
// descriptors; the dialect packages carry the driver abstraction and
// statement builders.
package keel
