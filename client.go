package keel

import (
	"context"
	"time"

	"github.com/syssam/keel/dialect"
)

type config struct {
	driver    dialect.Driver
	loader    Loader
	cache     Cache
	cacheTTL  time.Duration
	listeners []Listener
	debug     bool
	log       func(...any)
	now       func() time.Time
}

// Option configures a Client.
type Option func(*config)

// Driver configures the client driver.
func Driver(d dialect.Driver) Option {
	return func(c *config) { c.driver = d }
}

// SnapshotLoader configures the collaborator that fetches last-persisted
// state as the diff baseline. Without one, every provided value counts
// as changed.
func SnapshotLoader(l Loader) Option {
	return func(c *config) { c.loader = l }
}

// SnapshotCache puts a msgpack-encoded cache in front of the snapshot
// loader. Entries are invalidated after every write to the same row.
func SnapshotCache(cache Cache, ttl time.Duration) Option {
	return func(c *config) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// Listen registers lifecycle listeners, notified before and after every
// insert, update and remove. A listener error aborts the batch.
func Listen(ls ...Listener) Option {
	return func(c *config) { c.listeners = append(c.listeners, ls...) }
}

// Log sets the logging function used with the Debug option.
func Log(fn func(...any)) Option {
	return func(c *config) { c.log = fn }
}

// Debug wraps the driver so every outgoing statement is logged.
func Debug() Option {
	return func(c *config) { c.debug = true }
}

// Client synchronizes in-memory record graphs with the backing store.
// It is safe for concurrent use; independent calls on separate
// connections proceed concurrently, while the subjects of one batch
// always execute sequentially in dependency order.
type Client struct {
	cfg config
	tx  dialect.Tx // outer transaction bound with WithTx
}

// NewClient creates a new persistence client with the given options.
func NewClient(opts ...Option) *Client {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.debug && cfg.driver != nil {
		if cfg.log != nil {
			cfg.driver = dialect.Debug(cfg.driver, cfg.log)
		} else {
			cfg.driver = dialect.Debug(cfg.driver)
		}
	}
	if cfg.cache != nil && cfg.loader != nil {
		cfg.loader = NewCachedLoader(cfg.loader, cfg.cache, cfg.cacheTTL)
	}
	return &Client{cfg: cfg}
}

// WithTx returns a client that executes its batches inside the given
// caller-owned transaction. The caller keeps commit and rollback
// control; the engine never commits a transaction it did not start.
func (c *Client) WithTx(tx dialect.Tx) (*Client, error) {
	if c.tx != nil {
		return nil, ErrTxStarted
	}
	clone := *c
	clone.tx = tx
	return &clone, nil
}

// Save synchronizes the given records with the store: records without a
// primary key are inserted, the rest updated with only their changed
// columns. Cascade-flagged relations are followed. Generated and
// default values are merged back into the records in place.
//
// The whole batch is one atomic unit: it either fully succeeds or the
// store is left untouched.
func (c *Client) Save(ctx context.Context, recs ...*Record) error {
	return c.mutate(ctx, OpSave, recs)
}

// Insert forces insert intent on the given records, regardless of
// whether their primary keys are already set. Cascaded relations still
// decide insert vs. update on their own keys.
func (c *Client) Insert(ctx context.Context, recs ...*Record) error {
	return c.mutate(ctx, OpInsert, recs)
}

// Update forces update intent on the given records. Every record must
// carry its primary key; unchanged records still issue no statements.
func (c *Client) Update(ctx context.Context, recs ...*Record) error {
	return c.mutate(ctx, OpUpdate, recs)
}

// Remove deletes the given records, and their cascade-flagged
// dependents, keyed by primary key. Dependents are always removed
// before the rows they reference.
func (c *Client) Remove(ctx context.Context, recs ...*Record) error {
	return c.mutate(ctx, OpRemove, recs)
}

func (c *Client) mutate(ctx context.Context, op Op, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	if c.cfg.driver == nil {
		return ErrNoDriver
	}
	b := newGraphBuilder(c.cfg.loader)
	if err := b.build(ctx, op, recs); err != nil {
		return err
	}
	computeChanges(b.arena)
	p, err := orderSubjects(b.arena)
	if err != nil {
		return err
	}
	// An unchanged batch issues zero statements, not an empty transaction.
	if len(p.ordered) == 0 && len(p.deferred) == 0 {
		return nil
	}
	ex := &executor{
		drv:       c.cfg.driver,
		outer:     c.tx,
		arena:     b.arena,
		listeners: c.cfg.listeners,
		cache:     c.cfg.cache,
		now:       c.cfg.now,
	}
	return ex.execute(ctx, p)
}
