package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"
)

// Type is the logical column type. It drives value normalization and
// the storage representation of column values.
type Type int

// Column types.
const (
	TypeString Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeUUID
	TypeDate      // calendar date, no time component
	TypeTimeOfDay // wall-clock time, no date component
	TypeDateTime  // full timestamp, stored in UTC
	TypeJSON      // canonical JSON document
	TypeArray     // delimiter-joined string array
)

var typeNames = map[Type]string{
	TypeString:    "string",
	TypeInt:       "int",
	TypeFloat:     "float",
	TypeBool:      "bool",
	TypeUUID:      "uuid",
	TypeDate:      "date",
	TypeTimeOfDay: "time",
	TypeDateTime:  "datetime",
	TypeJSON:      "json",
	TypeArray:     "array",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("invalid(%d)", int(t))
}

// Generated declares how a column value is produced when the caller
// does not provide one on insert.
type Generated int

// Generation strategies.
const (
	GeneratedNone      Generated = iota
	GeneratedIncrement           // database auto-increment
	GeneratedUUID                // client-side random UUID
)

// Column describes one mapped column of an entity.
type Column struct {
	Name      string    // property name on the record
	Key       string    // storage column name, defaults to snake_case(Name)
	Type      Type      // logical type
	Nullable  bool      // NULL allowed
	Default   any       // default value, or func() any evaluated per insert
	Generated Generated // generation strategy

	// Special roles. A column carries at most one of these.
	Virtual       bool // never read or written by the engine
	Discriminator bool // holds the entity discriminator value
	Version       bool // optimistic-lock counter
	CreateTime    bool // set once on insert
	UpdateTime    bool // refreshed on every update

	// Delimiter joins TypeArray values. Defaults to ",".
	Delimiter string
}

// String returns a string column descriptor.
func String(name string) *Column { return newColumn(name, TypeString) }

// Int returns an integer column descriptor.
func Int(name string) *Column { return newColumn(name, TypeInt) }

// Float returns a float column descriptor.
func Float(name string) *Column { return newColumn(name, TypeFloat) }

// Bool returns a boolean column descriptor.
func Bool(name string) *Column { return newColumn(name, TypeBool) }

// UUID returns a UUID column descriptor.
func UUID(name string) *Column { return newColumn(name, TypeUUID) }

// Date returns a calendar-date column descriptor.
func Date(name string) *Column { return newColumn(name, TypeDate) }

// TimeOfDay returns a wall-clock time column descriptor.
func TimeOfDay(name string) *Column { return newColumn(name, TypeTimeOfDay) }

// DateTime returns a timestamp column descriptor.
func DateTime(name string) *Column { return newColumn(name, TypeDateTime) }

// JSON returns a JSON column descriptor.
func JSON(name string) *Column { return newColumn(name, TypeJSON) }

// Strings returns a delimiter-joined string-array column descriptor.
func Strings(name string) *Column {
	c := newColumn(name, TypeArray)
	c.Delimiter = ","
	return c
}

func newColumn(name string, t Type) *Column {
	return &Column{Name: name, Key: inflect.Underscore(name), Type: t}
}

// StorageKey overrides the storage column name.
func (c *Column) StorageKey(key string) *Column {
	c.Key = key
	return c
}

// Optional marks the column as nullable.
func (c *Column) Optional() *Column {
	c.Nullable = true
	return c
}

// WithDefault sets the insert default. v may be a plain value or a
// func() any evaluated once per insert.
func (c *Column) WithDefault(v any) *Column {
	c.Default = v
	return c
}

// AutoIncrement marks the column as database generated.
func (c *Column) AutoIncrement() *Column {
	c.Generated = GeneratedIncrement
	return c
}

// AutoUUID marks the column as client-side UUID generated.
func (c *Column) AutoUUID() *Column {
	c.Generated = GeneratedUUID
	return c
}

// AsVirtual marks the column as virtual. The engine never reads or
// writes virtual columns.
func (c *Column) AsVirtual() *Column {
	c.Virtual = true
	return c
}

// AsDiscriminator marks the column as the discriminator column of a
// single-table hierarchy.
func (c *Column) AsDiscriminator() *Column {
	c.Discriminator = true
	return c
}

// AsVersion marks the column as the optimistic-lock version counter.
func (c *Column) AsVersion() *Column {
	c.Version = true
	return c
}

// AsCreateTime marks the column as set once on insert.
func (c *Column) AsCreateTime() *Column {
	c.CreateTime = true
	return c
}

// AsUpdateTime marks the column as refreshed on every update.
func (c *Column) AsUpdateTime() *Column {
	c.UpdateTime = true
	return c
}

// Delimited overrides the array delimiter.
func (c *Column) Delimited(d string) *Column {
	c.Delimiter = d
	return c
}

// special reports whether the column plays a role that excludes it
// from ordinary change detection.
func (c *Column) special() bool {
	return c.Virtual || c.Discriminator || c.Version || c.CreateTime
}

// Kind is the relation kind.
type Kind int

// Relation kinds.
const (
	M2O Kind = iota // many-to-one, always owning
	O2O             // one-to-one
	O2M             // one-to-many, never owning
)

func (k Kind) String() string {
	switch k {
	case M2O:
		return "many-to-one"
	case O2O:
		return "one-to-one"
	case O2M:
		return "one-to-many"
	default:
		return fmt.Sprintf("invalid(%d)", int(k))
	}
}

// Relation describes one mapped relation of an entity. The owning side
// is the entity whose table carries the physical foreign-key column.
type Relation struct {
	Name    string  // property name on the record
	Kind    Kind    // relation kind
	Target  *Entity // referenced entity descriptor
	Owning  bool    // this side holds the join column
	JoinKey string  // storage name of the join column, owning side only
	RefKey  string  // referenced column, defaults to the target primary key
	Inverse string  // property name of the inverse relation, if mapped

	Nullable      bool // join column accepts NULL
	SaveCascade   bool // follow on save
	RemoveCascade bool // follow on remove
}

// ManyToOne returns an owning many-to-one relation descriptor.
// The join column defaults to snake_case(name) + "_id".
func ManyToOne(name string, target *Entity) *Relation {
	return &Relation{
		Name:    name,
		Kind:    M2O,
		Target:  target,
		Owning:  true,
		JoinKey: inflect.Underscore(name) + "_id",
	}
}

// OneToOne returns an owning one-to-one relation descriptor.
func OneToOne(name string, target *Entity) *Relation {
	return &Relation{
		Name:    name,
		Kind:    O2O,
		Target:  target,
		Owning:  true,
		JoinKey: inflect.Underscore(name) + "_id",
	}
}

// OneToMany returns a non-owning one-to-many relation descriptor.
// inverse names the owning many-to-one relation on the target.
func OneToMany(name string, target *Entity, inverse string) *Relation {
	return &Relation{
		Name:    name,
		Kind:    O2M,
		Target:  target,
		Inverse: inverse,
	}
}

// JoinColumn overrides the join column name on the owning side.
func (r *Relation) JoinColumn(key string) *Relation {
	r.JoinKey = key
	return r
}

// References overrides the referenced column on the target.
// It defaults to the target primary key.
func (r *Relation) References(key string) *Relation {
	r.RefKey = key
	return r
}

// InverseOf marks a one-to-one relation as the non-owning side of the
// named relation on the target.
func (r *Relation) InverseOf(name string) *Relation {
	r.Owning = false
	r.JoinKey = ""
	r.Inverse = name
	return r
}

// Optional marks the join column as nullable.
func (r *Relation) Optional() *Relation {
	r.Nullable = true
	return r
}

// CascadeSave follows the relation when its owner is saved.
func (r *Relation) CascadeSave() *Relation {
	r.SaveCascade = true
	return r
}

// CascadeRemove follows the relation when its owner is removed.
func (r *Relation) CascadeRemove() *Relation {
	r.RemoveCascade = true
	return r
}

// Embedded groups a set of columns under a shared property and storage
// prefix. Embedded columns are addressed as "<name>.<column>" and
// flattened into the owning table.
type Embedded struct {
	Name    string
	Prefix  string // storage prefix, defaults to snake_case(Name) + "_"
	Columns []*Column
}

// Embed returns an embedded column group descriptor.
func Embed(name string, columns ...*Column) *Embedded {
	return &Embedded{
		Name:    name,
		Prefix:  inflect.Underscore(name) + "_",
		Columns: columns,
	}
}

// WithPrefix overrides the storage prefix.
func (e *Embedded) WithPrefix(p string) *Embedded {
	e.Prefix = p
	return e
}

// Entity is the static, read-only metadata of one mapped entity.
// Build it once at startup, call Validate, and treat it as immutable
// for the lifetime of the process.
type Entity struct {
	Name          string // entity name, e.g. "User"
	Table         string // table name, defaults to pluralized snake_case
	Discriminator string // discriminator value written on insert, if any

	columns   []*Column
	relations []*Relation
	embeds    []*Embedded
	pk        []*Column

	byName map[string]*Column
	byKey  map[string]*Column
	rels   map[string]*Relation
}

// New returns a new entity descriptor. The table name defaults to the
// pluralized snake_case of the entity name, e.g. "OrderItem" maps to
// "order_items".
func New(name string) *Entity {
	return &Entity{
		Name:   name,
		Table:  inflect.Underscore(inflect.Pluralize(name)),
		byName: make(map[string]*Column),
		byKey:  make(map[string]*Column),
		rels:   make(map[string]*Relation),
	}
}

// SetTable overrides the table name.
func (e *Entity) SetTable(t string) *Entity {
	e.Table = t
	return e
}

// SetDiscriminator sets the discriminator value for this entity.
func (e *Entity) SetDiscriminator(v string) *Entity {
	e.Discriminator = v
	return e
}

// Columns appends column descriptors.
func (e *Entity) Columns(cols ...*Column) *Entity {
	for _, c := range cols {
		e.columns = append(e.columns, c)
		e.byName[c.Name] = c
		e.byKey[c.Key] = c
	}
	return e
}

// Embeds appends embedded column groups. Each embedded column is
// flattened into the entity as "<group>.<column>" with the group
// prefix applied to its storage key.
func (e *Entity) Embeds(groups ...*Embedded) *Entity {
	for _, g := range groups {
		e.embeds = append(e.embeds, g)
		for _, c := range g.Columns {
			fc := *c
			fc.Name = g.Name + "." + c.Name
			fc.Key = g.Prefix + c.Key
			cp := &fc
			e.columns = append(e.columns, cp)
			e.byName[cp.Name] = cp
			e.byKey[cp.Key] = cp
		}
	}
	return e
}

// Relations appends relation descriptors.
func (e *Entity) Relations(rels ...*Relation) *Entity {
	for _, r := range rels {
		e.relations = append(e.relations, r)
		e.rels[r.Name] = r
	}
	return e
}

// PrimaryKey declares the primary-key columns by property name.
func (e *Entity) PrimaryKey(names ...string) *Entity {
	e.pk = e.pk[:0]
	for _, n := range names {
		if c, ok := e.byName[n]; ok {
			e.pk = append(e.pk, c)
		} else {
			// Validate reports the missing column.
			e.pk = append(e.pk, &Column{Name: n})
		}
	}
	return e
}

// AllColumns returns the column descriptors in declaration order,
// embedded groups flattened.
func (e *Entity) AllColumns() []*Column { return e.columns }

// AllRelations returns the relation descriptors in declaration order.
func (e *Entity) AllRelations() []*Relation { return e.relations }

// PK returns the primary-key columns.
func (e *Entity) PK() []*Column { return e.pk }

// Column returns the column descriptor with the given property name.
func (e *Entity) Column(name string) (*Column, bool) {
	c, ok := e.byName[name]
	return c, ok
}

// ColumnByKey returns the column descriptor with the given storage key.
func (e *Entity) ColumnByKey(key string) (*Column, bool) {
	c, ok := e.byKey[key]
	return c, ok
}

// Relation returns the relation descriptor with the given property name.
func (e *Entity) Relation(name string) (*Relation, bool) {
	r, ok := e.rels[name]
	return r, ok
}

// VersionColumn returns the optimistic-lock column, or nil.
func (e *Entity) VersionColumn() *Column {
	for _, c := range e.columns {
		if c.Version {
			return c
		}
	}
	return nil
}

// DiscriminatorColumn returns the discriminator column, or nil.
func (e *Entity) DiscriminatorColumn() *Column {
	for _, c := range e.columns {
		if c.Discriminator {
			return c
		}
	}
	return nil
}

// UpdateTimeColumn returns the update-date column, or nil.
func (e *Entity) UpdateTimeColumn() *Column {
	for _, c := range e.columns {
		if c.UpdateTime {
			return c
		}
	}
	return nil
}

// Required reports whether the column must be provided on insert:
// not nullable, no default, not generated and not filled by the engine.
func (e *Entity) Required(c *Column) bool {
	return !c.Nullable && c.Default == nil && c.Generated == GeneratedNone && !c.special() && !c.UpdateTime
}

// Validate checks the descriptor for structural consistency.
// It must be called once after construction and before use.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schema: entity without a name")
	}
	if e.Table == "" {
		return fmt.Errorf("schema: entity %s without a table", e.Name)
	}
	if len(e.pk) == 0 {
		return fmt.Errorf("schema: entity %s without a primary key", e.Name)
	}
	for _, c := range e.pk {
		if _, ok := e.byName[c.Name]; !ok {
			return fmt.Errorf("schema: entity %s: primary-key column %q not declared", e.Name, c.Name)
		}
	}
	seen := make(map[string]string, len(e.columns))
	for _, c := range e.columns {
		if c.Name == "" || c.Key == "" {
			return fmt.Errorf("schema: entity %s: column without a name", e.Name)
		}
		if prev, ok := seen[c.Key]; ok {
			return fmt.Errorf("schema: entity %s: columns %q and %q share storage key %q", e.Name, prev, c.Name, c.Key)
		}
		seen[c.Key] = c.Name
		if c.Type == TypeArray && c.Delimiter == "" {
			return fmt.Errorf("schema: entity %s: array column %q without a delimiter", e.Name, c.Name)
		}
	}
	for _, r := range e.relations {
		if r.Target == nil {
			return fmt.Errorf("schema: entity %s: relation %q without a target", e.Name, r.Name)
		}
		if r.Owning && r.JoinKey == "" {
			return fmt.Errorf("schema: entity %s: owning relation %q without a join column", e.Name, r.Name)
		}
		if !r.Owning && r.Inverse == "" {
			return fmt.Errorf("schema: entity %s: inverse relation %q without an owning side", e.Name, r.Name)
		}
		// A plain column may share the relation's storage key; the
		// engine writes the physical column exactly once per statement.
	}
	return nil
}

// RefColumn returns the column on the target that an owning relation
// references: RefKey if set, otherwise the target's single primary key.
func (r *Relation) RefColumn() (*Column, error) {
	if r.RefKey != "" {
		if c, ok := r.Target.ColumnByKey(r.RefKey); ok {
			return c, nil
		}
		return nil, fmt.Errorf("schema: relation %q references unknown column %q on %s", r.Name, r.RefKey, r.Target.Name)
	}
	pk := r.Target.PK()
	if len(pk) != 1 {
		return nil, fmt.Errorf("schema: relation %q requires a single-column primary key on %s", r.Name, r.Target.Name)
	}
	return pk[0], nil
}
