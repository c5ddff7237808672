// Package load parses entity descriptors from a YAML document.
//
// It covers the same descriptor surface as building schema entities in
// code, for projects that keep their mapping declarative:
//
//	entities:
//	  - name: User
//	    columns:
//	      - {name: id, type: int, generated: increment}
//	      - {name: name, type: string}
//	    primaryKey: [id]
//	  - name: Post
//	    columns:
//	      - {name: id, type: int, generated: increment}
//	      - {name: title, type: string}
//	    relations:
//	      - {name: author, kind: many-to-one, target: User, cascadeSave: true}
//	    primaryKey: [id]
package load

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/syssam/keel/schema"
)

type document struct {
	Entities []entityDoc `yaml:"entities"`
}

type entityDoc struct {
	Name          string        `yaml:"name"`
	Table         string        `yaml:"table"`
	Discriminator string        `yaml:"discriminator"`
	Columns       []columnDoc   `yaml:"columns"`
	Embeds        []embedDoc    `yaml:"embeds"`
	Relations     []relationDoc `yaml:"relations"`
	PrimaryKey    []string      `yaml:"primaryKey"`
}

type columnDoc struct {
	Name          string `yaml:"name"`
	Key           string `yaml:"key"`
	Type          string `yaml:"type"`
	Nullable      bool   `yaml:"nullable"`
	Default       any    `yaml:"default"`
	Generated     string `yaml:"generated"`
	Virtual       bool   `yaml:"virtual"`
	Discriminator bool   `yaml:"discriminator"`
	Version       bool   `yaml:"version"`
	CreateTime    bool   `yaml:"createTime"`
	UpdateTime    bool   `yaml:"updateTime"`
	Delimiter     string `yaml:"delimiter"`
}

type embedDoc struct {
	Name    string      `yaml:"name"`
	Prefix  string      `yaml:"prefix"`
	Columns []columnDoc `yaml:"columns"`
}

type relationDoc struct {
	Name          string `yaml:"name"`
	Kind          string `yaml:"kind"`
	Target        string `yaml:"target"`
	JoinColumn    string `yaml:"joinColumn"`
	References    string `yaml:"references"`
	Inverse       string `yaml:"inverse"`
	Nullable      bool   `yaml:"nullable"`
	CascadeSave   bool   `yaml:"cascadeSave"`
	CascadeRemove bool   `yaml:"cascadeRemove"`
}

// Read parses a YAML descriptor document and returns the validated
// entity descriptors keyed by entity name.
func Read(r io.Reader) (map[string]*schema.Entity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("load: reading descriptors: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML descriptor document and returns the validated
// entity descriptors keyed by entity name.
func Parse(data []byte) (map[string]*schema.Entity, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("load: parsing descriptors: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("load: document declares no entities")
	}
	// First pass declares every entity so relations can be wired in the
	// second pass regardless of declaration order or cycles.
	entities := make(map[string]*schema.Entity, len(doc.Entities))
	for _, ed := range doc.Entities {
		if _, ok := entities[ed.Name]; ok {
			return nil, fmt.Errorf("load: duplicate entity %q", ed.Name)
		}
		e := schema.New(ed.Name)
		if ed.Table != "" {
			e.SetTable(ed.Table)
		}
		if ed.Discriminator != "" {
			e.SetDiscriminator(ed.Discriminator)
		}
		for _, cd := range ed.Columns {
			c, err := column(ed.Name, cd)
			if err != nil {
				return nil, err
			}
			e.Columns(c)
		}
		for _, gd := range ed.Embeds {
			cols := make([]*schema.Column, 0, len(gd.Columns))
			for _, cd := range gd.Columns {
				c, err := column(ed.Name, cd)
				if err != nil {
					return nil, err
				}
				cols = append(cols, c)
			}
			g := schema.Embed(gd.Name, cols...)
			if gd.Prefix != "" {
				g.WithPrefix(gd.Prefix)
			}
			e.Embeds(g)
		}
		e.PrimaryKey(ed.PrimaryKey...)
		entities[ed.Name] = e
	}
	for _, ed := range doc.Entities {
		e := entities[ed.Name]
		for _, rd := range ed.Relations {
			r, err := relation(ed.Name, rd, entities)
			if err != nil {
				return nil, err
			}
			e.Relations(r)
		}
	}
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func column(entity string, cd columnDoc) (*schema.Column, error) {
	var c *schema.Column
	switch cd.Type {
	case "string", "":
		c = schema.String(cd.Name)
	case "int":
		c = schema.Int(cd.Name)
	case "float":
		c = schema.Float(cd.Name)
	case "bool":
		c = schema.Bool(cd.Name)
	case "uuid":
		c = schema.UUID(cd.Name)
	case "date":
		c = schema.Date(cd.Name)
	case "time":
		c = schema.TimeOfDay(cd.Name)
	case "datetime":
		c = schema.DateTime(cd.Name)
	case "json":
		c = schema.JSON(cd.Name)
	case "array":
		c = schema.Strings(cd.Name)
	default:
		return nil, fmt.Errorf("load: entity %s: column %q has unknown type %q", entity, cd.Name, cd.Type)
	}
	if cd.Key != "" {
		c.StorageKey(cd.Key)
	}
	if cd.Nullable {
		c.Optional()
	}
	if cd.Default != nil {
		c.WithDefault(cd.Default)
	}
	switch cd.Generated {
	case "":
	case "increment":
		c.AutoIncrement()
	case "uuid":
		c.AutoUUID()
	default:
		return nil, fmt.Errorf("load: entity %s: column %q has unknown generation strategy %q", entity, cd.Name, cd.Generated)
	}
	if cd.Virtual {
		c.AsVirtual()
	}
	if cd.Discriminator {
		c.AsDiscriminator()
	}
	if cd.Version {
		c.AsVersion()
	}
	if cd.CreateTime {
		c.AsCreateTime()
	}
	if cd.UpdateTime {
		c.AsUpdateTime()
	}
	if cd.Delimiter != "" {
		c.Delimited(cd.Delimiter)
	}
	return c, nil
}

func relation(entity string, rd relationDoc, entities map[string]*schema.Entity) (*schema.Relation, error) {
	target, ok := entities[rd.Target]
	if !ok {
		return nil, fmt.Errorf("load: entity %s: relation %q targets unknown entity %q", entity, rd.Name, rd.Target)
	}
	var r *schema.Relation
	switch rd.Kind {
	case "many-to-one":
		r = schema.ManyToOne(rd.Name, target)
	case "one-to-one":
		r = schema.OneToOne(rd.Name, target)
		if rd.Inverse != "" {
			r.InverseOf(rd.Inverse)
		}
	case "one-to-many":
		if rd.Inverse == "" {
			return nil, fmt.Errorf("load: entity %s: relation %q requires an inverse", entity, rd.Name)
		}
		r = schema.OneToMany(rd.Name, target, rd.Inverse)
	default:
		return nil, fmt.Errorf("load: entity %s: relation %q has unknown kind %q", entity, rd.Name, rd.Kind)
	}
	if rd.JoinColumn != "" {
		r.JoinColumn(rd.JoinColumn)
	}
	if rd.References != "" {
		r.References(rd.References)
	}
	if rd.Nullable {
		r.Optional()
	}
	if rd.CascadeSave {
		r.CascadeSave()
	}
	if rd.CascadeRemove {
		r.CascadeRemove()
	}
	return r, nil
}
