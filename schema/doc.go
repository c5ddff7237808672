// Package schema holds the static entity metadata consumed by the keel
// persistence engine.
//
// Descriptors are built explicitly at startup, validated once, and
// treated as read-only afterwards. No reflection or struct tags are
// involved; the engine only ever sees these descriptors.
//
// Declaring an entity:
//
//	user := schema.New("User").
//	    Columns(
//	        schema.Int("id").AutoIncrement(),
//	        schema.String("name"),
//	        schema.Date("birthday").Optional(),
//	        schema.Int("version").AsVersion().WithDefault(1),
//	    ).
//	    PrimaryKey("id")
//	if err := user.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// Relations reference target descriptors directly, so mutually related
// entities are declared first and wired afterwards:
//
//	post := schema.New("Post").
//	    Columns(schema.Int("id").AutoIncrement(), schema.String("title")).
//	    PrimaryKey("id")
//	post.Relations(
//	    schema.ManyToOne("author", user).CascadeSave(),
//	)
//	user.Relations(
//	    schema.OneToMany("posts", post, "author").CascadeSave(),
//	)
//
// Table names default to the pluralized snake_case of the entity name
// ("OrderItem" maps to "order_items"); storage keys default to the
// snake_case of the property name. Both can be overridden with
// SetTable and StorageKey.
//
// The sub-package schema/load parses the same descriptors from a YAML
// document for projects that prefer declarative metadata.
package schema
