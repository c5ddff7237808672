package keel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/keel/schema"
)

// Shared descriptor fixtures for the engine tests.

func newUserMeta(t *testing.T) *schema.Entity {
	t.Helper()
	user := schema.New("User").
		Columns(
			schema.Int("id").AutoIncrement(),
			schema.String("name"),
			schema.String("email").Optional(),
		).
		PrimaryKey("id")
	require.NoError(t, user.Validate())
	return user
}

func newPostMeta(t *testing.T, user *schema.Entity) *schema.Entity {
	t.Helper()
	post := schema.New("Post").
		Columns(
			schema.Int("id").AutoIncrement(),
			schema.String("title"),
		).
		PrimaryKey("id")
	post.Relations(
		schema.ManyToOne("author", user).CascadeSave(),
	)
	require.NoError(t, post.Validate())
	return post
}

// newDocumentMeta returns an entity with an optimistic-lock column.
func newDocumentMeta(t *testing.T) *schema.Entity {
	t.Helper()
	doc := schema.New("Document").
		Columns(
			schema.Int("id").AutoIncrement(),
			schema.String("body"),
			schema.Int("version").AsVersion(),
		).
		PrimaryKey("id")
	require.NoError(t, doc.Validate())
	return doc
}

// newPairMeta returns two entities holding mutually nullable
// one-to-one references to each other.
func newPairMeta(t *testing.T) (*schema.Entity, *schema.Entity) {
	t.Helper()
	x := schema.New("Left").
		Columns(schema.Int("id").AutoIncrement()).
		PrimaryKey("id")
	y := schema.New("Right").
		Columns(schema.Int("id").AutoIncrement()).
		PrimaryKey("id")
	x.Relations(schema.OneToOne("other", y).Optional().CascadeSave())
	y.Relations(schema.OneToOne("other", x).Optional().CascadeSave())
	require.NoError(t, x.Validate())
	require.NoError(t, y.Validate())
	return x, y
}
