package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

func newTestEntity(id, version string, etype graph.EntityType, name string) graph.Entity {
	now := time.Now().UTC()
	return graph.Entity{
		ID: id, Version: version, EntityType: etype, Name: name,
		Content: graph.Content{}, UserID: "tester", CreatedAt: now, UpdatedAt: now,
	}
}

func TestJSONStore_StoreAndGetEntity(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	e := newTestEntity("e1", "v1", graph.EntityDevice, "Lamp")
	require.NoError(t, s.StoreEntity(ctx, e))

	got, ok, err := s.GetEntity(ctx, "e1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Lamp", got.Name)
}

func TestJSONStore_StoreEntityIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	e := newTestEntity("e1", "v1", graph.EntityDevice, "Lamp")
	require.NoError(t, s.StoreEntity(ctx, e))
	require.NoError(t, s.StoreEntity(ctx, e))

	versions, err := s.GetEntityVersions(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestJSONStore_GetEntityLatestBreaksTiesByVersion(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	now := time.Now().UTC()
	a := graph.Entity{ID: "e1", Version: "v-a", EntityType: graph.EntityDevice, Name: "A", CreatedAt: now, UpdatedAt: now}
	b := graph.Entity{ID: "e1", Version: "v-b", EntityType: graph.EntityDevice, Name: "B", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.StoreEntity(ctx, a))
	require.NoError(t, s.StoreEntity(ctx, b))

	got, ok, err := s.GetEntity(ctx, "e1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v-b", got.Version) // "v-b" > "v-a" lexicographically
}

func TestJSONStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := NewJSONStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.StoreEntity(ctx, newTestEntity("e1", "v1", graph.EntityRoom, "Kitchen")))

	s2, err := NewJSONStore(dir)
	require.NoError(t, err)
	got, ok, err := s2.GetEntity(ctx, "e1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Kitchen", got.Name)
}

func TestJSONStore_SearchWildcard(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.StoreEntity(ctx, newTestEntity("e1", "v1", graph.EntityDevice, "Lamp")))
	require.NoError(t, s.StoreEntity(ctx, newTestEntity("e2", "v1", graph.EntityRoom, "Kitchen")))

	results, err := s.Search(ctx, "*", nil, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestJSONStore_GetRelationships_FiltersToLatestEntityVersion(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.StoreEntity(ctx, newTestEntity("room1", "v1", graph.EntityRoom, "Kitchen")))
	require.NoError(t, s.StoreEntity(ctx, newTestEntity("room1", "v2", graph.EntityRoom, "Kitchen")))
	require.NoError(t, s.StoreEntity(ctx, newTestEntity("device1", "v1", graph.EntityDevice, "Lamp")))

	require.NoError(t, s.StoreRelationship(ctx, graph.EntityRelationship{
		ID: "r-stale", FromEntityID: "device1", FromEntityVersion: "v1",
		ToEntityID: "room1", ToEntityVersion: "v1", RelationshipType: graph.RelLocatedIn,
	}))
	require.NoError(t, s.StoreRelationship(ctx, graph.EntityRelationship{
		ID: "r-current", FromEntityID: "device1", FromEntityVersion: "v1",
		ToEntityID: "room1", ToEntityVersion: "v2", RelationshipType: graph.RelLocatedIn,
	}))

	rels, err := s.GetRelationships(ctx, "", "room1", "")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "r-current", rels[0].ID)
}

func TestJSONStore_Clear(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.StoreEntity(ctx, newTestEntity("e1", "v1", graph.EntityDevice, "Lamp")))
	require.NoError(t, s.Clear(ctx))

	all, err := s.GetAllLatestEntities(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
