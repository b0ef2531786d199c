package delta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
)

func TestSyncChecksum_OrderIndependent(t *testing.T) {
	a := []graph.Entity{ent("aa1", "v1"), ent("bb2", "v1")}
	b := []graph.Entity{ent("bb2", "v1"), ent("aa1", "v1")}

	ca, err := SyncChecksum(a)
	require.NoError(t, err)
	cb, err := SyncChecksum(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestSyncChecksum_SensitiveToValue(t *testing.T) {
	a := []graph.Entity{ent("aa1", "v1")}
	b := []graph.Entity{ent("aa1", "v2")}

	ca, _ := SyncChecksum(a)
	cb, _ := SyncChecksum(b)
	assert.NotEqual(t, ca, cb)
}

func TestEstimateEntitySize(t *testing.T) {
	e := graph.Entity{Name: "Lamp", Content: graph.Content{"power": "on"}}
	size, err := EstimateEntitySize(e)
	require.NoError(t, err)
	assert.Greater(t, size, 200)
}

func TestCalculateDelta_PartitionsAddedAndModified(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)

	since := time.Now().UTC()
	old := graph.Entity{
		ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "Old",
		CreatedAt: since.Add(-time.Hour), UpdatedAt: since.Add(time.Minute), // modified after watermark
	}
	fresh := graph.Entity{
		ID: "e2", Version: "v1", EntityType: graph.EntityDevice, Name: "New",
		CreatedAt: since.Add(time.Minute), UpdatedAt: since.Add(time.Minute),
	}
	require.NoError(t, s.StoreEntity(ctx, old))
	require.NoError(t, s.StoreEntity(ctx, fresh))

	eng := NewEngine(s)
	d, err := eng.CalculateDelta(ctx, since, nil)
	require.NoError(t, err)

	assert.Len(t, d.AddedEntities, 1)
	assert.Equal(t, "e2", d.AddedEntities[0].ID)
	assert.Len(t, d.ModifiedEntities, 1)
	assert.Equal(t, "e1", d.ModifiedEntities[0].ID)
}

func TestApplyDelta_EntityExistsConflict(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)

	existing := graph.Entity{ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "A", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.StoreEntity(ctx, existing))

	eng := NewEngine(s)
	d := Delta{AddedEntities: []graph.Entity{{ID: "e1", Version: "v2", EntityType: graph.EntityDevice, Name: "B"}}}

	result, err := eng.ApplyDelta(ctx, d)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "entity_exists", result.Conflicts[0].Type)
}

func TestApplyDelta_VersionConflictOnModified(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)

	existing := graph.Entity{ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "A", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.StoreEntity(ctx, existing))

	eng := NewEngine(s)
	d := Delta{ModifiedEntities: []graph.Entity{{ID: "e1", Version: "v2-diverged", EntityType: graph.EntityDevice, Name: "B"}}}

	result, err := eng.ApplyDelta(ctx, d)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "version_conflict", result.Conflicts[0].Type)
}

func TestWatermark_NeverRollsBack(t *testing.T) {
	s, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	eng := NewEngine(s)

	later := time.Now().UTC()
	earlier := later.Add(-time.Hour)

	eng.UpdateLastSyncTime("dev1", later)
	eng.UpdateLastSyncTime("dev1", earlier)

	assert.Equal(t, later, eng.LastSyncTime("dev1"))
}
