package syncserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianco/the-goodies-sub000/pkg/conflict"
	"github.com/adrianco/the-goodies-sub000/pkg/delta"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
	"github.com/adrianco/the-goodies-sub000/pkg/syncproto"
)

func newTestHandler(t *testing.T) (*Handler, store.Store) {
	s, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	return NewHandler(s, delta.NewEngine(s), conflict.NewResolver()), s
}

func TestHandleSync_RejectsWrongProtocolVersion(t *testing.T) {
	h, _ := newTestHandler(t)
	_, err := h.HandleSync(context.Background(), syncproto.SyncRequest{ProtocolVersion: "v1"})
	assert.Error(t, err)
}

func TestHandleSync_CreateIsIdempotentOnReplay(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()
	entity := &graph.Entity{ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "Lamp", CreatedAt: time.Now().UTC()}

	req := syncproto.SyncRequest{
		ProtocolVersion: syncproto.ProtocolVersion,
		DeviceID:        "dev1",
		SyncType:        syncproto.SyncFull,
		Changes:         []syncproto.SyncChange{{ChangeType: syncproto.ChangeCreate, Entity: entity}},
	}

	_, err := h.HandleSync(ctx, req)
	require.NoError(t, err)
	_, err = h.HandleSync(ctx, req)
	require.NoError(t, err)

	versions, err := s.GetEntityVersions(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestHandleSync_UpdateFastForwardsOnMatchingParent(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()

	v1 := graph.Entity{ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "Lamp", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.StoreEntity(ctx, v1))

	v2 := &graph.Entity{ID: "e1", Version: "v2", EntityType: graph.EntityDevice, Name: "Lamp 2",
		ParentVersions: []string{"v1"}, CreatedAt: time.Now().UTC()}

	req := syncproto.SyncRequest{
		ProtocolVersion: syncproto.ProtocolVersion,
		DeviceID:        "dev1",
		SyncType:        syncproto.SyncFull,
		Changes:         []syncproto.SyncChange{{ChangeType: syncproto.ChangeUpdate, Entity: v2}},
	}

	resp, err := h.HandleSync(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, resp.Conflicts)

	got, ok, err := s.GetEntity(ctx, "e1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Version)
}

func TestHandleSync_UpdateDivergedParentProducesConflict(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()

	v1 := graph.Entity{ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "Lamp", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.StoreEntity(ctx, v1))

	diverged := &graph.Entity{ID: "e1", Version: "v2-other-device", EntityType: graph.EntityDevice, Name: "Lamp X",
		ParentVersions: []string{"v0-never-seen"}, CreatedAt: time.Now().UTC()}

	req := syncproto.SyncRequest{
		ProtocolVersion: syncproto.ProtocolVersion,
		DeviceID:        "dev1",
		SyncType:        syncproto.SyncFull,
		Changes:         []syncproto.SyncChange{{ChangeType: syncproto.ChangeUpdate, Entity: diverged}},
	}

	resp, err := h.HandleSync(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, "e1", resp.Conflicts[0].EntityID)
	assert.NotEmpty(t, resp.Conflicts[0].ResolvedVersion)
}

func TestHandleSync_EmptyPendingQueueProducesValidResponse(t *testing.T) {
	h, _ := newTestHandler(t)
	req := syncproto.SyncRequest{
		ProtocolVersion: syncproto.ProtocolVersion,
		DeviceID:        "dev1",
		SyncType:        syncproto.SyncFull,
		Changes:         []syncproto.SyncChange{},
	}
	resp, err := h.HandleSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, syncproto.SyncFull, resp.SyncType)
}

func TestHandleSync_DeltaSyncReturnsOnlyNewSinceWatermark(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, s.StoreEntity(ctx, graph.Entity{
		ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "Old", CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))

	first := syncproto.SyncRequest{ProtocolVersion: syncproto.ProtocolVersion, DeviceID: "dev1", SyncType: syncproto.SyncDelta}
	_, err := h.HandleSync(ctx, first)
	require.NoError(t, err)

	require.NoError(t, s.StoreEntity(ctx, graph.Entity{
		ID: "e2", Version: "v1", EntityType: graph.EntityDevice, Name: "New", CreatedAt: time.Now().UTC(),
	}))

	second, err := h.HandleSync(ctx, first)
	require.NoError(t, err)
	require.Len(t, second.Changes, 1)
	assert.Equal(t, "e2", second.Changes[0].Entity.ID)
}

func TestHandleSync_FullSyncOrdersChangesByIDThenVersion(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, s.StoreEntity(ctx, graph.Entity{ID: "zz", Version: "v1", EntityType: graph.EntityDevice, Name: "Z"}))
	require.NoError(t, s.StoreEntity(ctx, graph.Entity{ID: "aa", Version: "v1", EntityType: graph.EntityDevice, Name: "A"}))
	require.NoError(t, s.StoreEntity(ctx, graph.Entity{ID: "mm", Version: "v1", EntityType: graph.EntityDevice, Name: "M"}))

	req := syncproto.SyncRequest{ProtocolVersion: syncproto.ProtocolVersion, DeviceID: "dev1", SyncType: syncproto.SyncFull}
	resp, err := h.HandleSync(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Changes, 3)
	assert.Equal(t, "aa", resp.Changes[0].Entity.ID)
	assert.Equal(t, "mm", resp.Changes[1].Entity.ID)
	assert.Equal(t, "zz", resp.Changes[2].Entity.ID)
}
