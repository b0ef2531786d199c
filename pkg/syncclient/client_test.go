package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
	"github.com/adrianco/the-goodies-sub000/pkg/syncproto"
	"github.com/adrianco/the-goodies-sub000/pkg/syncstate"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, store.Store) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	state, err := syncstate.NewManager(t.TempDir(), "dev1", srv.URL)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ServerURL = srv.URL
	cfg.DeviceID = "dev1"
	cfg.UserID = "user1"

	return New(cfg, s, state), s
}

func TestFullSync_SendsAndAppliesServerChanges(t *testing.T) {
	remoteEntity := graph.Entity{ID: "e1", Version: "v1", EntityType: graph.EntityDevice, Name: "Lamp", CreatedAt: time.Now().UTC()}

	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req syncproto.SyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, syncproto.ProtocolVersion, req.ProtocolVersion)

		resp := syncproto.SyncResponse{
			SyncType: syncproto.SyncFull,
			Changes: []syncproto.SyncChange{
				{ChangeType: syncproto.ChangeCreate, Entity: &remoteEntity},
			},
			VectorClock: syncproto.NewVectorClock(),
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	resp, err := c.FullSync(context.Background())
	require.NoError(t, err)
	assert.Len(t, resp.Changes, 1)

	got, ok, err := s.GetEntity(context.Background(), "e1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Lamp", got.Name)
}

func TestSync_ServerErrorPropagates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	_, err := c.FullSync(context.Background())
	assert.Error(t, err)
}

func TestSync_RejectsConcurrentRun(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(syncproto.SyncResponse{VectorClock: syncproto.NewVectorClock()})
	})

	require.NoError(t, c.state.RecordSyncStart())
	_, err := c.FullSync(context.Background())
	assert.Error(t, err)
}

func TestCheckConnectivity_ReturnsErrorOn5xx(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Error(t, c.CheckConnectivity(context.Background()))
}

func TestCheckConnectivity_OKOn2xx(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, c.CheckConnectivity(context.Background()))
}

func TestProgress_ReachesDoneOnSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(syncproto.SyncResponse{VectorClock: syncproto.NewVectorClock()})
	})
	_, err := c.FullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", c.Progress().Phase)
}
