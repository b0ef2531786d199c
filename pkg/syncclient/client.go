// Package syncclient implements the Sync Client (C7): the device-side
// counterpart to the server's protocol handler. It builds SyncRequests from
// local pending changes, sends them over HTTP, applies the server's
// response locally, and records outcomes through the Sync State Manager.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/adrianco/the-goodies-sub000/internal/logging"
	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/pkg/conflict"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
	"github.com/adrianco/the-goodies-sub000/pkg/syncproto"
	"github.com/adrianco/the-goodies-sub000/pkg/syncstate"
)

// Config configures a Client.
type Config struct {
	ServerURL      string
	DeviceID       string
	UserID         string
	Timeout        time.Duration
	UserAgent      string
	BearerToken    string
}

func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "inbetweenies-syncclient/2",
	}
}

// Progress reports the state of an in-flight or completed sync, suitable
// for a caller to poll or stream to a UI.
type Progress struct {
	Phase               string `json:"phase"` // "collecting", "sending", "applying", "done", "error"
	EntitiesSent        int    `json:"entities_sent"`
	EntitiesReceived    int    `json:"entities_received"`
	RelationshipsSynced int    `json:"relationships_synced"`
	Conflicts           int    `json:"conflicts"`
	Error               string `json:"error,omitempty"`
}

// Client is the Sync Client. One instance per device.
type Client struct {
	cfg    Config
	http   *http.Client
	store  store.Store
	state  *syncstate.Manager

	mu       sync.Mutex
	progress Progress
}

func New(cfg Config, localStore store.Store, state *syncstate.Manager) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		store: localStore,
		state: state,
	}
}

// Progress returns a snapshot of the most recent sync's progress.
func (c *Client) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Client) setProgress(p Progress) {
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
}

// CheckConnectivity performs a lightweight reachability probe against the
// server's sync status endpoint.
func (c *Client) CheckConnectivity(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+"/api/v1/sync/status", nil)
	if err != nil {
		return syncerrors.Network("connectivity_check", err)
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return syncerrors.Network("connectivity_check", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return syncerrors.New(syncerrors.KindNetwork, fmt.Sprintf("server unhealthy: %d", resp.StatusCode)).Build()
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
}

// send POSTs req to the server's sync endpoint and decodes the response.
func (c *Client) send(ctx context.Context, req syncproto.SyncRequest) (syncproto.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return syncproto.SyncResponse{}, syncerrors.New(syncerrors.KindProtocol, "marshal sync request").WithCause(err).Build()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+"/api/v1/sync/", bytes.NewReader(body))
	if err != nil {
		return syncproto.SyncResponse{}, syncerrors.Network("build sync request", err)
	}
	c.applyHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return syncproto.SyncResponse{}, syncerrors.Network("send sync request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncproto.SyncResponse{}, syncerrors.Network("read sync response", err)
	}

	if resp.StatusCode >= 400 {
		return syncproto.SyncResponse{}, syncerrors.New(syncerrors.KindNetwork,
			fmt.Sprintf("server returned %d: %s", resp.StatusCode, string(respBody))).
			WithHTTPStatus(resp.StatusCode).Build()
	}

	var out syncproto.SyncResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return syncproto.SyncResponse{}, syncerrors.New(syncerrors.KindProtocol, "unmarshal sync response").WithCause(err).Build()
	}
	return out, nil
}

// collectChanges drains the pending queue into wire-format SyncChanges.
func (c *Client) collectChanges() ([]syncproto.SyncChange, []string) {
	pending := c.state.GetPending()
	changes := make([]syncproto.SyncChange, 0, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		change := syncproto.SyncChange{ChangeType: syncproto.ChangeType(p.ChangeType)}
		if p.EntityID != "" {
			entity, ok, err := c.store.GetEntity(context.Background(), p.EntityID, "")
			if err == nil && ok {
				change.Entity = &entity
			}
		}
		changes = append(changes, change)
		ids = append(ids, p.ChangeID)
	}
	return changes, ids
}

// SyncEntities runs a sync_type=entities exchange scoped to the given
// entity types.
func (c *Client) SyncEntities(ctx context.Context, types []graph.EntityType) (syncproto.SyncResponse, error) {
	req := c.baseRequest(syncproto.SyncEntities)
	if len(types) > 0 {
		req.Filters = &syncproto.SyncFilters{EntityTypes: types}
	}
	return c.run(ctx, req)
}

// SyncRelationships runs a sync_type=relationships exchange.
func (c *Client) SyncRelationships(ctx context.Context) (syncproto.SyncResponse, error) {
	return c.run(ctx, c.baseRequest(syncproto.SyncRelationships))
}

// FullSync runs a complete sync_type=full exchange: all local pending
// changes are sent, and the full remote state is requested back.
func (c *Client) FullSync(ctx context.Context) (syncproto.SyncResponse, error) {
	return c.run(ctx, c.baseRequest(syncproto.SyncFull))
}

// DeltaSync runs a sync_type=delta exchange scoped to this device's
// watermark, maintained server-side.
func (c *Client) DeltaSync(ctx context.Context) (syncproto.SyncResponse, error) {
	return c.run(ctx, c.baseRequest(syncproto.SyncDelta))
}

// baseRequest echoes the locally-held vector clock (§4.7) rather than
// starting from an empty one, so the server can see what this device has
// already observed of every other device.
func (c *Client) baseRequest(t syncproto.SyncType) syncproto.SyncRequest {
	vc := syncproto.NewVectorClock()
	for device, version := range c.state.Metadata().VectorClock {
		vc.Clocks[device] = version
	}
	return syncproto.SyncRequest{
		ProtocolVersion: syncproto.ProtocolVersion,
		DeviceID:        c.cfg.DeviceID,
		UserID:          c.cfg.UserID,
		SyncType:        t,
		VectorClock:     vc,
	}
}

// run executes one full sync attempt: collect -> send -> apply -> record.
// Only one sync may be in flight per client at a time (§5).
func (c *Client) run(ctx context.Context, req syncproto.SyncRequest) (syncproto.SyncResponse, error) {
	log := logging.For("syncclient")
	start := time.Now().UTC()

	if c.state.Metadata().SyncInProgress {
		return syncproto.SyncResponse{}, syncerrors.New(syncerrors.KindValidation, "sync already in progress").Build()
	}
	if err := c.state.RecordSyncStart(); err != nil {
		return syncproto.SyncResponse{}, err
	}

	c.setProgress(Progress{Phase: "collecting"})
	changes, ids := c.collectChanges()
	req.Changes = changes
	c.setProgress(Progress{Phase: "sending", EntitiesSent: len(changes)})

	resp, err := c.send(ctx, req)
	if err != nil {
		c.setProgress(Progress{Phase: "error", Error: err.Error()})
		_ = c.state.RecordSyncFailure(syncstate.HistoryEntry{
			DeviceID: c.cfg.DeviceID, SyncType: string(req.SyncType), StartedAt: start, CompletedAt: time.Now().UTC(),
		}, err)
		log.Warn().Err(err).Msg("sync attempt failed")
		return syncproto.SyncResponse{}, err
	}

	c.setProgress(Progress{Phase: "applying", EntitiesReceived: len(resp.Changes)})
	applied, err := c.applyResponse(ctx, resp)
	if err != nil {
		c.setProgress(Progress{Phase: "error", Error: err.Error()})
		_ = c.state.RecordSyncFailure(syncstate.HistoryEntry{
			DeviceID: c.cfg.DeviceID, SyncType: string(req.SyncType), StartedAt: start, CompletedAt: time.Now().UTC(),
		}, err)
		return syncproto.SyncResponse{}, err
	}

	for _, id := range ids {
		_ = c.state.MarkSynced(id)
	}
	for _, conf := range resp.Conflicts {
		_ = c.state.LogConflict(syncstate.ConflictLogEntry{
			EntityID: conf.EntityID, LocalVersion: conf.LocalVersion, RemoteVersion: conf.RemoteVersion,
			ResolutionStrategy: string(conf.ResolutionStrategy), ResolvedVersion: conf.ResolvedVersion,
		})
	}
	for device, version := range resp.VectorClock.Clocks {
		_ = c.state.UpdateVectorClock(device, version)
	}

	_ = c.state.RecordSyncSuccess(syncstate.HistoryEntry{
		DeviceID: c.cfg.DeviceID, SyncType: string(req.SyncType), StartedAt: start, CompletedAt: time.Now().UTC(),
		EntitiesSynced: applied, RelationshipsSynced: resp.SyncStats.RelationshipsSynced, Conflicts: len(resp.Conflicts),
	})
	c.setProgress(Progress{Phase: "done", EntitiesReceived: applied, Conflicts: len(resp.Conflicts)})
	return resp, nil
}

// applyResponse writes the server's outgoing changes into the local store.
func (c *Client) applyResponse(ctx context.Context, resp syncproto.SyncResponse) (int, error) {
	applied := 0
	for _, change := range resp.Changes {
		for _, r := range change.Relationships {
			if err := c.store.StoreRelationship(ctx, r); err != nil {
				return applied, err
			}
		}
		if change.Entity == nil {
			continue
		}
		switch change.ChangeType {
		case syncproto.ChangeDelete:
			if err := c.store.DeleteEntity(ctx, change.Entity.ID, change.Entity.UserID); err != nil {
				return applied, err
			}
		default:
			if err := c.store.StoreEntity(ctx, *change.Entity); err != nil {
				return applied, err
			}
		}
		applied++
	}
	return applied, nil
}

// ResolveConflicts walks the pending queue's update entries and, for each,
// resolves the entity's latest local version under strategy and stores the
// result. Both sides of the resolution are read from the local store, so
// the server is not contacted; the conflict log is not read and nothing is
// re-queued.
func (c *Client) ResolveConflicts(ctx context.Context, resolver *conflict.Resolver, strategy conflict.Strategy) error {
	for _, entry := range c.state.GetPending() {
		if entry.ChangeType != syncstate.ChangeUpdate || entry.EntityID == "" {
			continue
		}
		local, ok, err := c.store.GetEntity(ctx, entry.EntityID, "")
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		remote, ok, err := c.store.GetEntity(ctx, entry.EntityID, "")
		if err != nil || !ok {
			continue
		}
		res := resolver.Resolve(local, remote, strategy)
		if res.ResolvedEntity != nil {
			if err := c.store.StoreEntity(ctx, *res.ResolvedEntity); err != nil {
				return err
			}
		}
	}
	return nil
}
