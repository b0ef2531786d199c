// Package syncserver implements the server-side sync protocol handler
// (C6): applying incoming changes, selecting outgoing changes by sync
// type, and advancing the per-device watermark.
package syncserver

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/adrianco/the-goodies-sub000/pkg/conflict"
	"github.com/adrianco/the-goodies-sub000/pkg/delta"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
	"github.com/adrianco/the-goodies-sub000/pkg/syncproto"
)

// Handler drives a Store through the §4.6 request-processing sequence.
type Handler struct {
	store    store.Store
	delta    *delta.Engine
	resolver *conflict.Resolver
}

func NewHandler(s store.Store, deltaEngine *delta.Engine, resolver *conflict.Resolver) *Handler {
	return &Handler{store: s, delta: deltaEngine, resolver: resolver}
}

// HandleSync processes req and returns a SyncResponse. The only error
// returned is a whole-request failure (bad protocol version, store
// unavailable while selecting outgoing changes); a change that fails to
// apply is logged and skipped, uncounted, instead of aborting the batch.
// Version divergence is not a failure: it is resolved and reported in the
// response's conflict list.
func (h *Handler) HandleSync(ctx context.Context, req syncproto.SyncRequest) (syncproto.SyncResponse, error) {
	start := time.Now()
	log := logging.For("syncserver")

	if req.ProtocolVersion != syncproto.ProtocolVersion {
		return syncproto.SyncResponse{}, syncerrors.Protocol("unsupported protocol_version " + req.ProtocolVersion)
	}

	var conflicts []syncproto.ConflictInfo
	entitiesSynced := 0
	relationshipsSynced := 0

	for _, change := range req.Changes {
		applied, relCount, conflictInfo, err := h.applyChange(ctx, change)
		if err != nil {
			log.Warn().Err(err).Str("change_type", string(change.ChangeType)).Msg("change skipped")
			continue
		}
		if applied {
			entitiesSynced++
		}
		relationshipsSynced += relCount
		if conflictInfo != nil {
			conflicts = append(conflicts, *conflictInfo)
		}
	}

	outgoing, err := h.selectOutgoing(ctx, req)
	if err != nil {
		return syncproto.SyncResponse{}, err
	}

	h.delta.UpdateLastSyncTime(req.DeviceID, time.Now().UTC())

	vc := req.VectorClock
	if vc.Clocks == nil {
		vc = syncproto.NewVectorClock()
	}

	log.Debug().Str("device_id", req.DeviceID).Str("sync_type", string(req.SyncType)).
		Int("changes_in", len(req.Changes)).Int("changes_out", len(outgoing)).Msg("sync processed")

	return syncproto.SyncResponse{
		SyncType:    req.SyncType,
		Changes:     outgoing,
		Conflicts:   conflicts,
		VectorClock: vc,
		SyncStats: syncproto.SyncStats{
			EntitiesSynced:      entitiesSynced,
			RelationshipsSynced: relationshipsSynced,
			ConflictsResolved:   len(conflicts),
			DurationMS:          time.Since(start).Milliseconds(),
		},
	}, nil
}

// applyChange implements the §4.6 per-change processing order: create is a
// no-op replay if the entity already exists; update fast-forwards if the
// stored version matches parent_versions[0], else invokes the resolver;
// delete tombstones via the deletion log.
func (h *Handler) applyChange(ctx context.Context, change syncproto.SyncChange) (applied bool, relCount int, conflictInfo *syncproto.ConflictInfo, err error) {
	for _, r := range change.Relationships {
		if err := h.store.StoreRelationship(ctx, r); err != nil {
			return false, relCount, nil, err
		}
		relCount++
	}

	if change.Entity == nil {
		return false, relCount, nil, nil
	}
	entity := *change.Entity

	switch change.ChangeType {
	case syncproto.ChangeCreate:
		_, ok, err := h.store.GetEntity(ctx, entity.ID, "")
		if err != nil {
			return false, relCount, nil, err
		}
		if ok {
			return false, relCount, nil, nil // replay, not a conflict
		}
		if err := h.store.StoreEntity(ctx, entity); err != nil {
			return false, relCount, nil, err
		}
		return true, relCount, nil, nil

	case syncproto.ChangeUpdate:
		existing, ok, err := h.store.GetEntity(ctx, entity.ID, "")
		if err != nil {
			return false, relCount, nil, err
		}
		if !ok {
			if err := h.store.StoreEntity(ctx, entity); err != nil {
				return false, relCount, nil, err
			}
			return true, relCount, nil, nil
		}

		parent := ""
		if len(entity.ParentVersions) > 0 {
			parent = entity.ParentVersions[0]
		}
		if existing.Version == parent {
			if err := h.store.StoreEntity(ctx, entity); err != nil {
				return false, relCount, nil, err
			}
			return true, relCount, nil, nil
		}

		res := h.resolver.Resolve(existing, entity, conflict.StrategyMerge)
		info := syncproto.ConflictInfo{
			EntityID:           entity.ID,
			LocalVersion:       existing.Version,
			RemoteVersion:      entity.Version,
			ResolutionStrategy: res.Strategy,
		}
		if res.ResolvedEntity != nil {
			if err := h.store.StoreEntity(ctx, *res.ResolvedEntity); err != nil {
				return false, relCount, nil, err
			}
			info.ResolvedVersion = res.ResolvedEntity.Version
			return true, relCount, &info, nil
		}
		return false, relCount, &info, nil

	case syncproto.ChangeDelete:
		if err := h.store.DeleteEntity(ctx, entity.ID, entity.UserID); err != nil {
			return false, relCount, nil, err
		}
		return true, relCount, nil, nil
	}

	return false, relCount, nil, nil
}

// selectOutgoing builds the set of changes to return, per sync_type.
func (h *Handler) selectOutgoing(ctx context.Context, req syncproto.SyncRequest) ([]syncproto.SyncChange, error) {
	var typeFilter []graph.EntityType
	if req.Filters != nil {
		typeFilter = req.Filters.EntityTypes
	}

	switch req.SyncType {
	case syncproto.SyncDelta:
		since := h.delta.LastSyncTime(req.DeviceID)
		d, err := h.delta.CalculateDelta(ctx, since, typeFilter)
		if err != nil {
			return nil, err
		}
		return deltaToChanges(d), nil

	case syncproto.SyncEntities:
		entities, err := h.entitiesMatchingFilter(ctx, typeFilter)
		if err != nil {
			return nil, err
		}
		return entitiesToCreates(entities), nil

	case syncproto.SyncRelationships:
		var entityID string
		if len(req.Changes) > 0 && req.Changes[0].Entity != nil {
			entityID = req.Changes[0].Entity.ID
		}
		rels, err := h.store.GetRelationships(ctx, entityID, "", "")
		if err != nil {
			return nil, err
		}
		return []syncproto.SyncChange{{ChangeType: syncproto.ChangeCreate, Relationships: rels}}, nil

	default: // full
		entities, err := h.entitiesMatchingFilter(ctx, typeFilter)
		if err != nil {
			return nil, err
		}
		return entitiesToCreates(entities), nil
	}
}

func (h *Handler) entitiesMatchingFilter(ctx context.Context, types []graph.EntityType) ([]graph.Entity, error) {
	if len(types) == 0 {
		return h.store.GetAllLatestEntities(ctx)
	}
	var out []graph.Entity
	for _, t := range types {
		byType, err := h.store.GetEntitiesByType(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, byType...)
	}
	return out, nil
}

// sortByIDThenVersion orders entities entity-id ascending, then version
// ascending (§5 ordering guarantee), so outgoing changes never depend on
// a store's internal (possibly map-based) iteration order.
func sortByIDThenVersion(entities []graph.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].ID != entities[j].ID {
			return entities[i].ID < entities[j].ID
		}
		return entities[i].Version < entities[j].Version
	})
}

func deltaToChanges(d delta.Delta) []syncproto.SyncChange {
	added := append([]graph.Entity(nil), d.AddedEntities...)
	modified := append([]graph.Entity(nil), d.ModifiedEntities...)
	sortByIDThenVersion(added)
	sortByIDThenVersion(modified)

	changes := make([]syncproto.SyncChange, 0, len(added)+len(modified))
	for _, e := range added {
		entity := e
		changes = append(changes, syncproto.SyncChange{ChangeType: syncproto.ChangeCreate, Entity: &entity})
	}
	for _, e := range modified {
		entity := e
		changes = append(changes, syncproto.SyncChange{ChangeType: syncproto.ChangeUpdate, Entity: &entity})
	}
	if len(d.AddedRelationships) > 0 {
		changes = append(changes, syncproto.SyncChange{ChangeType: syncproto.ChangeCreate, Relationships: d.AddedRelationships})
	}
	return changes
}

func entitiesToCreates(entities []graph.Entity) []syncproto.SyncChange {
	sorted := append([]graph.Entity(nil), entities...)
	sortByIDThenVersion(sorted)

	changes := make([]syncproto.SyncChange, len(sorted))
	for i, e := range sorted {
		entity := e
		changes[i] = syncproto.SyncChange{ChangeType: syncproto.ChangeCreate, Entity: &entity}
	}
	return changes
}

// NewDeviceID is a convenience for callers provisioning a new client.
func NewDeviceID() string { return uuid.NewString() }
