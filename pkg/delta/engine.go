package delta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
)

// Delta is the set of additions and modifications a client is missing
// relative to a watermark, plus the deletions recorded since then.
type Delta struct {
	AddedEntities        []graph.Entity
	ModifiedEntities     []graph.Entity
	AddedRelationships   []graph.EntityRelationship
	Deletions            []store.DeletionRecord
	FromTimestamp        time.Time
	ToTimestamp          time.Time
}

// ApplyConflict records why a delta entry could not be applied directly.
type ApplyConflict struct {
	Type     string // entity_exists, version_conflict
	EntityID string
	Detail   string
}

// ApplyResult summarizes the outcome of ApplyDelta.
type ApplyResult struct {
	EntitiesApplied      int
	RelationshipsApplied int
	Conflicts            []ApplyConflict
}

// Engine computes and applies deltas against a Store and tracks the
// per-device last-sync watermark.
type Engine struct {
	mu         sync.Mutex
	store      store.Store
	watermarks map[string]time.Time
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, watermarks: map[string]time.Time{}}
}

// LastSyncTime returns the watermark for deviceID, or the zero time if the
// device has never synced (treated as -infinity, i.e. full sync).
func (e *Engine) LastSyncTime(deviceID string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermarks[deviceID]
}

// UpdateLastSyncTime advances deviceID's watermark. Per §9's resolved open
// question, this never rolls back: the server always advances forward and
// relies on idempotent re-delivery rather than a rollback path.
func (e *Engine) UpdateLastSyncTime(deviceID string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.watermarks[deviceID]; !ok || at.After(cur) {
		e.watermarks[deviceID] = at
	}
}

// CalculateDelta partitions entities touched since `since` into added
// (created_at >= since) and modified (everything else with updated_at >=
// since), optionally filtered by type, and pulls deletions from the log.
func (e *Engine) CalculateDelta(ctx context.Context, since time.Time, typeFilter []graph.EntityType) (Delta, error) {
	allowed := make(map[graph.EntityType]bool, len(typeFilter))
	for _, t := range typeFilter {
		allowed[t] = true
	}

	entities, err := e.store.GetAllLatestEntities(ctx)
	if err != nil {
		return Delta{}, err
	}

	d := Delta{FromTimestamp: since, ToTimestamp: time.Now().UTC()}
	for _, ent := range entities {
		if len(allowed) > 0 && !allowed[ent.EntityType] {
			continue
		}
		touched := ent.CreatedAt.After(since) || ent.CreatedAt.Equal(since) ||
			ent.UpdatedAt.After(since) || ent.UpdatedAt.Equal(since)
		if !touched {
			continue
		}
		if ent.CreatedAt.After(since) || ent.CreatedAt.Equal(since) {
			d.AddedEntities = append(d.AddedEntities, ent)
		} else {
			d.ModifiedEntities = append(d.ModifiedEntities, ent)
		}
	}

	rels, err := e.store.GetRelationships(ctx, "", "", "")
	if err != nil {
		return Delta{}, err
	}
	for _, r := range rels {
		if r.CreatedAt.After(since) || r.CreatedAt.Equal(since) {
			d.AddedRelationships = append(d.AddedRelationships, r)
		}
	}

	sinceStr := since.Format(time.RFC3339Nano)
	deletions, err := e.store.DeletionsSince(ctx, sinceStr)
	if err != nil {
		return Delta{}, err
	}
	d.Deletions = deletions

	return d, nil
}

// ApplyDelta commits d's entries to the store. Added entities that already
// exist are reported as entity_exists conflicts (not overwritten); modified
// entities whose stored version differs from the incoming one are reported
// as version_conflict and left for the caller's resolver to reconcile.
func (e *Engine) ApplyDelta(ctx context.Context, d Delta) (ApplyResult, error) {
	result := ApplyResult{}

	for _, ent := range d.AddedEntities {
		existing, ok, err := e.store.GetEntity(ctx, ent.ID, "")
		if err != nil {
			return result, err
		}
		if ok {
			result.Conflicts = append(result.Conflicts, ApplyConflict{
				Type: "entity_exists", EntityID: ent.ID, Detail: existing.Version,
			})
			continue
		}
		if err := e.store.StoreEntity(ctx, ent); err != nil {
			return result, err
		}
		result.EntitiesApplied++
	}

	for _, ent := range d.ModifiedEntities {
		existing, ok, err := e.store.GetEntity(ctx, ent.ID, "")
		if err != nil {
			return result, err
		}
		if ok && existing.Version != ent.Version {
			result.Conflicts = append(result.Conflicts, ApplyConflict{
				Type: "version_conflict", EntityID: ent.ID, Detail: existing.Version,
			})
			continue
		}
		if err := e.store.StoreEntity(ctx, ent); err != nil {
			return result, err
		}
		result.EntitiesApplied++
	}

	seen := map[string]bool{}
	existingRels, err := e.store.GetRelationships(ctx, "", "", "")
	if err != nil {
		return result, err
	}
	for _, r := range existingRels {
		seen[relKey(r)] = true
	}
	for _, r := range d.AddedRelationships {
		if seen[relKey(r)] {
			continue
		}
		if err := e.store.StoreRelationship(ctx, r); err != nil {
			return result, err
		}
		seen[relKey(r)] = true
		result.RelationshipsApplied++
	}

	for _, del := range d.Deletions {
		if del.Kind == "entity" {
			if err := e.store.DeleteEntity(ctx, del.ID, del.DeletedBy); err != nil {
				return result, err
			}
		} else {
			if err := e.store.DeleteRelationship(ctx, del.ID, del.DeletedBy); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

func relKey(r graph.EntityRelationship) string {
	return r.FromEntityID + "|" + r.ToEntityID + "|" + string(r.RelationshipType)
}

// SyncChecksum is a deterministic, order-independent digest over entities:
// sorted by id, hashing id+version+type+name+JSON(content, sorted keys).
func SyncChecksum(entities []graph.Entity) (string, error) {
	ordered := append([]graph.Entity(nil), entities...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	h := sha256.New()
	for _, e := range ordered {
		contentJSON, err := marshalSorted(e.Content)
		if err != nil {
			return "", syncerrors.Storage("sync_checksum_marshal", err)
		}
		h.Write([]byte(e.ID))
		h.Write([]byte(e.Version))
		h.Write([]byte(e.EntityType))
		h.Write([]byte(e.Name))
		h.Write(contentJSON)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// marshalSorted relies on encoding/json's existing guarantee that map keys
// are emitted in sorted order, matching Python's json.dumps(sort_keys=True).
func marshalSorted(content graph.Content) ([]byte, error) {
	return json.Marshal(content)
}

// EstimateEntitySize approximates the wire size of an entity in bytes.
func EstimateEntitySize(e graph.Entity) (int, error) {
	body, err := json.Marshal(e.Content)
	if err != nil {
		return 0, syncerrors.Storage("estimate_entity_size", err)
	}
	return 200 + len(e.Name) + len(body), nil
}

// EstimateRelationshipSize approximates the wire size of a relationship.
func EstimateRelationshipSize(r graph.EntityRelationship) (int, error) {
	body, err := json.Marshal(r.Properties)
	if err != nil {
		return 0, syncerrors.Storage("estimate_relationship_size", err)
	}
	return 150 + len(body), nil
}

// EstimateSyncSize totals the wire-size estimate for a batch.
func EstimateSyncSize(entities []graph.Entity, relationships []graph.EntityRelationship) (int, error) {
	total := 0
	for _, e := range entities {
		n, err := EstimateEntitySize(e)
		if err != nil {
			return 0, err
		}
		total += n
	}
	for _, r := range relationships {
		n, err := EstimateRelationshipSize(r)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
