// Package conflict implements the pluggable conflict-resolution strategies
// of C4: last-write-wins, merge, client/server-wins, per-type custom
// rules, and the manual-resolution queue.
package conflict

import (
	"sync"
	"time"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// Strategy selects how Resolve reconciles two concurrent versions.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyMerge         Strategy = "merge"
	StrategyClientWins    Strategy = "client_wins"
	StrategyServerWins    Strategy = "server_wins"
	StrategyCustom        Strategy = "custom"
	StrategyManual        Strategy = "manual"
)

// MergeConflict records a single key where the merge strategy had to pick
// a side, for surfacing in ConflictInfo.
type MergeConflict struct {
	Key         string      `json:"key"`
	LocalValue  interface{} `json:"local_value"`
	RemoteValue interface{} `json:"remote_value"`
	Resolution  string      `json:"resolution"`
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Strategy       Strategy
	ResolvedEntity *graph.Entity
	RequiresManual bool
	MergeConflicts []MergeConflict
}

// ManualQueueEntry is a pending conflict awaiting out-of-band resolution.
type ManualQueueEntry struct {
	ID       string
	EntityID string
	Local    graph.Entity
	Remote   graph.Entity
	QueuedAt time.Time
}

// CustomRule resolves a conflict for one entity type. A rule that panics
// or returns an error is treated as failed and the resolver falls back to
// last-write-wins for that call (§4.4).
type CustomRule func(local, remote graph.Entity) (graph.Entity, error)

// Resolver dispatches to the configured strategy and owns the per-type
// custom-rule registry and the manual-resolution queue.
type Resolver struct {
	mu          sync.Mutex
	customRules map[graph.EntityType]CustomRule
	manualQueue []ManualQueueEntry
}

func NewResolver() *Resolver {
	r := &Resolver{customRules: map[graph.EntityType]CustomRule{}}
	RegisterDefaultRules(r)
	return r
}

// RegisterCustomRule installs or replaces the custom rule for entityType.
func (r *Resolver) RegisterCustomRule(entityType graph.EntityType, rule CustomRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customRules[entityType] = rule
}

// Resolve reconciles local and remote versions of the same entity under
// strategy. If local.Version == remote.Version there is no conflict and
// local is returned unchanged.
func (r *Resolver) Resolve(local, remote graph.Entity, strategy Strategy) Resolution {
	if local.Version == remote.Version {
		e := local
		return Resolution{Strategy: strategy, ResolvedEntity: &e}
	}

	switch strategy {
	case StrategyClientWins:
		e := local
		return Resolution{Strategy: strategy, ResolvedEntity: &e}
	case StrategyServerWins:
		e := remote
		return Resolution{Strategy: strategy, ResolvedEntity: &e}
	case StrategyLastWriteWins:
		return Resolution{Strategy: strategy, ResolvedEntity: lastWriteWins(local, remote)}
	case StrategyCustom:
		return r.resolveCustom(local, remote)
	case StrategyManual:
		r.queueManual(local, remote)
		return Resolution{Strategy: strategy, RequiresManual: true}
	case StrategyMerge:
		fallthrough
	default:
		entity, conflicts := mergeEntities(local, remote)
		return Resolution{Strategy: StrategyMerge, ResolvedEntity: &entity, MergeConflicts: conflicts}
	}
}

// lastWriteWins: greater updated_at wins, falling back to created_at, ties
// broken by the lexicographically greater version string (deterministic
// and replay-stable).
func lastWriteWins(local, remote graph.Entity) *graph.Entity {
	lt, rt := local.UpdatedAt, remote.UpdatedAt
	if lt.IsZero() {
		lt = local.CreatedAt
	}
	if rt.IsZero() {
		rt = remote.CreatedAt
	}

	if lt.After(rt) {
		e := local
		return &e
	}
	if rt.After(lt) {
		e := remote
		return &e
	}
	if local.Version >= remote.Version {
		e := local
		return &e
	}
	e := remote
	return &e
}

func (r *Resolver) resolveCustom(local, remote graph.Entity) Resolution {
	r.mu.Lock()
	rule, ok := r.customRules[local.EntityType]
	r.mu.Unlock()

	if !ok {
		entity, conflicts := mergeEntities(local, remote)
		return Resolution{Strategy: StrategyCustom, ResolvedEntity: &entity, MergeConflicts: conflicts}
	}

	panicked := false
	resolved, err := func() (graph.Entity, error) {
		defer func() {
			if recover() != nil {
				panicked = true
			}
		}()
		return rule(local, remote)
	}()
	if panicked || err != nil || !validCustomResult(resolved, local, remote) {
		return Resolution{Strategy: StrategyCustom, ResolvedEntity: lastWriteWins(local, remote)}
	}
	return Resolution{Strategy: StrategyCustom, ResolvedEntity: &resolved}
}

// validCustomResult bounds what a custom rule is allowed to produce: id
// must stay stable and both input versions must appear in parent_versions
// (§9 design note resolving the custom-rule mutation-scope open question).
func validCustomResult(resolved, local, remote graph.Entity) bool {
	if resolved.ID != local.ID {
		return false
	}
	hasLocal, hasRemote := false, false
	for _, p := range resolved.ParentVersions {
		if p == local.Version {
			hasLocal = true
		}
		if p == remote.Version {
			hasRemote = true
		}
	}
	return hasLocal && hasRemote
}

func (r *Resolver) queueManual(local, remote graph.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manualQueue = append(r.manualQueue, ManualQueueEntry{
		ID:       local.ID + "-" + local.Version + "-" + remote.Version,
		EntityID: local.ID,
		Local:    local,
		Remote:   remote,
		QueuedAt: time.Now().UTC(),
	})
}

// PendingManual returns a snapshot of the manual-resolution queue.
func (r *Resolver) PendingManual() []ManualQueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ManualQueueEntry(nil), r.manualQueue...)
}

// RemoveManual removes a resolved entry from the queue.
func (r *Resolver) RemoveManual(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.manualQueue[:0]
	for _, e := range r.manualQueue {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	r.manualQueue = kept
}
