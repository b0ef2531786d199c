// Package store defines the Store contract shared by the server's embedded
// key-value backend and the client's JSON-file backend, and implements
// lexical search over whichever backend is in use.
package store

import (
	"context"
	"sort"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// SearchResult pairs an entity with the score it was matched at.
type SearchResult struct {
	Entity graph.Entity
	Score  float64
}

// DeletionRecord is an append-only record of a tombstoned entity or
// relationship (§3, §9: deletion propagation via a log, not tombstones).
type DeletionRecord struct {
	ID        string // entity or relationship ID
	Kind      string // "entity" or "relationship"
	DeletedAt string // RFC3339
	DeletedBy string
}

// EntityReader is the read half of entity access.
type EntityReader interface {
	GetEntity(ctx context.Context, id, version string) (graph.Entity, bool, error)
	GetEntityVersions(ctx context.Context, id string) ([]graph.Entity, error)
	GetEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error)
	GetAllLatestEntities(ctx context.Context) ([]graph.Entity, error)
}

// EntityWriter is the write half of entity access.
type EntityWriter interface {
	StoreEntity(ctx context.Context, e graph.Entity) error
	DeleteEntity(ctx context.Context, id, deletedBy string) error
}

// Relator manages relationships between entities.
type Relator interface {
	StoreRelationship(ctx context.Context, r graph.EntityRelationship) error
	GetRelationships(ctx context.Context, fromID, toID string, relType graph.RelationshipType) ([]graph.EntityRelationship, error)
	DeleteRelationship(ctx context.Context, id, deletedBy string) error
}

// Searcher provides lexical search over the latest version of every entity.
type Searcher interface {
	Search(ctx context.Context, query string, types []graph.EntityType, limit int) ([]SearchResult, error)
}

// DeletionLogReader exposes deletions since a watermark, for the delta engine.
type DeletionLogReader interface {
	DeletionsSince(ctx context.Context, since string) ([]DeletionRecord, error)
}

// sortByIDThenVersionEntities orders entities entity-id ascending, then
// version ascending (§5 ordering guarantee). Backends call this before
// returning any list collected via map iteration, whose order Go never
// guarantees call to call.
func sortByIDThenVersionEntities(entities []graph.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].ID != entities[j].ID {
			return entities[i].ID < entities[j].ID
		}
		return entities[i].Version < entities[j].Version
	})
}

// Store is the full capability bundle a backend must satisfy. Both the
// server's LevelDB-backed store and the client's JSON-file store implement
// it, in place of the single-rooted abstract-base hierarchy the original
// model used.
type Store interface {
	EntityReader
	EntityWriter
	Relator
	Searcher
	DeletionLogReader
	Clear(ctx context.Context) error
}
