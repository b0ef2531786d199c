package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// index mirrors §6's index.json: rebuildable secondary lookups.
type index struct {
	ByType map[graph.EntityType][]string `json:"by_type"`
	ByRoom map[string][]string           `json:"by_room"`
}

func newIndex() index {
	return index{ByType: map[graph.EntityType][]string{}, ByRoom: map[string][]string{}}
}

// JSONStore is the client-side Store backend, persisting the layout
// mandated by §6: entities.json (id -> ordered version list),
// relationships.json (flat list), index.json (rebuildable). An in-memory
// cache is loaded on open and flushed after every mutating call.
type JSONStore struct {
	mu sync.RWMutex

	dir               string
	entitiesFile      string
	relationshipsFile string
	indexFile         string
	deletionsFile     string

	entities      map[string][]graph.Entity
	relationships []graph.EntityRelationship
	deletions     []DeletionRecord
	idx           index
}

// NewJSONStore opens (creating if absent) the three-file layout under dir.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, syncerrors.Storage("jsonstore_mkdir", err)
	}
	s := &JSONStore{
		dir:               dir,
		entitiesFile:      filepath.Join(dir, "entities.json"),
		relationshipsFile: filepath.Join(dir, "relationships.json"),
		indexFile:         filepath.Join(dir, "index.json"),
		deletionsFile:     filepath.Join(dir, "deletions.json"),
		entities:          map[string][]graph.Entity{},
		idx:               newIndex(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	logging.For("jsonstore").Info().Str("dir", dir).Msg("opened client store")
	return s, nil
}

func (s *JSONStore) load() error {
	if err := loadJSON(s.entitiesFile, &s.entities); err != nil {
		return err
	}
	if err := loadJSON(s.relationshipsFile, &s.relationships); err != nil {
		return err
	}
	if err := loadJSON(s.deletionsFile, &s.deletions); err != nil {
		return err
	}
	var idx index
	if err := loadJSON(s.indexFile, &idx); err != nil {
		return err
	}
	if idx.ByType == nil {
		s.rebuildIndexLocked()
	} else {
		s.idx = idx
	}
	return nil
}

func loadJSON(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return syncerrors.Storage("jsonstore_read_"+filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return syncerrors.Storage("jsonstore_unmarshal_"+filepath.Base(path), err)
	}
	return nil
}

func saveJSON(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return syncerrors.Storage("jsonstore_marshal_"+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return syncerrors.Storage("jsonstore_write_"+filepath.Base(path), err)
	}
	return nil
}

// flushLocked persists all three files; callers hold s.mu.
func (s *JSONStore) flushLocked() error {
	if err := saveJSON(s.entitiesFile, s.entities); err != nil {
		return err
	}
	if err := saveJSON(s.relationshipsFile, s.relationships); err != nil {
		return err
	}
	if err := saveJSON(s.deletionsFile, s.deletions); err != nil {
		return err
	}
	return saveJSON(s.indexFile, s.idx)
}

// rebuildIndexLocked recomputes the index from ground truth; called on
// corrupt/missing index.json or after bulk mutation.
func (s *JSONStore) rebuildIndexLocked() {
	s.idx = newIndex()
	for id, versions := range s.entities {
		if len(versions) == 0 {
			continue
		}
		latest := latestOf(versions)
		s.idx.ByType[latest.EntityType] = append(s.idx.ByType[latest.EntityType], id)
	}
	for _, r := range s.relationships {
		if r.RelationshipType == graph.RelLocatedIn {
			s.idx.ByRoom[r.ToEntityID] = append(s.idx.ByRoom[r.ToEntityID], r.FromEntityID)
		}
	}
}

func (s *JSONStore) StoreEntity(ctx context.Context, e graph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.entities[e.ID] {
		if existing.Version == e.Version {
			return nil // idempotent replay
		}
	}
	s.entities[e.ID] = append(s.entities[e.ID], e)
	s.rebuildIndexLocked()
	return s.flushLocked()
}

func (s *JSONStore) GetEntity(ctx context.Context, id, version string) (graph.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.entities[id]
	if !ok || len(versions) == 0 {
		return graph.Entity{}, false, nil
	}
	if version == "" {
		return latestOf(versions), true, nil
	}
	for _, e := range versions {
		if e.Version == version {
			return e, true, nil
		}
	}
	return graph.Entity{}, false, nil
}

func (s *JSONStore) GetEntityVersions(ctx context.Context, id string) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := append([]graph.Entity(nil), s.entities[id]...)
	sort.Slice(versions, func(i, j int) bool { return versions[i].CreatedAt.Before(versions[j].CreatedAt) })
	return versions, nil
}

func (s *JSONStore) GetEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.Entity
	for _, id := range s.idx.ByType[entityType] {
		if versions, ok := s.entities[id]; ok && len(versions) > 0 {
			out = append(out, latestOf(versions))
		}
	}
	sortByIDThenVersionEntities(out)
	return out, nil
}

func (s *JSONStore) GetAllLatestEntities(ctx context.Context) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]graph.Entity, 0, len(s.entities))
	for _, versions := range s.entities {
		if len(versions) > 0 {
			out = append(out, latestOf(versions))
		}
	}
	sortByIDThenVersionEntities(out)
	return out, nil
}

func (s *JSONStore) DeleteEntity(ctx context.Context, id, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletions = append(s.deletions, DeletionRecord{
		ID: id, Kind: "entity",
		DeletedAt: time.Now().UTC().Format(time.RFC3339Nano),
		DeletedBy: deletedBy,
	})
	return s.flushLocked()
}

func (s *JSONStore) StoreRelationship(ctx context.Context, r graph.EntityRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.relationships {
		if existing.ID == r.ID {
			return nil
		}
	}
	s.relationships = append(s.relationships, r)
	s.rebuildIndexLocked()
	return s.flushLocked()
}

func (s *JSONStore) GetRelationships(ctx context.Context, fromID, toID string, relType graph.RelationshipType) ([]graph.EntityRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fromLatest, toLatest string
	if fromID != "" {
		if versions, ok := s.entities[fromID]; ok && len(versions) > 0 {
			fromLatest = latestOf(versions).Version
		}
	}
	if toID != "" {
		if versions, ok := s.entities[toID]; ok && len(versions) > 0 {
			toLatest = latestOf(versions).Version
		}
	}

	var out []graph.EntityRelationship
	for _, r := range s.relationships {
		if fromID != "" && (r.FromEntityID != fromID || r.FromEntityVersion != fromLatest) {
			continue
		}
		if toID != "" && (r.ToEntityID != toID || r.ToEntityVersion != toLatest) {
			continue
		}
		if relType != "" && r.RelationshipType != relType {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *JSONStore) DeleteRelationship(ctx context.Context, id, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.relationships[:0]
	for _, r := range s.relationships {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.relationships = kept
	s.deletions = append(s.deletions, DeletionRecord{
		ID: id, Kind: "relationship",
		DeletedAt: time.Now().UTC().Format(time.RFC3339Nano),
		DeletedBy: deletedBy,
	})
	s.rebuildIndexLocked()
	return s.flushLocked()
}

func (s *JSONStore) DeletionsSince(ctx context.Context, since string) ([]DeletionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DeletionRecord
	for _, d := range s.deletions {
		if since == "" || d.DeletedAt >= since {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *JSONStore) Search(ctx context.Context, query string, types []graph.EntityType, limit int) ([]SearchResult, error) {
	all, err := s.GetAllLatestEntities(ctx)
	if err != nil {
		return nil, err
	}
	return SearchEntities(all, query, types, limit), nil
}

func (s *JSONStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = map[string][]graph.Entity{}
	s.relationships = nil
	s.deletions = nil
	s.idx = newIndex()
	return s.flushLocked()
}
