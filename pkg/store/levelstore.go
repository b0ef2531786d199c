package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// Key layout inside the LevelDB instance. Indices are maintained as
// separate key prefixes and are fully rebuildable from the entity/
// relationship rows by a prefix scan, so corruption recovery is "drop and
// rebuild" rather than a repair tool.
const (
	prefixEntity       = "e/"      // e/<id>/<version> -> Entity JSON
	prefixRelationship = "r/"      // r/<id> -> EntityRelationship JSON
	prefixDeletion     = "d/"      // d/<deleted_at>/<id> -> DeletionRecord JSON
	prefixIndexType    = "idx/type/" // idx/type/<entity_type>/<id> -> ""
)

// LevelStore is the server-side Store backend: an embedded LSM-tree
// key-value store keyed by (id, version), grounded on the teacher's
// goleveldb-backed metadata manager.
type LevelStore struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// NewLevelStore opens (creating if needed) a LevelDB database at dir.
func NewLevelStore(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", dir, err)
	}
	logging.For("store").Info().Str("dir", dir).Msg("opened server store")
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Close() error { return s.db.Close() }

func entityKey(id, version string) []byte {
	return []byte(prefixEntity + id + "/" + version)
}

func entityPrefix(id string) []byte {
	return []byte(prefixEntity + id + "/")
}

func (s *LevelStore) StoreEntity(ctx context.Context, e graph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return syncerrors.Storage("store_entity_marshal", err)
	}

	existing, err := s.db.Get(entityKey(e.ID, e.Version), nil)
	if err == nil {
		var prior graph.Entity
		if jerr := json.Unmarshal(existing, &prior); jerr == nil && !entitiesEqual(prior, e) {
			return syncerrors.New(syncerrors.KindStorage, "entity version already exists with different content").
				WithEntity(e.ID).Build()
		}
	} else if err != leveldb.ErrNotFound {
		return syncerrors.Storage("store_entity_get", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(entityKey(e.ID, e.Version), data)
	batch.Put([]byte(fmt.Sprintf("%s%s/%s", prefixIndexType, e.EntityType, e.ID)), []byte{})
	if err := s.db.Write(batch, nil); err != nil {
		return syncerrors.Storage("store_entity_write", err)
	}
	return nil
}

func entitiesEqual(a, b graph.Entity) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func (s *LevelStore) GetEntity(ctx context.Context, id, version string) (graph.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version != "" {
		data, err := s.db.Get(entityKey(id, version), nil)
		if err == leveldb.ErrNotFound {
			return graph.Entity{}, false, nil
		} else if err != nil {
			return graph.Entity{}, false, syncerrors.Storage("get_entity", err)
		}
		var e graph.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return graph.Entity{}, false, syncerrors.Storage("get_entity_unmarshal", err)
		}
		return e, true, nil
	}

	versions, err := s.entityVersionsLocked(id)
	if err != nil {
		return graph.Entity{}, false, err
	}
	if len(versions) == 0 {
		return graph.Entity{}, false, nil
	}
	return latestOf(versions), true, nil
}

// latestOf picks the entity with the greatest created_at, breaking ties by
// the lexicographically greater version string (§4.2).
func latestOf(versions []graph.Entity) graph.Entity {
	best := versions[0]
	for _, e := range versions[1:] {
		if e.CreatedAt.After(best.CreatedAt) ||
			(e.CreatedAt.Equal(best.CreatedAt) && e.Version > best.Version) {
			best = e
		}
	}
	return best
}

func (s *LevelStore) entityVersionsLocked(id string) ([]graph.Entity, error) {
	iter := s.db.NewIterator(util.BytesPrefix(entityPrefix(id)), nil)
	defer iter.Release()

	var out []graph.Entity
	for iter.Next() {
		var e graph.Entity
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, syncerrors.Storage("entity_versions_unmarshal", err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, syncerrors.Storage("entity_versions_iterate", err)
	}
	return out, nil
}

func (s *LevelStore) GetEntityVersions(ctx context.Context, id string) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.entityVersionsLocked(id)
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].CreatedAt.Before(versions[j].CreatedAt) })
	return versions, nil
}

func (s *LevelStore) GetEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error) {
	s.mu.RLock()
	ids := map[string]bool{}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixIndexType+string(entityType)+"/")), nil)
	for iter.Next() {
		key := string(iter.Key())
		id := strings.TrimPrefix(key, prefixIndexType+string(entityType)+"/")
		ids[id] = true
	}
	iter.Release()
	s.mu.RUnlock()

	var out []graph.Entity
	for id := range ids {
		e, ok, err := s.GetEntity(ctx, id, "")
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	sortByIDThenVersionEntities(out)
	return out, nil
}

func (s *LevelStore) GetAllLatestEntities(ctx context.Context) ([]graph.Entity, error) {
	s.mu.RLock()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixEntity)), nil)
	ids := map[string]bool{}
	for iter.Next() {
		rest := strings.TrimPrefix(string(iter.Key()), prefixEntity)
		id := strings.SplitN(rest, "/", 2)[0]
		ids[id] = true
	}
	iter.Release()
	s.mu.RUnlock()

	var out []graph.Entity
	for id := range ids {
		e, ok, err := s.GetEntity(ctx, id, "")
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	sortByIDThenVersionEntities(out)
	return out, nil
}

func (s *LevelStore) DeleteEntity(ctx context.Context, id, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec := DeletionRecord{ID: id, Kind: "entity", DeletedAt: now, DeletedBy: deletedBy}
	data, err := json.Marshal(rec)
	if err != nil {
		return syncerrors.Storage("delete_entity_marshal", err)
	}
	key := []byte(fmt.Sprintf("%s%s/%s", prefixDeletion, now, id))
	if err := s.db.Put(key, data, nil); err != nil {
		return syncerrors.Storage("delete_entity_write", err)
	}
	return nil
}

func (s *LevelStore) StoreRelationship(ctx context.Context, r graph.EntityRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(r)
	if err != nil {
		return syncerrors.Storage("store_relationship_marshal", err)
	}
	if err := s.db.Put([]byte(prefixRelationship+r.ID), data, nil); err != nil {
		return syncerrors.Storage("store_relationship_write", err)
	}
	return nil
}

func (s *LevelStore) GetRelationships(ctx context.Context, fromID, toID string, relType graph.RelationshipType) ([]graph.EntityRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fromLatest, toLatest string
	if fromID != "" {
		versions, err := s.entityVersionsLocked(fromID)
		if err != nil {
			return nil, err
		}
		if len(versions) > 0 {
			fromLatest = latestOf(versions).Version
		}
	}
	if toID != "" {
		versions, err := s.entityVersionsLocked(toID)
		if err != nil {
			return nil, err
		}
		if len(versions) > 0 {
			toLatest = latestOf(versions).Version
		}
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixRelationship)), nil)
	defer iter.Release()

	var out []graph.EntityRelationship
	for iter.Next() {
		var r graph.EntityRelationship
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, syncerrors.Storage("get_relationships_unmarshal", err)
		}
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

func (s *LevelStore) DeleteRelationship(ctx context.Context, id, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Delete([]byte(prefixRelationship+id), nil); err != nil {
		return syncerrors.Storage("delete_relationship", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec := DeletionRecord{ID: id, Kind: "relationship", DeletedAt: now, DeletedBy: deletedBy}
	data, _ := json.Marshal(rec)
	key := []byte(fmt.Sprintf("%s%s/%s", prefixDeletion, now, id))
	return s.db.Put(key, data, nil)
}

func (s *LevelStore) DeletionsSince(ctx context.Context, since string) ([]DeletionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixDeletion)), nil)
	defer iter.Release()

	var out []DeletionRecord
	for iter.Next() {
		var rec DeletionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, syncerrors.Storage("deletions_since_unmarshal", err)
		}
		if since == "" || rec.DeletedAt >= since {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *LevelStore) Search(ctx context.Context, query string, types []graph.EntityType, limit int) ([]SearchResult, error) {
	all, err := s.GetAllLatestEntities(ctx)
	if err != nil {
		return nil, err
	}
	return SearchEntities(all, query, types, limit), nil
}

func (s *LevelStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	return s.db.Write(batch, nil)
}
