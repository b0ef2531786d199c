// Package version implements the version DAG operations of C3: history
// traversal, common-ancestor search, diffing, and multi-parent merges.
package version

import (
	"context"
	"sort"

	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
)

// Manager walks a Store's version history for a single entity at a time.
// It holds no state of its own; all state lives in the backing Store.
type Manager struct {
	store store.Store
}

func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// GetVersionHistory returns every version of id, ordered by created_at.
func (m *Manager) GetVersionHistory(ctx context.Context, id string) ([]graph.Entity, error) {
	return m.store.GetEntityVersions(ctx, id)
}

// FindCommonAncestor walks the parent_versions DAG of two versions of the
// same entity and returns the most recent version present in both
// ancestor sets. ok is false if the histories are disjoint.
func (m *Manager) FindCommonAncestor(ctx context.Context, entityID, v1, v2 string) (string, bool, error) {
	history, err := m.store.GetEntityVersions(ctx, entityID)
	if err != nil {
		return "", false, err
	}
	byVersion := make(map[string]graph.Entity, len(history))
	for _, e := range history {
		byVersion[e.Version] = e
	}

	ancestorsOf := func(start string) map[string]bool {
		seen := map[string]bool{}
		queue := []string{start}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			if seen[v] {
				continue
			}
			seen[v] = true
			if e, ok := byVersion[v]; ok {
				queue = append(queue, e.ParentVersions...)
			}
		}
		return seen
	}

	a1 := ancestorsOf(v1)
	a2 := ancestorsOf(v2)

	var bestVersion string
	var found bool
	for v := range a1 {
		if !a2[v] {
			continue
		}
		e, ok := byVersion[v]
		if !ok {
			continue
		}
		if !found || e.CreatedAt.After(byVersion[bestVersion].CreatedAt) {
			bestVersion = v
			found = true
		}
	}
	return bestVersion, found, nil
}

// ContentChange describes a single top-level content key's change.
type ContentChange struct {
	Type     string      `json:"type"` // added, removed, modified
	OldValue interface{} `json:"old_value,omitempty"`
	NewValue interface{} `json:"new_value,omitempty"`
}

// Diff is the result of comparing two versions of the same entity.
type Diff struct {
	VersionChange struct{ From, To string } `json:"version_change"`
	NameChanged   bool                       `json:"name_changed"`
	NameChange    *struct{ From, To string } `json:"name_change,omitempty"`
	ContentChanges map[string]ContentChange  `json:"content_changes"`
}

// CalculateVersionDiff compares old and new at the top level of content only.
func CalculateVersionDiff(old, new graph.Entity) Diff {
	d := Diff{ContentChanges: map[string]ContentChange{}}
	d.VersionChange.From = old.Version
	d.VersionChange.To = new.Version

	if old.Name != new.Name {
		d.NameChanged = true
		d.NameChange = &struct{ From, To string }{old.Name, new.Name}
	}

	for k, ov := range old.Content {
		nv, stillPresent := new.Content[k]
		if !stillPresent {
			d.ContentChanges[k] = ContentChange{Type: "removed", OldValue: ov}
		} else if !deepEqual(ov, nv) {
			d.ContentChanges[k] = ContentChange{Type: "modified", OldValue: ov, NewValue: nv}
		}
	}
	for k, nv := range new.Content {
		if _, existed := old.Content[k]; !existed {
			d.ContentChanges[k] = ContentChange{Type: "added", NewValue: nv}
		}
	}
	return d
}

// MergeVersions combines multiple versions of the same entity: base is the
// oldest (by created_at), each later version overlays its content key-wise
// over the accumulator, name comes from the most recent input, and
// parent_versions is every input version in input (not dedup'd) order --
// matching the algorithm this is grounded on exactly.
func MergeVersions(versions []graph.Entity, editorUserID string) (graph.Entity, error) {
	if len(versions) == 0 {
		return graph.Entity{}, syncerrors.Validation("versions", "cannot merge an empty version list")
	}
	ordered := append([]graph.Entity(nil), versions...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	merged := ordered[0].Clone()
	for _, v := range ordered[1:] {
		for k, val := range v.Content {
			merged.Content[k] = val
		}
	}

	mostRecent := ordered[len(ordered)-1]
	merged.Name = mostRecent.Name
	merged.UserID = "system-merge"
	merged.ParentVersions = make([]string, len(versions))
	for i, v := range versions {
		merged.ParentVersions[i] = v.Version
	}
	merged.Version = graph.NewVersion(merged.UserID)
	return merged, nil
}

func deepEqual(a, b interface{}) bool {
	// content values are JSON-shaped (scalars, slices, maps of those); a
	// simple recursive structural comparison is sufficient and avoids a
	// reflect.DeepEqual dependency on exact numeric representation.
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
