package conflict

import (
	"reflect"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// mergeEntities implements the §4.4 merge strategy: key-wise, recursing into
// dict-in-dict values at every nesting level, with other clashes recorded
// (under dotted keys when nested) and resolved in favor of local. The merged entity gets parent_versions = [local, remote] and
// user_id "sync-merge"; name comes from whichever side was updated more
// recently.
func mergeEntities(local, remote graph.Entity) (graph.Entity, []MergeConflict) {
	content, conflicts := mergeDicts(local.Content, remote.Content, "")

	merged := local.Clone()
	merged.Content = content
	merged.UserID = "sync-merge"
	merged.ParentVersions = []string{local.Version, remote.Version}
	merged.Version = graph.NewVersion(merged.UserID)

	localTime := local.UpdatedAt
	if localTime.IsZero() {
		localTime = local.CreatedAt
	}
	remoteTime := remote.UpdatedAt
	if remoteTime.IsZero() {
		remoteTime = remote.CreatedAt
	}
	if remoteTime.After(localTime) {
		merged.Name = remote.Name
	} else {
		merged.Name = local.Name
	}

	return merged, conflicts
}

// mergeDicts recursively merges two string-keyed maps. pathPrefix qualifies
// nested conflict keys (e.g. "settings.brightness") for readability.
func mergeDicts(local, remote map[string]interface{}, pathPrefix string) (map[string]interface{}, []MergeConflict) {
	out := make(map[string]interface{}, len(local)+len(remote))
	var conflicts []MergeConflict

	for k, lv := range local {
		out[k] = lv
	}

	for k, rv := range remote {
		lv, inLocal := local[k]
		if !inLocal {
			out[k] = rv
			continue
		}
		if valuesEqual(lv, rv) {
			out[k] = lv
			continue
		}

		lm, lIsMap := lv.(map[string]interface{})
		rm, rIsMap := rv.(map[string]interface{})
		if lIsMap && rIsMap {
			nested, nestedConflicts := mergeDicts(lm, rm, qualify(pathPrefix, k))
			out[k] = nested
			conflicts = append(conflicts, nestedConflicts...)
			continue
		}

		out[k] = lv // scalar clash: local wins
		conflicts = append(conflicts, MergeConflict{
			Key:         qualify(pathPrefix, k),
			LocalValue:  lv,
			RemoteValue: rv,
			Resolution:  "used_local",
		})
	}

	return out, conflicts
}

func qualify(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func valuesEqual(a, b interface{}) bool {
	am, aok := a.(map[string]interface{})
	bm, bok := b.(map[string]interface{})
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			if !valuesEqual(v, bm[k]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}
