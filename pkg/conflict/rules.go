package conflict

import (
	"fmt"
	"sort"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// RegisterDefaultRules installs the rules the spec ships by default,
// overridable via RegisterCustomRule.
func RegisterDefaultRules(r *Resolver) {
	r.RegisterCustomRule(graph.EntityDevice, deviceConflictRule)
	r.RegisterCustomRule(graph.EntityAutomation, automationConflictRule)
}

// deviceConflictRule unions the "capabilities" list (sorted), basing the
// rest of the content on whichever side was updated most recently.
func deviceConflictRule(local, remote graph.Entity) (graph.Entity, error) {
	localTime := local.UpdatedAt
	if localTime.IsZero() {
		localTime = local.CreatedAt
	}
	remoteTime := remote.UpdatedAt
	if remoteTime.IsZero() {
		remoteTime = remote.CreatedAt
	}

	base := local
	if remoteTime.After(localTime) {
		base = remote
	}
	merged := base.Clone()

	caps := map[string]bool{}
	for _, side := range []graph.Entity{local, remote} {
		if list, ok := side.Content["capabilities"].([]interface{}); ok {
			for _, c := range list {
				if s, ok := c.(string); ok {
					caps[s] = true
				}
			}
		}
	}
	if len(caps) > 0 {
		merged.Content["capabilities"] = sortedKeys(caps)
	}

	merged.UserID = "device-merge"
	merged.ParentVersions = []string{local.Version, remote.Version}
	merged.Version = graph.NewVersion(merged.UserID)
	return merged, nil
}

// automationConflictRule prefers whichever side has content["enabled"] ==
// true. If both or neither do, it falls back to last-write-wins, still
// producing a result that satisfies the custom-rule mutation bounds.
func automationConflictRule(local, remote graph.Entity) (graph.Entity, error) {
	localEnabled, _ := local.Content["enabled"].(bool)
	remoteEnabled, _ := remote.Content["enabled"].(bool)

	var base graph.Entity
	switch {
	case localEnabled && !remoteEnabled:
		base = local
	case remoteEnabled && !localEnabled:
		base = remote
	default:
		winner := lastWriteWins(local, remote)
		if winner == nil {
			return graph.Entity{}, fmt.Errorf("automation conflict: no winner determined")
		}
		base = *winner
	}

	merged := base.Clone()
	merged.UserID = "automation-merge"
	merged.ParentVersions = []string{local.Version, remote.Version}
	merged.Version = graph.NewVersion(merged.UserID)
	return merged, nil
}

func sortedKeys(m map[string]bool) []interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
