package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

func entityAt(id, version string, at time.Time, content graph.Content) graph.Entity {
	return graph.Entity{
		ID: id, Version: version, EntityType: graph.EntityDevice, Name: "N",
		Content: content, UserID: "u", CreatedAt: at, UpdatedAt: at,
	}
}

func TestResolve_SameVersionIsNotAConflict(t *testing.T) {
	r := NewResolver()
	e := entityAt("e1", "v1", time.Now(), graph.Content{})
	res := r.Resolve(e, e, StrategyMerge)
	require.NotNil(t, res.ResolvedEntity)
	assert.Equal(t, "v1", res.ResolvedEntity.Version)
}

func TestResolve_LastWriteWins(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	older := entityAt("e1", "v1", now, graph.Content{})
	newer := entityAt("e1", "v2", now.Add(time.Minute), graph.Content{})

	res := r.Resolve(older, newer, StrategyLastWriteWins)
	require.NotNil(t, res.ResolvedEntity)
	assert.Equal(t, "v2", res.ResolvedEntity.Version)
}

func TestResolve_LastWriteWins_TieBreaksOnVersionString(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	a := entityAt("e1", "v-a", now, graph.Content{})
	b := entityAt("e1", "v-b", now, graph.Content{})

	res := r.Resolve(a, b, StrategyLastWriteWins)
	assert.Equal(t, "v-b", res.ResolvedEntity.Version)
}

func TestResolve_Merge_KeyWise(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	local := entityAt("e1", "v1", now, graph.Content{"a": "1", "shared": "x"})
	remote := entityAt("e1", "v2", now.Add(time.Minute), graph.Content{"b": "2", "shared": "y"})

	res := r.Resolve(local, remote, StrategyMerge)
	require.NotNil(t, res.ResolvedEntity)
	assert.Equal(t, "1", res.ResolvedEntity.Content["a"])
	assert.Equal(t, "2", res.ResolvedEntity.Content["b"])
	assert.Equal(t, "x", res.ResolvedEntity.Content["shared"]) // clash resolves to local
	assert.Equal(t, []string{"v1", "v2"}, res.ResolvedEntity.ParentVersions)
	require.Len(t, res.MergeConflicts, 1)
	assert.Equal(t, "shared", res.MergeConflicts[0].Key)
}

func TestResolve_Merge_NestedDictRecursion(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	local := entityAt("e1", "v1", now, graph.Content{
		"settings": map[string]interface{}{"brightness": 50.0, "color": "red"},
	})
	remote := entityAt("e1", "v2", now, graph.Content{
		"settings": map[string]interface{}{"brightness": 80.0, "mode": "auto"},
	})

	res := r.Resolve(local, remote, StrategyMerge)
	settings := res.ResolvedEntity.Content["settings"].(map[string]interface{})
	assert.Equal(t, 50.0, settings["brightness"]) // clash: local wins
	assert.Equal(t, "red", settings["color"])
	assert.Equal(t, "auto", settings["mode"])
}

func TestResolve_ClientWinsAndServerWins(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	local := entityAt("e1", "v1", now, graph.Content{})
	remote := entityAt("e1", "v2", now, graph.Content{})

	assert.Equal(t, "v1", r.Resolve(local, remote, StrategyClientWins).ResolvedEntity.Version)
	assert.Equal(t, "v2", r.Resolve(local, remote, StrategyServerWins).ResolvedEntity.Version)
}

func TestResolve_Manual_QueuesAndIsListable(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	local := entityAt("e1", "v1", now, graph.Content{})
	remote := entityAt("e1", "v2", now, graph.Content{})

	res := r.Resolve(local, remote, StrategyManual)
	assert.True(t, res.RequiresManual)
	assert.Nil(t, res.ResolvedEntity)

	pending := r.PendingManual()
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].EntityID)
}

func TestResolve_CustomRule_DeviceUnionsCapabilities(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	local := entityAt("e1", "v1", now, graph.Content{"capabilities": []interface{}{"dim"}})
	remote := entityAt("e1", "v2", now.Add(time.Minute), graph.Content{"capabilities": []interface{}{"color"}})

	res := r.Resolve(local, remote, StrategyCustom)
	require.NotNil(t, res.ResolvedEntity)
	assert.ElementsMatch(t, []interface{}{"color", "dim"}, res.ResolvedEntity.Content["capabilities"])
	assert.Equal(t, "device-merge", res.ResolvedEntity.UserID)
}

func TestResolve_CustomRule_FailureFallsBackToLastWriteWins(t *testing.T) {
	r := NewResolver()
	r.RegisterCustomRule(graph.EntityDevice, func(local, remote graph.Entity) (graph.Entity, error) {
		return graph.Entity{}, assert.AnError
	})

	now := time.Now().UTC()
	local := entityAt("e1", "v1", now, graph.Content{})
	remote := entityAt("e1", "v2", now.Add(time.Minute), graph.Content{})

	res := r.Resolve(local, remote, StrategyCustom)
	require.NotNil(t, res.ResolvedEntity)
	assert.Equal(t, "v2", res.ResolvedEntity.Version) // remote is the more recent side
}

func TestResolve_CustomRule_NoRuleRegisteredFallsBackToMerge(t *testing.T) {
	r := NewResolver()
	now := time.Now().UTC()
	local := entityAt("e1", "v1", now, graph.Content{"a": "1"})
	local.EntityType = graph.EntityRoom
	remote := entityAt("e1", "v2", now, graph.Content{"b": "2"})
	remote.EntityType = graph.EntityRoom

	res := r.Resolve(local, remote, StrategyCustom)
	require.NotNil(t, res.ResolvedEntity)
	assert.Equal(t, "1", res.ResolvedEntity.Content["a"])
	assert.Equal(t, "2", res.ResolvedEntity.Content["b"])
}
