package syncstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(t.TempDir(), "client1", "http://server.example")
	require.NoError(t, err)
	return m
}

func TestNextRetryDelay_DoublesThenCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, NextRetryDelay(0))
	assert.Equal(t, 60*time.Second, NextRetryDelay(1))
	assert.Equal(t, 120*time.Second, NextRetryDelay(2))
	assert.Equal(t, 1920*time.Second, NextRetryDelay(6))
	assert.Equal(t, 1920*time.Second, NextRetryDelay(20))
}

func TestAddPending_FIFOOrder(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddPending(PendingChange{ChangeID: "c1", ChangeType: ChangeCreate, EntityID: "e1"}))
	require.NoError(t, m.AddPending(PendingChange{ChangeID: "c2", ChangeType: ChangeUpdate, EntityID: "e2"}))

	pending := m.GetPending()
	require.Len(t, pending, 2)
	assert.Equal(t, "c1", pending[0].ChangeID)
	assert.Equal(t, "c2", pending[1].ChangeID)
}

func TestMarkSynced_RemovesFromQueue(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddPending(PendingChange{ChangeID: "c1"}))
	require.NoError(t, m.AddPending(PendingChange{ChangeID: "c2"}))

	require.NoError(t, m.MarkSynced("c1"))
	pending := m.GetPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "c2", pending[0].ChangeID)
}

func TestMarkFailed_IncrementsAttemptsKeepsSlot(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddPending(PendingChange{ChangeID: "c1"}))
	require.NoError(t, m.MarkFailed("c1", "network timeout"))

	pending := m.GetPending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "network timeout", pending[0].LastError)
}

func TestRecordSyncSuccess_UpdatesMetricsAndMetadata(t *testing.T) {
	m := newTestManager(t)
	start := time.Now().UTC()
	require.NoError(t, m.RecordSyncSuccess(HistoryEntry{
		DeviceID: "dev1", SyncType: "full", StartedAt: start, CompletedAt: start.Add(100 * time.Millisecond),
		EntitiesSynced: 3, Conflicts: 1,
	}))

	md := m.Metadata()
	assert.True(t, md.LastSyncSuccess)
	assert.Equal(t, 1, md.TotalSyncs)
	assert.Equal(t, 1, md.TotalConflicts)
	assert.Equal(t, 0, md.SyncFailures)

	metrics := m.MetricsSnapshot()
	assert.Equal(t, 1, metrics.TotalSyncs)
	assert.InDelta(t, 100.0, metrics.AverageDurationMS, 1.0)
}

func TestRecordSyncFailure_SchedulesRetryAndAccumulatesFailures(t *testing.T) {
	m := newTestManager(t)
	start := time.Now().UTC()

	require.NoError(t, m.RecordSyncFailure(HistoryEntry{StartedAt: start, CompletedAt: start.Add(50 * time.Millisecond)},
		assertError{"connection refused"}))

	md := m.Metadata()
	assert.False(t, md.LastSyncSuccess)
	assert.Equal(t, 1, md.SyncFailures)
	require.NotNil(t, md.NextRetryTime)
	assert.True(t, md.NextRetryTime.After(start))
}

func TestMetricsAverage_IsArithmeticMean(t *testing.T) {
	m := newTestManager(t)
	start := time.Now().UTC()
	require.NoError(t, m.RecordSyncSuccess(HistoryEntry{StartedAt: start, CompletedAt: start.Add(100 * time.Millisecond)}))
	require.NoError(t, m.RecordSyncSuccess(HistoryEntry{StartedAt: start, CompletedAt: start.Add(300 * time.Millisecond)}))

	metrics := m.MetricsSnapshot()
	assert.InDelta(t, 200.0, metrics.AverageDurationMS, 1.0)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(dir, "client1", "http://server.example")
	require.NoError(t, err)
	require.NoError(t, m1.AddPending(PendingChange{ChangeID: "c1"}))

	m2, err := NewManager(dir, "client1", "http://server.example")
	require.NoError(t, err)
	assert.Len(t, m2.GetPending(), 1)
}

func TestLogConflict_Appends(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.LogConflict(ConflictLogEntry{EntityID: "e1", LocalVersion: "v1", RemoteVersion: "v2"}))
	assert.Len(t, m.state.Conflicts, 1)
}

func TestPendingManualConflicts_ExcludesResolved(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.LogConflict(ConflictLogEntry{EntityID: "e1"}))
	require.NoError(t, m.LogConflict(ConflictLogEntry{EntityID: "e2"}))
	require.NoError(t, m.ResolveManualConflict("e1", "manual"))

	pending := m.PendingManualConflicts()
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].EntityID)
}

func TestResolveManualConflict_ErrorsWhenNotFound(t *testing.T) {
	m := newTestManager(t)
	assert.Error(t, m.ResolveManualConflict("nope", "manual"))
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestUpdateVectorClock_PersistsAndOverwrites(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.UpdateVectorClock("dev1", "v1"))
	require.NoError(t, m.UpdateVectorClock("dev2", "v5"))
	assert.Equal(t, map[string]string{"dev1": "v1", "dev2": "v5"}, m.Metadata().VectorClock)

	require.NoError(t, m.UpdateVectorClock("dev1", "v9"))
	assert.Equal(t, "v9", m.Metadata().VectorClock["dev1"])
}
