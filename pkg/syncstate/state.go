// Package syncstate implements the per-client Sync State Manager (C8): a
// durable pending-change queue, retry/backoff scheduling, sync history,
// conflict log, and running metrics.
package syncstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/adrianco/the-goodies-sub000/pkg/conflict"
)

const (
	retryBase    = 30 * time.Second
	retryCap     = 1920 * time.Second // six doublings of the 30s base
	maxDoublings = 6
)

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// PendingChange is a queued local mutation awaiting server acknowledgement.
type PendingChange struct {
	ChangeID         string                 `json:"change_id"`
	ChangeType       ChangeType             `json:"change_type"`
	EntityID         string                 `json:"entity_id,omitempty"`
	EntityData       map[string]interface{} `json:"entity_data,omitempty"`
	RelationshipData map[string]interface{} `json:"relationship_data,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	Attempts         int                    `json:"attempts"`
	LastError        string                 `json:"last_error,omitempty"`
}

// HistoryEntry records one sync attempt, successful or not.
type HistoryEntry struct {
	DeviceID             string    `json:"device_id"`
	SyncType             string    `json:"sync_type"`
	StartedAt            time.Time `json:"started_at"`
	CompletedAt          time.Time `json:"completed_at"`
	Success              bool      `json:"success"`
	EntitiesSynced       int       `json:"entities_synced"`
	RelationshipsSynced  int       `json:"relationships_synced"`
	Conflicts            int       `json:"conflicts"`
	Error                string    `json:"error,omitempty"`
}

// ConflictLogEntry records one resolved (or pending) conflict.
type ConflictLogEntry struct {
	EntityID           string     `json:"entity_id"`
	LocalVersion       string     `json:"local_version"`
	RemoteVersion      string     `json:"remote_version"`
	ResolutionStrategy string     `json:"resolution_strategy"`
	ResolvedVersion    string     `json:"resolved_version,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

// Metrics tracks plain (non-exponential) arithmetic means of sync duration,
// matching the original's EMA-free running average.
type Metrics struct {
	TotalSyncs        int           `json:"total_syncs"`
	TotalConflicts    int           `json:"total_conflicts"`
	TotalFailures     int           `json:"total_failures"`
	AverageDurationMS float64       `json:"average_duration_ms"`
}

func (m *Metrics) update(duration time.Duration, conflicts int, success bool) {
	n := float64(m.TotalSyncs)
	m.AverageDurationMS = (m.AverageDurationMS*n + float64(duration.Milliseconds())) / (n + 1)
	m.TotalSyncs++
	m.TotalConflicts += conflicts
	if !success {
		m.TotalFailures++
	}
}

// Metadata is the per-client sync metadata record (§3).
type Metadata struct {
	ClientID        string            `json:"client_id"`
	ServerURL       string            `json:"server_url"`
	LastSyncTime    *time.Time        `json:"last_sync_time,omitempty"`
	LastSyncSuccess bool              `json:"last_sync_success"`
	LastSyncError   string            `json:"last_sync_error,omitempty"`
	SyncFailures    int               `json:"sync_failures"`
	TotalSyncs      int               `json:"total_syncs"`
	TotalConflicts  int               `json:"total_conflicts"`
	SyncInProgress  bool              `json:"sync_in_progress"`
	NextRetryTime   *time.Time        `json:"next_retry_time,omitempty"`
	VectorClock     map[string]string `json:"vector_clock"`
}

// persistedState is the on-disk shape; the on-disk path mirrors the §6
// JSON-file convention already used by the client local store rather than
// introducing a second embedded-database technology client-side.
type persistedState struct {
	Metadata   Metadata           `json:"metadata"`
	Pending    []PendingChange    `json:"pending"`
	History    []HistoryEntry     `json:"history"`
	Conflicts  []ConflictLogEntry `json:"conflicts"`
	Metrics    Metrics            `json:"metrics"`
}

// Manager is the Sync State Manager. One instance per client.
type Manager struct {
	mu   sync.Mutex
	path string
	state persistedState
}

// NewManager opens (creating if absent) the sync state file at
// <dir>/sync_state.json for clientID against serverURL.
func NewManager(dir, clientID, serverURL string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, syncerrors.Storage("syncstate_mkdir", err)
	}
	m := &Manager{path: filepath.Join(dir, "sync_state.json")}

	data, err := os.ReadFile(m.path)
	if err == nil && len(data) > 0 {
		if jerr := json.Unmarshal(data, &m.state); jerr != nil {
			return nil, syncerrors.Storage("syncstate_unmarshal", jerr)
		}
	} else {
		m.state = persistedState{Metadata: Metadata{ClientID: clientID, ServerURL: serverURL, VectorClock: map[string]string{}}}
	}
	if m.state.Metadata.VectorClock == nil {
		m.state.Metadata.VectorClock = map[string]string{}
	}
	return m, nil
}

func (m *Manager) flushLocked() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return syncerrors.Storage("syncstate_marshal", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return syncerrors.Storage("syncstate_write", err)
	}
	return nil
}

// AddPending enqueues a local mutation.
func (m *Manager) AddPending(c PendingChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.state.Pending = append(m.state.Pending, c)
	return m.flushLocked()
}

// GetPending returns the queue in FIFO order by created_at.
func (m *Manager) GetPending() []PendingChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]PendingChange(nil), m.state.Pending...)
	return out
}

// MarkSynced removes a change from the pending queue after server ack.
func (m *Manager) MarkSynced(changeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.state.Pending[:0]
	for _, c := range m.state.Pending {
		if c.ChangeID != changeID {
			kept = append(kept, c)
		}
	}
	m.state.Pending = kept
	return m.flushLocked()
}

// MarkFailed increments attempts and records the error; the change keeps
// its original FIFO slot.
func (m *Manager) MarkFailed(changeID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.Pending {
		if m.state.Pending[i].ChangeID == changeID {
			m.state.Pending[i].Attempts++
			m.state.Pending[i].LastError = errMsg
			break
		}
	}
	return m.flushLocked()
}

// NextRetryDelay computes the backoff delay for the given attempt count:
// base * 2^attempts, capped after six doublings.
func NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return retryBase
	}
	if attempts > maxDoublings {
		return retryCap
	}
	delay := retryBase
	for i := 0; i < attempts; i++ {
		delay *= 2
	}
	if delay > retryCap {
		return retryCap
	}
	return delay
}

// RecordSyncStart marks sync_in_progress and updates last_sync_time. An
// attempt started while one is already in progress must be rejected by
// the caller (the busy check happens in the client, §5).
func (m *Manager) RecordSyncStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.state.Metadata.SyncInProgress = true
	m.state.Metadata.LastSyncTime = &now
	return m.flushLocked()
}

// RecordSyncSuccess finalizes a successful attempt: appends history,
// updates metrics and metadata, clears retry scheduling.
func (m *Manager) RecordSyncSuccess(entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Metadata.SyncInProgress = false
	m.state.Metadata.LastSyncSuccess = true
	m.state.Metadata.LastSyncError = ""
	m.state.Metadata.SyncFailures = 0
	m.state.Metadata.TotalSyncs++
	m.state.Metadata.TotalConflicts += entry.Conflicts
	m.state.Metadata.NextRetryTime = nil

	entry.Success = true
	m.state.History = append(m.state.History, entry)
	m.state.Metrics.update(entry.CompletedAt.Sub(entry.StartedAt), entry.Conflicts, true)

	logging.For("syncstate").Info().Int("entities", entry.EntitiesSynced).
		Int("conflicts", entry.Conflicts).Msg("sync succeeded")
	return m.flushLocked()
}

// RecordSyncFailure finalizes a failed attempt and schedules the next
// retry using the exponential backoff described in §4.8.
func (m *Manager) RecordSyncFailure(entry HistoryEntry, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Metadata.SyncInProgress = false
	m.state.Metadata.LastSyncSuccess = false
	m.state.Metadata.LastSyncError = err.Error()
	m.state.Metadata.SyncFailures++

	delay := NextRetryDelay(m.state.Metadata.SyncFailures - 1)
	next := time.Now().UTC().Add(delay)
	m.state.Metadata.NextRetryTime = &next

	entry.Success = false
	entry.Error = err.Error()
	m.state.History = append(m.state.History, entry)
	m.state.Metrics.update(entry.CompletedAt.Sub(entry.StartedAt), entry.Conflicts, false)

	logging.For("syncstate").Warn().Err(err).Time("next_retry", next).Msg("sync failed")
	return m.flushLocked()
}

// LogConflict appends a conflict to the durable conflict log.
func (m *Manager) LogConflict(c ConflictLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.state.Conflicts = append(m.state.Conflicts, c)
	return m.flushLocked()
}

// UpdateVectorClock advances the locally-held vector clock's entry for
// deviceID to version (§4.8), so the next request built from this state
// echoes what this client has already observed rather than starting over.
func (m *Manager) UpdateVectorClock(deviceID, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Metadata.VectorClock == nil {
		m.state.Metadata.VectorClock = map[string]string{}
	}
	m.state.Metadata.VectorClock[deviceID] = version
	return m.flushLocked()
}

// Metadata returns a snapshot of the current sync metadata.
func (m *Manager) Metadata() Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Metadata
}

// MetricsSnapshot returns a snapshot of the running metrics.
func (m *Manager) MetricsSnapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Metrics
}

// PendingManualConflicts returns conflict log entries that have not yet
// been resolved (ResolvedAt is nil).
func (m *Manager) PendingManualConflicts() []ConflictLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ConflictLogEntry
	for _, c := range m.state.Conflicts {
		if c.ResolvedAt == nil {
			out = append(out, c)
		}
	}
	return out
}

// ResolveManualConflict marks the conflict log entry matching entityID as
// resolved under the given strategy name. It is a no-op error if no
// matching pending entry exists.
func (m *Manager) ResolveManualConflict(entityID string, strategy conflict.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := range m.state.Conflicts {
		if m.state.Conflicts[i].EntityID == entityID && m.state.Conflicts[i].ResolvedAt == nil {
			m.state.Conflicts[i].ResolutionStrategy = string(strategy)
			m.state.Conflicts[i].ResolvedAt = &now
			return m.flushLocked()
		}
	}
	return syncerrors.New(syncerrors.KindValidation, "no pending conflict for entity "+entityID).Build()
}

// ClearOldHistory removes history entries older than the given cutoff.
func (m *Manager) ClearOldHistory(olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	kept := m.state.History[:0]
	for _, h := range m.state.History {
		if h.StartedAt.After(cutoff) {
			kept = append(kept, h)
		}
	}
	m.state.History = kept
	return m.flushLocked()
}
