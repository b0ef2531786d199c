package graph

import (
	"fmt"
	"sync"
	"time"
)

// versionClock guarantees NewVersion never issues the same string twice for
// a given producer even if the wall clock has not advanced between calls.
type versionClock struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var clock = &versionClock{last: make(map[string]time.Time)}

// NewVersion returns "<now_utc_iso>Z-<user_id>", ticking the timestamp
// forward by one nanosecond per producer if the wall clock has not
// advanced since this producer's last call.
func NewVersion(userID string) string {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := clock.last[userID]; ok && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	clock.last[userID] = now

	return fmt.Sprintf("%sZ-%s", now.Format("2006-01-02T15:04:05.000000000"), userID)
}

// CreateChild derives a new version of parent, overlaying changes key-wise
// into the parent's content (top-level override, not a deep merge). The new
// version's user_id is the editor, and parent_versions is just [parent's
// version] — a linear edit, not a merge.
func CreateChild(parent Entity, editorUserID string, changes Content) Entity {
	child := parent.Clone()
	for k, v := range changes {
		child.Content[k] = v
	}
	child.UserID = editorUserID
	child.ParentVersions = []string{parent.Version}
	child.Version = NewVersion(editorUserID)
	now := time.Now().UTC()
	child.CreatedAt = now
	child.UpdatedAt = now
	return child
}
