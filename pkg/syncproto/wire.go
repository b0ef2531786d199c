// Package syncproto defines the inbetweenies-v2 wire types shared by the
// server handler (C6) and the client (C7): requests, responses, and the
// vector clock carried between them.
package syncproto

import (
	"time"

	"github.com/adrianco/the-goodies-sub000/pkg/conflict"
	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

const ProtocolVersion = "inbetweenies-v2"

type SyncType string

const (
	SyncFull          SyncType = "full"
	SyncDelta         SyncType = "delta"
	SyncEntities      SyncType = "entities"
	SyncRelationships SyncType = "relationships"
)

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// VectorClock maps a device identifier to the highest version that device
// is known to have observed.
type VectorClock struct {
	Clocks map[string]string `json:"clocks"`
}

func NewVectorClock() VectorClock {
	return VectorClock{Clocks: map[string]string{}}
}

// SyncChange is one staged mutation, carried in both directions.
type SyncChange struct {
	ChangeType    ChangeType                   `json:"change_type"`
	Entity        *graph.Entity                `json:"entity,omitempty"`
	Relationships []graph.EntityRelationship   `json:"relationships,omitempty"`
}

// SyncFilters restricts which entities a full/delta sync considers. A
// server must ignore filters it cannot honor rather than failing (§4.6).
type SyncFilters struct {
	EntityTypes []graph.EntityType `json:"entity_types,omitempty"`
	Since       *time.Time         `json:"since,omitempty"`
	ModifiedBy  []string           `json:"modified_by,omitempty"`
}

type SyncRequest struct {
	ProtocolVersion string       `json:"protocol_version"`
	DeviceID        string       `json:"device_id"`
	UserID          string       `json:"user_id"`
	SyncType        SyncType     `json:"sync_type"`
	VectorClock     VectorClock  `json:"vector_clock"`
	Changes         []SyncChange `json:"changes"`
	Filters         *SyncFilters `json:"filters,omitempty"`
}

// ConflictInfo is the wire form of a resolved or pending conflict.
type ConflictInfo struct {
	EntityID           string            `json:"entity_id"`
	LocalVersion       string            `json:"local_version"`
	RemoteVersion      string            `json:"remote_version"`
	ResolutionStrategy conflict.Strategy `json:"resolution_strategy"`
	ResolvedVersion    string            `json:"resolved_version,omitempty"`
}

type SyncStats struct {
	EntitiesSynced      int   `json:"entities_synced"`
	RelationshipsSynced int   `json:"relationships_synced"`
	ConflictsResolved   int   `json:"conflicts_resolved"`
	DurationMS          int64 `json:"duration_ms"`
}

type SyncResponse struct {
	SyncType    SyncType       `json:"sync_type"`
	Changes     []SyncChange   `json:"changes"`
	Conflicts   []ConflictInfo `json:"conflicts"`
	VectorClock VectorClock    `json:"vector_clock"`
	SyncStats   SyncStats      `json:"sync_stats"`
}
