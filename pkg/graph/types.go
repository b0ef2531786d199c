// Package graph defines the versioned entity-relationship model: the
// identity, content, and structural-validity rules shared by every other
// component in the sync core.
package graph

import "time"

// EntityType is the closed set of node kinds in the knowledge graph.
type EntityType string

const (
	EntityHome      EntityType = "home"
	EntityRoom      EntityType = "room"
	EntityDevice    EntityType = "device"
	EntityZone      EntityType = "zone"
	EntityDoor      EntityType = "door"
	EntityWindow    EntityType = "window"
	EntityProcedure EntityType = "procedure"
	EntityManual    EntityType = "manual"
	EntityNote      EntityType = "note"
	EntitySchedule  EntityType = "schedule"
	EntityAutomation EntityType = "automation"
)

var validEntityTypes = map[EntityType]bool{
	EntityHome: true, EntityRoom: true, EntityDevice: true, EntityZone: true,
	EntityDoor: true, EntityWindow: true, EntityProcedure: true, EntityManual: true,
	EntityNote: true, EntitySchedule: true, EntityAutomation: true,
}

// ParseEntityType validates et against the closed enum. Unknown values are
// reported with ok == false, never silently coerced (§9 design note: no dynamic
// enum lookup with string-case fallback).
func ParseEntityType(et string) (EntityType, bool) {
	t := EntityType(et)
	return t, validEntityTypes[t]
}

// SourceType records where an entity version originated.
type SourceType string

const (
	SourceHomeKit  SourceType = "homekit"
	SourceMatter   SourceType = "matter"
	SourceManual   SourceType = "manual"
	SourceImported SourceType = "imported"
	SourceGenerated SourceType = "generated"
)

// Content is the structured, JSON-shaped body of an entity version.
type Content map[string]interface{}

// Entity is one immutable version of a logical node. (id, version) is its
// primary key; editing produces a new Entity sharing id, not a mutation.
type Entity struct {
	ID             string     `json:"id"`
	Version        string     `json:"version"`
	EntityType     EntityType `json:"entity_type"`
	Name           string     `json:"name"`
	Content        Content    `json:"content"`
	SourceType     SourceType `json:"source_type"`
	UserID         string     `json:"user_id"`
	ParentVersions []string   `json:"parent_versions"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep-enough copy for use as the basis of a new version:
// content is copied one level deep so callers can mutate it freely.
func (e Entity) Clone() Entity {
	c := e
	c.Content = make(Content, len(e.Content))
	for k, v := range e.Content {
		c.Content[k] = v
	}
	c.ParentVersions = append([]string(nil), e.ParentVersions...)
	return c
}

// RelationshipType is the closed set of edge kinds between entities.
type RelationshipType string

const (
	RelLocatedIn    RelationshipType = "located_in"
	RelControls     RelationshipType = "controls"
	RelConnectsTo   RelationshipType = "connects_to"
	RelPartOf       RelationshipType = "part_of"
	RelManages      RelationshipType = "manages"
	RelDocumentedBy RelationshipType = "documented_by"
	RelProcedureFor RelationshipType = "procedure_for"
	RelTriggeredBy  RelationshipType = "triggered_by"
	RelDependsOn    RelationshipType = "depends_on"
	RelContainedIn  RelationshipType = "contained_in"
	RelMonitors     RelationshipType = "monitors"
	RelAutomates    RelationshipType = "automates"
)

var validRelationshipTypes = map[RelationshipType]bool{
	RelLocatedIn: true, RelControls: true, RelConnectsTo: true, RelPartOf: true,
	RelManages: true, RelDocumentedBy: true, RelProcedureFor: true, RelTriggeredBy: true,
	RelDependsOn: true, RelContainedIn: true, RelMonitors: true, RelAutomates: true,
}

func ParseRelationshipType(rt string) (RelationshipType, bool) {
	t := RelationshipType(rt)
	return t, validRelationshipTypes[t]
}

// EntityRelationship is a directed, typed, versioned edge.
type EntityRelationship struct {
	ID                string                 `json:"id"`
	FromEntityID      string                 `json:"from_entity_id"`
	FromEntityVersion string                 `json:"from_entity_version"`
	ToEntityID        string                 `json:"to_entity_id"`
	ToEntityVersion   string                 `json:"to_entity_version"`
	RelationshipType  RelationshipType       `json:"relationship_type"`
	Properties        map[string]interface{} `json:"properties"`
	UserID            string                 `json:"user_id"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}
