package graph

// entityPair is a (from, to) entity-type pair allowed for a relationship type.
type entityPair struct {
	From EntityType
	To   EntityType
}

// validCombinations is the sole authority for relationship validity (P3).
// depends_on and contained_in are reserved enum values with no allowed
// pairs yet, so they are always rejected until a table entry is added.
var validCombinations = map[RelationshipType][]entityPair{
	RelLocatedIn: {
		{EntityDevice, EntityRoom},
		{EntityDevice, EntityZone},
		{EntityRoom, EntityZone},
		{EntityRoom, EntityHome},
		{EntityZone, EntityHome},
	},
	RelControls: {
		{EntityDevice, EntityDevice},
		{EntityAutomation, EntityDevice},
		{EntitySchedule, EntityDevice},
		{EntitySchedule, EntityAutomation},
	},
	RelConnectsTo: {
		{EntityRoom, EntityRoom},
		{EntityDoor, EntityRoom},
		{EntityWindow, EntityRoom},
		{EntityZone, EntityZone},
	},
	RelPartOf: {
		{EntityRoom, EntityHome},
		{EntityZone, EntityHome},
		{EntityDevice, EntityZone},
	},
	RelDocumentedBy: {
		{EntityDevice, EntityManual},
		{EntityDevice, EntityProcedure},
		{EntityHome, EntityManual},
		{EntityRoom, EntityNote},
	},
	RelProcedureFor: {
		{EntityProcedure, EntityDevice},
		{EntityProcedure, EntityHome},
	},
	RelTriggeredBy: {
		{EntityAutomation, EntityDevice},
		{EntityAutomation, EntitySchedule},
	},
	RelManages: {
		{EntityAutomation, EntityDevice},
		{EntitySchedule, EntityAutomation},
	},
	RelMonitors: {
		{EntityDevice, EntityRoom},
		{EntityDevice, EntityZone},
		{EntityAutomation, EntityDevice},
	},
	RelAutomates: {
		{EntityAutomation, EntityDevice},
		{EntityAutomation, EntityRoom},
		{EntityAutomation, EntityZone},
	},
	RelDependsOn:   {},
	RelContainedIn: {},
}

// RelationshipValid reports whether relType is permitted between the given
// entity types. Unlisted pairs, and relationship types with no table entry,
// are rejected.
func RelationshipValid(fromType, toType EntityType, relType RelationshipType) bool {
	pairs, ok := validCombinations[relType]
	if !ok {
		return false
	}
	for _, p := range pairs {
		if p.From == fromType && p.To == toType {
			return true
		}
	}
	return false
}

// ValidFor is a convenience wrapper matching the original model's method
// shape: validate a relationship against the two entities it connects.
func (r EntityRelationship) ValidFor(from, to Entity) bool {
	return RelationshipValid(from.EntityType, to.EntityType, r.RelationshipType)
}
