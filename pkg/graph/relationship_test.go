package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelationshipValid(t *testing.T) {
	tests := []struct {
		name  string
		from  EntityType
		to    EntityType
		rel   RelationshipType
		valid bool
	}{
		{"device located_in room", EntityDevice, EntityRoom, RelLocatedIn, true},
		{"room located_in device reversed", EntityRoom, EntityDevice, RelLocatedIn, false},
		{"automation controls device", EntityAutomation, EntityDevice, RelControls, true},
		{"unlisted pair rejected", EntityHome, EntityHome, RelControls, false},
		{"depends_on always rejected", EntityDevice, EntityDevice, RelDependsOn, false},
		{"contained_in always rejected", EntityRoom, EntityHome, RelContainedIn, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, RelationshipValid(tt.from, tt.to, tt.rel))
		})
	}
}
