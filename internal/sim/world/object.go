package world

import (
	"placecraft/internal/protocol"
)

// PlacedObject is the authoritative record of one world-visible instance.
// Only the world loop goroutine may mutate it.
type PlacedObject struct {
	InstanceID string
	TemplateID string
	OwnerID    string

	Position    [3]float64
	Orientation [3]float64

	// Per-sub-part visual state, keyed by part index. Set at creation or
	// restore; UPDATE_ITEM may replace entries.
	Overrides map[int]protocol.PartOverride

	PlacedAt   int64
	Persistent bool

	// Cached from the template at insert so spatial checks never need a
	// catalog lookup.
	BoundingSize   [3]float64
	RequiresGround bool
}

func (o *PlacedObject) Snapshot() protocol.ObjectSnapshot {
	snap := protocol.ObjectSnapshot{
		InstanceID:  o.InstanceID,
		TemplateID:  o.TemplateID,
		OwnerID:     o.OwnerID,
		Position:    o.Position,
		Orientation: o.Orientation,
		PlacedAt:    o.PlacedAt,
		Persistent:  o.Persistent,
	}
	if len(o.Overrides) > 0 {
		snap.Overrides = make(map[int]protocol.PartOverride, len(o.Overrides))
		for k, v := range o.Overrides {
			snap.Overrides[k] = v
		}
	}
	return snap
}
