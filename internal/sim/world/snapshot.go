package world

import (
	"sort"

	"placecraft/internal/persistence/snapshot"
	"placecraft/internal/protocol"
)

// ExportSnapshot walks every persistent object into a V1 snapshot. Objects
// with Persistent false are session-scoped and excluded from durable saves.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: 1,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		BoundsMin: w.cfg.BoundsMin,
		BoundsMax: w.cfg.BoundsMax,
		Counters:  snapshot.CountersV1{NextActor: w.nextActorNum.Load()},
	}

	actorIDs := make([]string, 0, len(w.actors))
	for id := range w.actors {
		actorIDs = append(actorIDs, id)
	}
	sort.Strings(actorIDs)
	for _, id := range actorIDs {
		snap.Actors = append(snap.Actors, snapshot.ActorV1{ID: id, Name: w.actors[id]})
	}

	w.store.Each(func(o *PlacedObject) bool {
		if !o.Persistent {
			return true
		}
		rec := snapshot.ObjectV1{
			InstanceID:  o.InstanceID,
			TemplateID:  o.TemplateID,
			OwnerID:     o.OwnerID,
			PlacedAt:    o.PlacedAt,
			Persistent:  o.Persistent,
			Position:    o.Position,
			Orientation: o.Orientation,
		}
		if len(o.Overrides) > 0 {
			rec.Overrides = make(map[int]snapshot.PartOverrideV1, len(o.Overrides))
			for k, v := range o.Overrides {
				rec.Overrides[k] = snapshot.PartOverrideV1{
					Tint:       v.Tint,
					Finish:     v.Finish,
					Opacity:    v.Opacity,
					Size:       v.Size,
					Collidable: v.Collidable,
					Fixed:      v.Fixed,
				}
			}
		}
		snap.Objects = append(snap.Objects, rec)
		return true
	})
	return snap
}

// ImportSnapshot clears current state and rebuilds it from a snapshot.
// Records whose template no longer resolves are skipped and logged, never
// fatal: one retired template must not lose the rest of the world.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	w.store.Clear()
	w.actors = map[string]string{}

	for _, a := range snap.Actors {
		if a.ID != "" {
			w.actors[a.ID] = a.Name
		}
	}
	if snap.Counters.NextActor > 0 {
		w.nextActorNum.Store(snap.Counters.NextActor)
	}

	skipped := 0
	for _, rec := range snap.Objects {
		def, ok := w.catalogs.Resolve(rec.TemplateID)
		if !ok {
			skipped++
			w.logf("restore: skip %s: template %q not resolvable", rec.InstanceID, rec.TemplateID)
			continue
		}
		o := &PlacedObject{
			InstanceID:     rec.InstanceID,
			TemplateID:     rec.TemplateID,
			OwnerID:        rec.OwnerID,
			Position:       rec.Position,
			Orientation:    rec.Orientation,
			PlacedAt:       rec.PlacedAt,
			Persistent:     rec.Persistent,
			BoundingSize:   def.BoundingSize,
			RequiresGround: def.RequiresGround,
		}
		if len(rec.Overrides) > 0 {
			o.Overrides = make(map[int]protocol.PartOverride, len(rec.Overrides))
			for k, v := range rec.Overrides {
				o.Overrides[k] = protocol.PartOverride{
					Tint:       v.Tint,
					Finish:     v.Finish,
					Opacity:    v.Opacity,
					Size:       v.Size,
					Collidable: v.Collidable,
					Fixed:      v.Fixed,
				}
			}
		}
		w.store.Insert(o)
	}
	if skipped > 0 {
		w.logf("restore: skipped %d of %d records", skipped, len(snap.Objects))
	}
	w.tick.Store(snap.Header.Tick)
	return nil
}
