package world

import (
	"sort"

	"placecraft/internal/sim/spatial"
)

// Store is the authoritative object graph: instance id -> object, plus an
// owner index maintained incrementally on insert/remove. Lookups by owner are
// far more frequent than mutations, so the index is never recomputed.
//
// Store has no locking: it is owned exclusively by the world loop. Clients
// only ever hold advisory copies built from broadcasts.
type Store struct {
	objects map[string]*PlacedObject
	byOwner map[string]map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		objects: map[string]*PlacedObject{},
		byOwner: map[string]map[string]struct{}{},
	}
}

func (s *Store) Len() int { return len(s.objects) }

func (s *Store) Get(instanceID string) *PlacedObject {
	return s.objects[instanceID]
}

func (s *Store) Insert(o *PlacedObject) {
	s.objects[o.InstanceID] = o
	set := s.byOwner[o.OwnerID]
	if set == nil {
		set = map[string]struct{}{}
		s.byOwner[o.OwnerID] = set
	}
	set[o.InstanceID] = struct{}{}
}

func (s *Store) Remove(instanceID string) *PlacedObject {
	o := s.objects[instanceID]
	if o == nil {
		return nil
	}
	delete(s.objects, instanceID)
	if set := s.byOwner[o.OwnerID]; set != nil {
		delete(set, instanceID)
		if len(set) == 0 {
			delete(s.byOwner, o.OwnerID)
		}
	}
	return o
}

// OwnedBy returns the owner's instance ids in stable order.
func (s *Store) OwnedBy(ownerID string) []string {
	set := s.byOwner[ownerID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each visits every object in instance-id order so walks are deterministic.
func (s *Store) Each(fn func(o *PlacedObject) bool) {
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !fn(s.objects[id]) {
			return
		}
	}
}

// Clear drops every object and the owner index. Used by restore.
func (s *Store) Clear() {
	s.objects = map[string]*PlacedObject{}
	s.byOwner = map[string]map[string]struct{}{}
}

// EachObstacle implements spatial.ObstacleSource over the current objects.
// Parts marked non-collidable do not shrink the bounding volume; the
// template's bounding size is the collision footprint.
func (s *Store) EachObstacle(excludeID string, fn func(id string, box spatial.AABB) bool) {
	for id, o := range s.objects {
		if id == excludeID {
			continue
		}
		if !fn(id, spatial.BoxAt(o.Position, o.BoundingSize)) {
			return
		}
	}
}
