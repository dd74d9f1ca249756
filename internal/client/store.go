// Package client is the advisory side of the placement protocol: a local
// mirror of the object graph, a websocket session with request correlation,
// and the manipulation state machine that drives move and rotate flows.
// Nothing in this package is authoritative; every mutation is confirmed or
// rolled back by a server reply.
package client

import (
	"sort"
	"sync"

	"placecraft/internal/protocol"
	"placecraft/internal/sim/spatial"
)

// SizeResolver maps a template id to its bounding extents and ground
// requirement. Usually catalogs.Catalogs on the client side.
type SizeResolver func(templateID string) (size [3]float64, requiresGround bool, ok bool)

type entry struct {
	obj  protocol.ObjectSnapshot
	size [3]float64
}

// Store is the client's advisory copy of the placed-object graph, maintained
// from SYNC and from ITEM_* broadcasts. It serves previews and pre-checks.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
	resolve SizeResolver
}

func NewStore(resolve SizeResolver) *Store {
	return &Store{
		objects: map[string]entry{},
		resolve: resolve,
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *Store) Get(instanceID string) (protocol.ObjectSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[instanceID]
	return e.obj, ok
}

func (s *Store) ApplySync(msg protocol.SyncMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string]entry, len(msg.Objects))
	for _, o := range msg.Objects {
		s.objects[o.InstanceID] = s.entryFor(o)
	}
}

func (s *Store) Upsert(o protocol.ObjectSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[o.InstanceID] = s.entryFor(o)
}

func (s *Store) Remove(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, instanceID)
}

func (s *Store) SetPosition(instanceID string, pos [3]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.objects[instanceID]; ok {
		e.obj.Position = pos
		s.objects[instanceID] = e
	}
}

func (s *Store) SetOrientation(instanceID string, orient [3]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.objects[instanceID]; ok {
		e.obj.Orientation = orient
		s.objects[instanceID] = e
	}
}

// OwnedBy lists the caller's instance ids in stable order.
func (s *Store) OwnedBy(ownerID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, e := range s.objects {
		if e.obj.OwnerID == ownerID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// EachObstacle implements spatial.ObstacleSource over the advisory copy so
// pre-checks run the same geometry the authority does.
func (s *Store) EachObstacle(excludeID string, fn func(id string, box spatial.AABB) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, e := range s.objects {
		if id == excludeID {
			continue
		}
		if !fn(id, spatial.BoxAt(e.obj.Position, e.size)) {
			return
		}
	}
}

func (s *Store) entryFor(o protocol.ObjectSnapshot) entry {
	e := entry{obj: o}
	if s.resolve != nil {
		if size, _, ok := s.resolve(o.TemplateID); ok {
			e.size = size
		}
	}
	return e
}

// RequiresGround reports the template's ground requirement for an object
// already in the store.
func (s *Store) RequiresGround(instanceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[instanceID]
	if !ok || s.resolve == nil {
		return false
	}
	_, rg, _ := s.resolve(e.obj.TemplateID)
	return rg
}

// SizeOf returns the cached bounding extents for an object in the store.
// ok is false when the object is unknown or its template never resolved;
// callers must then skip local geometry checks and let the authority decide.
func (s *Store) SizeOf(instanceID string) ([3]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[instanceID]
	if !ok || e.size == ([3]float64{}) {
		return [3]float64{}, false
	}
	return e.size, true
}
