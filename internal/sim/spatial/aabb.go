package spatial

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min [3]float64
	Max [3]float64
}

// BoxAt builds the box occupied by an object centered at pos with the given
// full extents.
func BoxAt(pos, size [3]float64) AABB {
	var b AABB
	for i := 0; i < 3; i++ {
		b.Min[i] = pos[i] - size[i]/2
		b.Max[i] = pos[i] + size[i]/2
	}
	return b
}

// Intersects reports strict overlap. Touching faces do not count: two 2x2x2
// bricks at x=0 and x=2 sit flush, they do not collide.
func (a AABB) Intersects(b AABB) bool {
	for i := 0; i < 3; i++ {
		if a.Max[i] <= b.Min[i] || b.Max[i] <= a.Min[i] {
			return false
		}
	}
	return true
}

// ContainedIn reports whether a lies entirely inside b.
func (a AABB) ContainedIn(b AABB) bool {
	for i := 0; i < 3; i++ {
		if a.Min[i] < b.Min[i] || a.Max[i] > b.Max[i] {
			return false
		}
	}
	return true
}
