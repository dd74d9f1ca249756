package spatial

import "fmt"

// Reason strings double as wire reason codes.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonOverlap         Reason = "E_OVERLAP"
	ReasonOutOfBounds     Reason = "E_OUT_OF_BOUNDS"
	ReasonNotOwner        Reason = "E_NOT_OWNER"
	ReasonNoGround        Reason = "E_NO_GROUND"
	ReasonInvalidType     Reason = "E_INVALID_TYPE"
	ReasonUnknownInstance Reason = "E_UNKNOWN_INSTANCE"
)

// Result is never partially approved: OK true means Reason empty.
type Result struct {
	OK     bool
	Reason Reason
	Detail string
}

func Approve() Result { return Result{OK: true} }

func Reject(r Reason, format string, args ...any) Result {
	return Result{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// ObstacleSource yields the bounding box of every tracked object except
// excludeID. Return false from fn to stop early.
type ObstacleSource interface {
	EachObstacle(excludeID string, fn func(id string, box AABB) bool)
}

// Ground answers a downward probe against static geometry at (x, z):
// the height of the first surface and its unit normal. ok false means the
// probe hit nothing.
type Ground interface {
	Probe(x, z float64) (height float64, normal [3]float64, ok bool)
}

// GroundFunc adapts a plain function to Ground.
type GroundFunc func(x, z float64) (float64, [3]float64, bool)

func (f GroundFunc) Probe(x, z float64) (float64, [3]float64, bool) { return f(x, z) }

// FlatGround is a horizontal plane at Height.
type FlatGround struct {
	Height float64
}

func (g FlatGround) Probe(x, z float64) (float64, [3]float64, bool) {
	return g.Height, [3]float64{0, 1, 0}, true
}

// Validator is the pure arbiter of candidate transforms. It holds only
// static geometry; current objects are supplied per call so the same
// validator serves the authority and a client's advisory copy.
type Validator struct {
	Bounds AABB
	Ground Ground

	// Minimum normal·up for a surface to count as solid ground.
	MinGroundDot float64
}

func NewValidator(bounds AABB, ground Ground, minGroundDot float64) *Validator {
	if minGroundDot <= 0 {
		minGroundDot = 0.8
	}
	return &Validator{Bounds: bounds, Ground: ground, MinGroundDot: minGroundDot}
}

// CanPlaceAt decides whether an object of the given full extents may occupy
// pos. excludeID removes the moving object's own footprint from the scan so
// an object never collides with itself during a move re-check. The scan is
// linear over current objects; placement is human-paced, not per-frame.
func (v *Validator) CanPlaceAt(objs ObstacleSource, pos, size [3]float64, excludeID string, requireGround bool) Result {
	if size[0] <= 0 || size[1] <= 0 || size[2] <= 0 {
		return Reject(ReasonInvalidType, "non-positive bounding size %v", size)
	}
	box := BoxAt(pos, size)
	if !box.ContainedIn(v.Bounds) {
		return Reject(ReasonOutOfBounds, "outside world bounds")
	}

	var hit string
	if objs != nil {
		objs.EachObstacle(excludeID, func(id string, other AABB) bool {
			if box.Intersects(other) {
				hit = id
				return false
			}
			return true
		})
	}
	if hit != "" {
		return Reject(ReasonOverlap, "overlaps %s", hit)
	}

	if requireGround && !v.IsOnSolidGround(pos, size) {
		return Reject(ReasonNoGround, "no solid ground under placement")
	}
	return Approve()
}

// IsOnSolidGround casts downward probes under the candidate footprint: the
// center and the four base corners. Every probe must hit a surface whose
// normal is within the configured cone of up, so an object cannot rest with
// part of its base over a hole or a steep slope.
func (v *Validator) IsOnSolidGround(pos, size [3]float64) bool {
	if v.Ground == nil {
		return false
	}
	hx, hz := size[0]/2, size[2]/2
	probes := [5][2]float64{
		{pos[0], pos[2]},
		{pos[0] - hx, pos[2] - hz},
		{pos[0] + hx, pos[2] - hz},
		{pos[0] - hx, pos[2] + hz},
		{pos[0] + hx, pos[2] + hz},
	}
	for _, p := range probes {
		_, normal, ok := v.Ground.Probe(p[0], p[1])
		if !ok {
			return false
		}
		// normal·(0,1,0)
		if normal[1] <= v.MinGroundDot {
			return false
		}
	}
	return true
}

// IsOwner is a strict equality check. A missing owner attribute is always a
// rejection, never an implicit grant.
func IsOwner(actorID, ownerID string) Result {
	if ownerID == "" || actorID == "" || actorID != ownerID {
		return Reject(ReasonNotOwner, "actor %q does not own object", actorID)
	}
	return Approve()
}

// CanMoveItem composes ownership with a full geometry re-check at the new
// position, excluding the object's own current footprint.
func (v *Validator) CanMoveItem(actorID, ownerID string, objs ObstacleSource, instanceID string, newPos, size [3]float64, requireGround bool) Result {
	if res := IsOwner(actorID, ownerID); !res.OK {
		return res
	}
	return v.CanPlaceAt(objs, newPos, size, instanceID, requireGround)
}

// CanRotateItem requires ownership only; rotation does not change the
// bounding footprint of an axis-aligned volume.
func CanRotateItem(actorID, ownerID string) Result {
	return IsOwner(actorID, ownerID)
}

// CanRecallItem requires ownership only.
func CanRecallItem(actorID, ownerID string) Result {
	return IsOwner(actorID, ownerID)
}
