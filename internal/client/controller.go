package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"placecraft/internal/protocol"
	"placecraft/internal/sim/spatial"
)

// Requester issues one correlated request and waits for its reply. Satisfied
// by *Session; tests substitute a fake.
type Requester interface {
	Request(ctx context.Context, reqID string, msg any) (protocol.ReplyMsg, error)
}

// Rejection carries the server's (or the local pre-check's) reason code.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return r.Code
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

type ctrlState int

const (
	stateIdle ctrlState = iota
	stateManipulating
	stateConfirming
)

type ctrlMode int

const (
	modeMove ctrlMode = iota
	modeRotate
)

// PreviewFunc receives every provisional transform while an object is being
// manipulated, including the snap-back to the original on cancel, rejection
// or timeout.
type PreviewFunc func(instanceID string, pos, orient [3]float64)

// Controller drives the grab/preview/confirm flow for one actor. At most one
// object is manipulated at a time; a second Begin while busy is an error.
// The preview transform lives only here until the authority confirms it.
type Controller struct {
	actorID   string
	requester Requester
	store     *Store
	validator *spatial.Validator
	preview   PreviewFunc

	// ConfirmTimeout bounds the wait for a reply; from WELCOME world_params.
	confirmTimeout time.Duration

	mu       sync.Mutex
	state    ctrlState
	mode     ctrlMode
	target   string
	origPos  [3]float64
	origOri  [3]float64
	pendPos  [3]float64
	pendOri  [3]float64
}

type ControllerConfig struct {
	ActorID        string
	Requester      Requester
	Store          *Store
	Validator      *spatial.Validator
	Preview        PreviewFunc
	ConfirmTimeout time.Duration
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.ActorID == "" {
		return nil, fmt.Errorf("empty actor id")
	}
	if cfg.Requester == nil || cfg.Store == nil {
		return nil, fmt.Errorf("nil requester or store")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	return &Controller{
		actorID:        cfg.ActorID,
		requester:      cfg.Requester,
		store:          cfg.Store,
		validator:      cfg.Validator,
		preview:        cfg.Preview,
		confirmTimeout: cfg.ConfirmTimeout,
	}, nil
}

// BeginMove grabs an owned object for repositioning. The original transform
// is remembered until Confirm or Cancel resolves the manipulation.
func (c *Controller) BeginMove(instanceID string) error {
	return c.begin(instanceID, modeMove)
}

// BeginRotate grabs an owned object for reorientation.
func (c *Controller) BeginRotate(instanceID string) error {
	return c.begin(instanceID, modeRotate)
}

func (c *Controller) begin(instanceID string, mode ctrlMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateIdle {
		return fmt.Errorf("manipulation already in progress on %s", c.target)
	}
	obj, ok := c.store.Get(instanceID)
	if !ok {
		return &Rejection{Code: protocol.ErrUnknownInstance, Message: instanceID}
	}
	if res := spatial.IsOwner(c.actorID, obj.OwnerID); !res.OK {
		return &Rejection{Code: string(res.Reason), Message: res.Detail}
	}

	c.state = stateManipulating
	c.mode = mode
	c.target = instanceID
	c.origPos, c.origOri = obj.Position, obj.Orientation
	c.pendPos, c.pendOri = obj.Position, obj.Orientation
	return nil
}

// PreviewPosition updates the provisional position during a move. Purely
// local; the authority sees nothing until Confirm.
func (c *Controller) PreviewPosition(pos [3]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateManipulating || c.mode != modeMove {
		return fmt.Errorf("no move in progress")
	}
	c.pendPos = pos
	c.render(c.target, c.pendPos, c.pendOri)
	return nil
}

// PreviewOrientation updates the provisional orientation during a rotate.
func (c *Controller) PreviewOrientation(orient [3]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateManipulating || c.mode != modeRotate {
		return fmt.Errorf("no rotate in progress")
	}
	c.pendOri = orient
	c.render(c.target, c.pendPos, c.pendOri)
	return nil
}

// Cancel abandons the manipulation and snaps the preview back. No message is
// sent; the authority never knew the manipulation existed. A confirm already
// in flight cannot be cancelled; only the authoritative answer resolves it.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateManipulating {
		return
	}
	c.render(c.target, c.origPos, c.origOri)
	c.reset()
}

// Confirm submits the pending transform. A move runs the advisory geometry
// pre-check first so an obviously colliding target fails fast without a
// round trip; the authority still re-validates. Rejection and timeout both
// snap the preview back to the original transform.
func (c *Controller) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateManipulating {
		c.mu.Unlock()
		return fmt.Errorf("nothing to confirm")
	}
	c.state = stateConfirming
	mode := c.mode
	target := c.target
	pos, ori := c.pendPos, c.pendOri
	origPos, origOri := c.origPos, c.origOri
	c.mu.Unlock()

	// Both resolution paths reset only the confirm they belong to: if the
	// controller has since moved on, a stale closure must not touch it.
	snapBack := func() {
		c.mu.Lock()
		if c.state == stateConfirming && c.target == target {
			c.render(target, origPos, origOri)
			c.reset()
		}
		c.mu.Unlock()
	}
	settle := func() {
		c.mu.Lock()
		if c.state == stateConfirming && c.target == target {
			c.reset()
		}
		c.mu.Unlock()
	}

	if mode == modeMove && c.validator != nil {
		if size, ok := c.store.SizeOf(target); ok {
			res := c.validator.CanPlaceAt(c.store, pos, size, target, c.store.RequiresGround(target))
			if !res.OK {
				snapBack()
				return &Rejection{Code: string(res.Reason), Message: res.Detail}
			}
		}
	}

	reqID := NewReqID()
	var msg any
	switch mode {
	case modeMove:
		msg = &protocol.MoveItemMsg{
			Type:            protocol.TypeMoveItem,
			ProtocolVersion: protocol.Version,
			ReqID:           reqID,
			InstanceID:      target,
			Position:        pos,
		}
	case modeRotate:
		msg = &protocol.RotateItemMsg{
			Type:            protocol.TypeRotateItem,
			ProtocolVersion: protocol.Version,
			ReqID:           reqID,
			InstanceID:      target,
			Orientation:     ori,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	reply, err := c.requester.Request(ctx, reqID, msg)
	if err != nil {
		snapBack()
		return fmt.Errorf("confirm %s: %w", target, err)
	}
	if !reply.OK {
		snapBack()
		return &Rejection{Code: reply.Code, Message: reply.Message}
	}

	// Commit locally. The session's read loop does the same on the reply;
	// both write the identical confirmed value.
	switch mode {
	case modeMove:
		c.store.SetPosition(target, pos)
		c.renderLocked(target, pos, origOri)
	case modeRotate:
		c.store.SetOrientation(target, ori)
		c.renderLocked(target, origPos, ori)
	}
	settle()
	return nil
}

// BatchRotateResult reports one item's outcome within a batch.
type BatchRotateResult struct {
	InstanceID string
	Err        error
}

// BatchRotateItems rotates many owned objects to the same orientation. Each
// item is an independent request; one rejection never aborts the rest.
func (c *Controller) BatchRotateItems(ctx context.Context, instanceIDs []string, orient [3]float64) []BatchRotateResult {
	results := make([]BatchRotateResult, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		results = append(results, BatchRotateResult{InstanceID: id, Err: c.rotateOne(ctx, id, orient)})
	}
	return results
}

func (c *Controller) rotateOne(ctx context.Context, instanceID string, orient [3]float64) error {
	obj, ok := c.store.Get(instanceID)
	if !ok {
		return &Rejection{Code: protocol.ErrUnknownInstance, Message: instanceID}
	}
	if res := spatial.CanRotateItem(c.actorID, obj.OwnerID); !res.OK {
		return &Rejection{Code: string(res.Reason), Message: res.Detail}
	}

	reqID := NewReqID()
	msg := &protocol.RotateItemMsg{
		Type:            protocol.TypeRotateItem,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		InstanceID:      instanceID,
		Orientation:     orient,
	}

	rctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	reply, err := c.requester.Request(rctx, reqID, msg)
	if err != nil {
		return err
	}
	if !reply.OK {
		return &Rejection{Code: reply.Code, Message: reply.Message}
	}
	c.store.SetOrientation(instanceID, orient)
	return nil
}

// Busy reports whether a manipulation is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateIdle
}

func (c *Controller) reset() {
	c.state = stateIdle
	c.target = ""
}

func (c *Controller) render(instanceID string, pos, orient [3]float64) {
	if c.preview != nil {
		c.preview(instanceID, pos, orient)
	}
}

func (c *Controller) renderLocked(instanceID string, pos, orient [3]float64) {
	c.mu.Lock()
	c.render(instanceID, pos, orient)
	c.mu.Unlock()
}
