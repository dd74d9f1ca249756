package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"placecraft/internal/protocol"
	"placecraft/internal/sim/spatial"
)

type fakeRequester struct {
	mu    sync.Mutex
	sent  []any
	reply protocol.ReplyMsg
	err   error
	block bool

	// gate, when set, holds the reply until the test closes it.
	gate chan struct{}
}

func (f *fakeRequester) Request(ctx context.Context, reqID string, msg any) (protocol.ReplyMsg, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return protocol.ReplyMsg{}, ctx.Err()
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return protocol.ReplyMsg{}, ctx.Err()
		}
	}
	if f.err != nil {
		return protocol.ReplyMsg{}, f.err
	}
	r := f.reply
	r.ReqID = reqID
	return r, nil
}

func (f *fakeRequester) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testResolver(templateID string) ([3]float64, bool, bool) {
	if templateID == "brick" {
		return [3]float64{1, 1, 1}, false, true
	}
	return [3]float64{}, false, false
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(testResolver)
	s.Upsert(protocol.ObjectSnapshot{
		InstanceID: "obj-1", TemplateID: "brick", OwnerID: "P1",
		Position: [3]float64{0, 0, 0},
	})
	s.Upsert(protocol.ObjectSnapshot{
		InstanceID: "obj-2", TemplateID: "brick", OwnerID: "P2",
		Position: [3]float64{5, 0, 0},
	})
	return s
}

func testController(t *testing.T, f *fakeRequester, s *Store, preview PreviewFunc) *Controller {
	t.Helper()
	v := spatial.NewValidator(
		spatial.AABB{Min: [3]float64{-10, -10, -10}, Max: [3]float64{10, 10, 10}},
		spatial.FlatGround{}, 0.8,
	)
	c, err := NewController(ControllerConfig{
		ActorID: "P1", Requester: f, Store: s, Validator: v,
		Preview: preview, ConfirmTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBeginMoveRejectsForeignObject(t *testing.T) {
	c := testController(t, &fakeRequester{}, testStore(t), nil)
	err := c.BeginMove("obj-2")
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Code != protocol.ErrNotOwner {
		t.Fatalf("err = %v, want %s", err, protocol.ErrNotOwner)
	}
}

func TestBeginMoveRejectsUnknownInstance(t *testing.T) {
	c := testController(t, &fakeRequester{}, testStore(t), nil)
	err := c.BeginMove("nope")
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Code != protocol.ErrUnknownInstance {
		t.Fatalf("err = %v, want %s", err, protocol.ErrUnknownInstance)
	}
}

func TestConfirmMoveCommits(t *testing.T) {
	f := &fakeRequester{reply: protocol.ReplyMsg{Type: protocol.TypeItemMoved, OK: true}}
	s := testStore(t)
	c := testController(t, f, s, nil)

	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.PreviewPosition([3]float64{2, 0, 2}); err != nil {
		t.Fatal(err)
	}
	if err := c.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}

	obj, _ := s.Get("obj-1")
	if obj.Position != [3]float64{2, 0, 2} {
		t.Fatalf("position = %v, want {2 0 2}", obj.Position)
	}
	if c.Busy() {
		t.Fatal("controller still busy after confirm")
	}
}

func TestConfirmMoveServerRejectionSnapsBack(t *testing.T) {
	f := &fakeRequester{reply: protocol.ReplyMsg{
		Type: protocol.TypeItemMoved, OK: false, Code: protocol.ErrOverlap,
	}}
	s := testStore(t)

	var lastPos [3]float64
	c := testController(t, f, s, func(id string, pos, orient [3]float64) { lastPos = pos })

	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	_ = c.PreviewPosition([3]float64{3, 0, 3})

	err := c.Confirm(context.Background())
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Code != protocol.ErrOverlap {
		t.Fatalf("err = %v, want %s", err, protocol.ErrOverlap)
	}

	obj, _ := s.Get("obj-1")
	if obj.Position != [3]float64{0, 0, 0} {
		t.Fatalf("store position changed on rejection: %v", obj.Position)
	}
	if lastPos != [3]float64{0, 0, 0} {
		t.Fatalf("preview not snapped back, last render at %v", lastPos)
	}
}

func TestConfirmMoveLocalPreCheckSkipsRoundTrip(t *testing.T) {
	f := &fakeRequester{}
	s := testStore(t)
	c := testController(t, f, s, nil)

	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	// Directly on top of obj-2.
	_ = c.PreviewPosition([3]float64{5, 0, 0})

	err := c.Confirm(context.Background())
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Code != protocol.ErrOverlap {
		t.Fatalf("err = %v, want local %s", err, protocol.ErrOverlap)
	}
	if f.sentCount() != 0 {
		t.Fatalf("pre-check failure still sent %d requests", f.sentCount())
	}
}

func TestConfirmTimeoutSnapsBack(t *testing.T) {
	f := &fakeRequester{block: true}
	s := testStore(t)
	c := testController(t, f, s, nil)
	c.confirmTimeout = 50 * time.Millisecond

	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	_ = c.PreviewPosition([3]float64{2, 0, 2})

	if err := c.Confirm(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	obj, _ := s.Get("obj-1")
	if obj.Position != [3]float64{0, 0, 0} {
		t.Fatalf("store position changed on timeout: %v", obj.Position)
	}
	if c.Busy() {
		t.Fatal("controller stuck after timeout")
	}
}

func TestCancelSendsNothing(t *testing.T) {
	f := &fakeRequester{}
	s := testStore(t)
	c := testController(t, f, s, nil)

	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	_ = c.PreviewPosition([3]float64{9, 0, 9})
	c.Cancel()

	if f.sentCount() != 0 {
		t.Fatalf("cancel sent %d requests", f.sentCount())
	}
	if c.Busy() {
		t.Fatal("controller busy after cancel")
	}
	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatalf("cannot begin after cancel: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCancelRefusedWhileConfirmInFlight(t *testing.T) {
	f := &fakeRequester{
		reply: protocol.ReplyMsg{Type: protocol.TypeItemMoved, OK: true},
		gate:  make(chan struct{}),
	}
	s := testStore(t)
	c := testController(t, f, s, nil)

	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	_ = c.PreviewPosition([3]float64{2, 0, 2})

	done := make(chan error, 1)
	go func() { done <- c.Confirm(context.Background()) }()
	waitFor(t, func() bool { return f.sentCount() == 1 })

	// The request is in flight: only the authoritative answer resolves it.
	c.Cancel()
	if !c.Busy() {
		t.Fatal("cancel cleared an in-flight confirm")
	}
	if err := c.BeginMove("obj-1"); err == nil {
		t.Fatal("second begin accepted while confirm in flight")
	}

	close(f.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	obj, _ := s.Get("obj-1")
	if obj.Position != [3]float64{2, 0, 2} {
		t.Fatalf("position = %v, want {2 0 2}", obj.Position)
	}
	if c.Busy() {
		t.Fatal("controller busy after confirm resolved")
	}
	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatalf("cannot begin after confirm resolved: %v", err)
	}
}

func TestConfirmMoveWithoutResolverDefersToAuthority(t *testing.T) {
	f := &fakeRequester{reply: protocol.ReplyMsg{Type: protocol.TypeItemMoved, OK: true}}
	s := NewStore(nil)
	s.Upsert(protocol.ObjectSnapshot{
		InstanceID: "obj-1", TemplateID: "brick", OwnerID: "P1",
	})
	c := testController(t, f, s, nil)

	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	_ = c.PreviewPosition([3]float64{2, 0, 2})

	// No size data: the pre-check is skipped, not failed.
	if err := c.Confirm(context.Background()); err != nil {
		t.Fatalf("move rejected locally without size data: %v", err)
	}
	if f.sentCount() != 1 {
		t.Fatalf("requests sent = %d, want 1", f.sentCount())
	}
	obj, _ := s.Get("obj-1")
	if obj.Position != [3]float64{2, 0, 2} {
		t.Fatalf("position = %v, want {2 0 2}", obj.Position)
	}
}

func TestSecondBeginWhileBusyFails(t *testing.T) {
	c := testController(t, &fakeRequester{}, testStore(t), nil)
	if err := c.BeginMove("obj-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.BeginRotate("obj-1"); err == nil {
		t.Fatal("expected busy error")
	}
}

func TestConfirmRotateCommitsOrientation(t *testing.T) {
	f := &fakeRequester{reply: protocol.ReplyMsg{Type: protocol.TypeItemRotated, OK: true}}
	s := testStore(t)
	c := testController(t, f, s, nil)

	if err := c.BeginRotate("obj-1"); err != nil {
		t.Fatal(err)
	}
	_ = c.PreviewOrientation([3]float64{0, 90, 0})
	if err := c.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}
	obj, _ := s.Get("obj-1")
	if obj.Orientation != [3]float64{0, 90, 0} {
		t.Fatalf("orientation = %v, want {0 90 0}", obj.Orientation)
	}
}

func TestBatchRotateIndependentOutcomes(t *testing.T) {
	f := &fakeRequester{reply: protocol.ReplyMsg{Type: protocol.TypeItemRotated, OK: true}}
	s := testStore(t)
	c := testController(t, f, s, nil)

	results := c.BatchRotateItems(context.Background(), []string{"obj-1", "obj-2", "nope"}, [3]float64{0, 45, 0})
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("owned rotate failed: %v", results[0].Err)
	}
	var rej *Rejection
	if !errors.As(results[1].Err, &rej) || rej.Code != protocol.ErrNotOwner {
		t.Fatalf("foreign rotate err = %v", results[1].Err)
	}
	if !errors.As(results[2].Err, &rej) || rej.Code != protocol.ErrUnknownInstance {
		t.Fatalf("unknown rotate err = %v", results[2].Err)
	}

	obj, _ := s.Get("obj-1")
	if obj.Orientation != [3]float64{0, 45, 0} {
		t.Fatalf("orientation = %v", obj.Orientation)
	}
	obj2, _ := s.Get("obj-2")
	if obj2.Orientation != [3]float64{} {
		t.Fatalf("foreign orientation changed: %v", obj2.Orientation)
	}
}
