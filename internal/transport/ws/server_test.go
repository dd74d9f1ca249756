package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"placecraft/internal/client"
	"placecraft/internal/protocol"
	"placecraft/internal/sim/catalogs"
	"placecraft/internal/sim/world"
	"placecraft/internal/transport/token"
	"placecraft/internal/transport/ws"
)

func testCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{Templates: catalogs.TemplateCatalog{
		Digest:  "test",
		Palette: []string{"brick"},
		Defs: map[string]catalogs.TemplateDef{
			"brick": {ID: "brick", Kind: "STRUCTURE", BoundingSize: [3]float64{1, 1, 1}, Placeable: true},
		},
	}}
}

func testResolver(templateID string) (size [3]float64, requiresGround, ok bool) {
	if templateID == "brick" {
		return [3]float64{1, 1, 1}, false, true
	}
	return [3]float64{}, false, false
}

func startServer(t *testing.T) string {
	t.Helper()

	codec, err := token.NewHMACCodec([]byte("0123456789abcdef0123456789abcdef"), 0)
	if err != nil {
		t.Fatal(err)
	}
	w, err := world.New(world.WorldConfig{
		ID:         "w_ws",
		TickRateHz: 50,
		BoundsMin:  [3]float64{-100, -10, -100},
		BoundsMax:  [3]float64{100, 50, 100},
	}, testCatalogs(), codec, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	srv := httptest.NewServer(ws.NewServer(w, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, name, resume string) *client.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sess, err := client.Dial(ctx, url, client.DialOptions{
		ActorName:   name,
		ResumeToken: resume,
		Resolver:    testResolver,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func place(t *testing.T, sess *client.Session, pos [3]float64) protocol.ReplyMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reqID := client.NewReqID()
	reply, err := sess.Request(ctx, reqID, protocol.PlaceItemMsg{
		Type:            protocol.TypePlaceItem,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		TemplateID:      "brick",
		Position:        pos,
		Persistent:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reply
}

func TestPlaceOverWebSocket(t *testing.T) {
	url := startServer(t)
	sess := dial(t, url, "alice", "")

	if sess.ActorID() == "" {
		t.Fatal("empty actor id in WELCOME")
	}
	w := sess.Welcome()
	if len(w.Channels) != len(protocol.ChannelNames()) {
		t.Errorf("channels = %v", w.Channels)
	}
	if w.WorldParams.WorldID != "w_ws" {
		t.Errorf("world id = %q", w.WorldParams.WorldID)
	}

	reqID := client.NewReqID()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reply, err := sess.Request(ctx, reqID, protocol.PlaceItemMsg{
		Type:            protocol.TypePlaceItem,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		TemplateID:      "brick",
		Position:        [3]float64{0, 0.5, 0},
		Persistent:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reply.OK || reply.Type != protocol.TypeItemPlaced {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.ReqID != reqID {
		t.Errorf("req_id = %q, want %q", reply.ReqID, reqID)
	}
	if reply.Object == nil || reply.Object.OwnerID != sess.ActorID() {
		t.Fatalf("object = %+v", reply.Object)
	}
	if sess.Store().Len() != 1 {
		t.Errorf("store len = %d", sess.Store().Len())
	}
}

func TestSyncAndBroadcastToSecondClient(t *testing.T) {
	url := startServer(t)

	alice := dial(t, url, "alice", "")
	first := place(t, alice, [3]float64{0, 0.5, 0})
	if !first.OK {
		t.Fatalf("place rejected: %+v", first)
	}

	// A later join receives the existing object in SYNC.
	bob := dial(t, url, "bob", "")
	if bob.Store().Len() != 1 {
		t.Fatalf("bob store after sync = %d, want 1", bob.Store().Len())
	}

	second := place(t, alice, [3]float64{5, 0.5, 0})
	if !second.OK {
		t.Fatalf("place rejected: %+v", second)
	}

	select {
	case ev := <-bob.Events():
		if ev.Type != protocol.TypeItemPlaced || !ev.OK {
			t.Fatalf("event = %+v", ev)
		}
		if ev.ReqID != "" {
			t.Errorf("broadcast carries req_id %q", ev.ReqID)
		}
		if ev.Object == nil || ev.Object.InstanceID != second.InstanceID {
			t.Errorf("event object = %+v", ev.Object)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no broadcast reached bob")
	}
	if bob.Store().Len() != 2 {
		t.Errorf("bob store = %d, want 2", bob.Store().Len())
	}
}

func TestResumeKeepsActorIdentity(t *testing.T) {
	url := startServer(t)

	sess := dial(t, url, "alice", "")
	actorID := sess.ActorID()
	resume := sess.Welcome().ResumeToken
	if resume == "" {
		t.Fatal("empty resume token")
	}
	reply := place(t, sess, [3]float64{0, 0.5, 0})
	if !reply.OK {
		t.Fatalf("place rejected: %+v", reply)
	}
	sess.Close()
	// Let the loop apply the disconnect before reattaching.
	time.Sleep(100 * time.Millisecond)

	again := dial(t, url, "alice", resume)
	if again.ActorID() != actorID {
		t.Fatalf("resumed as %q, want %q", again.ActorID(), actorID)
	}
	if again.Store().Len() != 1 {
		t.Errorf("store after resume = %d, want 1", again.Store().Len())
	}
	// The token rotates on every resume.
	if again.Welcome().ResumeToken == resume {
		t.Error("resume token not rotated")
	}

	// Ownership carried over: the resumed session can move its object.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reqID := client.NewReqID()
	moved, err := again.Request(ctx, reqID, protocol.MoveItemMsg{
		Type:            protocol.TypeMoveItem,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		InstanceID:      reply.InstanceID,
		Position:        [3]float64{2, 0.5, 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !moved.OK {
		t.Fatalf("move after resume rejected: %+v", moved)
	}
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	url := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.0", ActorName: "x"}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected close after bad protocol_version")
	}
}
