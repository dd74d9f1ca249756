package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"placecraft/internal/protocol"
	"placecraft/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		session := ksuid.New().String()

		actorID, out := s.handshake(conn, session)
		if actorID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. The out channel is fed by the world loop.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			req, err := decodeRequest(msg)
			if err != nil {
				s.logf("session %s: drop message: %v", session, err)
				continue
			}
			if req == nil {
				continue
			}
			s.world.Inbox() <- world.RequestEnvelope{ActorID: actorID, Msg: req}
		}

		// Cleanup.
		s.world.Leave() <- actorID
	}
}

// decodeRequest maps a raw frame to one of the typed request structs.
// Unknown types return (nil, nil) so future message kinds degrade quietly.
func decodeRequest(msg []byte) (any, error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil, err
	}
	if base.ProtocolVersion != protocol.Version {
		return nil, fmt.Errorf("protocol_version %q, want %q", base.ProtocolVersion, protocol.Version)
	}

	switch base.Type {
	case protocol.TypePlaceItem:
		var m protocol.PlaceItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return m, nil
	case protocol.TypeMoveItem:
		var m protocol.MoveItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return m, nil
	case protocol.TypeRotateItem:
		var m protocol.RotateItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return m, nil
	case protocol.TypeRecallItem:
		var m protocol.RecallItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return m, nil
	case protocol.TypeUpdateItem:
		var m protocol.UpdateItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return m, nil
	case protocol.TypeDeleteItem:
		var m protocol.DeleteItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return m, nil
	case protocol.TypeCloneItem:
		var m protocol.CloneItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, nil
	}
}

func (s *Server) handshake(conn *websocket.Conn, session string) (actorID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.ActorName == "" {
		hello.ActorName = "actor"
	}

	// Replies and broadcasts queue here; the world loop drops the oldest
	// frame for a slow consumer rather than blocking.
	out = make(chan []byte, 64)

	// Optional: resume an existing actor (reconnect).
	resumeToken := strings.TrimSpace(hello.ResumeToken)

	var resp world.JoinResponse
	if resumeToken != "" {
		respCh := make(chan world.JoinResponse, 1)
		s.world.Attach() <- world.AttachRequest{
			ResumeToken: resumeToken,
			Out:         out,
			Resp:        respCh,
		}
		resp = <-respCh
	}
	if resp.Welcome.ActorID == "" {
		// Fresh join.
		respCh := make(chan world.JoinResponse, 1)
		s.world.Join() <- world.JoinRequest{
			Name: hello.ActorName,
			Out:  out,
			Resp: respCh,
		}
		resp = <-respCh
	}
	if resp.Welcome.ActorID == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join refused"), time.Now().Add(time.Second))
		return "", nil
	}

	// Welcome first, then the full object sync.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", nil
	}
	if err := writeJSON(conn, resp.Sync); err != nil {
		return "", nil
	}

	s.logf("session %s: actor %s joined as %q", session, resp.Welcome.ActorID, hello.ActorName)
	return resp.Welcome.ActorID, out
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
