package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"placecraft/internal/protocol"
)

// NewReqID mints a correlation id for one request.
func NewReqID() string { return ksuid.New().String() }

type DialOptions struct {
	ActorName   string
	ResumeToken string
	Resolver    SizeResolver
	Logger      *log.Logger

	// HandshakeTimeout bounds the HELLO/WELCOME/SYNC exchange.
	HandshakeTimeout time.Duration
}

// Session is one live connection to the authority. Replies are routed back
// to the issuing Request call by req_id; everything else lands on Events.
type Session struct {
	conn *websocket.Conn
	log  *log.Logger

	welcome protocol.WelcomeMsg
	store   *Store

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.ReplyMsg

	events chan protocol.ReplyMsg
	done   chan struct{}
	once   sync.Once
}

func Dial(ctx context.Context, url string, opts DialOptions) (*Session, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:    conn,
		log:     opts.Logger,
		store:   NewStore(opts.Resolver),
		pending: map[string]chan protocol.ReplyMsg{},
		events:  make(chan protocol.ReplyMsg, 256),
		done:    make(chan struct{}),
	}

	if err := s.handshake(opts); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

func (s *Session) handshake(opts DialOptions) error {
	deadline := time.Now().Add(opts.HandshakeTimeout)

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ActorName:       opts.ActorName,
		ResumeToken:     opts.ResumeToken,
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	_ = s.conn.SetReadDeadline(deadline)
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read WELCOME: %w", err)
	}
	if err := json.Unmarshal(msg, &s.welcome); err != nil {
		return err
	}
	if s.welcome.Type != protocol.TypeWelcome || s.welcome.ActorID == "" {
		return fmt.Errorf("expected WELCOME, got %q", s.welcome.Type)
	}

	_, msg, err = s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read SYNC: %w", err)
	}
	var sync protocol.SyncMsg
	if err := json.Unmarshal(msg, &sync); err != nil {
		return err
	}
	if sync.Type == protocol.TypeSync {
		s.store.ApplySync(sync)
	}
	_ = s.conn.SetReadDeadline(time.Time{})
	return nil
}

func (s *Session) Welcome() protocol.WelcomeMsg { return s.welcome }
func (s *Session) ActorID() string              { return s.welcome.ActorID }
func (s *Session) Store() *Store                { return s.store }

// Events delivers broadcasts from other actors. The channel is never closed
// while the session lives; a full buffer drops the oldest frames first.
func (s *Session) Events() <-chan protocol.ReplyMsg { return s.events }

func (s *Session) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.conn.Close()
}

// Request sends one message and blocks until the matching reply arrives or
// ctx expires. The reqID must already be set inside msg.
func (s *Session) Request(ctx context.Context, reqID string, msg any) (protocol.ReplyMsg, error) {
	if reqID == "" {
		return protocol.ReplyMsg{}, fmt.Errorf("empty req_id")
	}

	ch := make(chan protocol.ReplyMsg, 1)
	s.mu.Lock()
	s.pending[reqID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return protocol.ReplyMsg{}, err
	}

	select {
	case <-ctx.Done():
		return protocol.ReplyMsg{}, ctx.Err()
	case <-s.done:
		return protocol.ReplyMsg{}, fmt.Errorf("session closed")
	case r := <-ch:
		return r, nil
	}
}

// Send writes one message without waiting for a reply.
func (s *Session) Send(msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(msg)
}

func (s *Session) readLoop() {
	defer s.once.Do(func() { close(s.done) })

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if !isReplyType(base.Type) {
			continue
		}
		var r protocol.ReplyMsg
		if err := json.Unmarshal(msg, &r); err != nil {
			continue
		}

		s.applyToStore(r)

		if r.ReqID != "" {
			s.mu.Lock()
			ch, ok := s.pending[r.ReqID]
			s.mu.Unlock()
			if ok {
				ch <- r
				continue
			}
		}

		select {
		case s.events <- r:
		default:
			// Drop the oldest event for a slow consumer.
			select {
			case <-s.events:
			default:
			}
			select {
			case s.events <- r:
			default:
			}
		}
	}
}

// applyToStore folds a confirmed mutation into the advisory copy. Rejected
// requests change nothing.
func (s *Session) applyToStore(r protocol.ReplyMsg) {
	if !r.OK {
		return
	}
	switch r.Type {
	case protocol.TypeItemPlaced, protocol.TypeItemCloned, protocol.TypeItemUpdated:
		if r.Object != nil {
			s.store.Upsert(*r.Object)
		}
	case protocol.TypeItemMoved:
		if r.Position != nil {
			s.store.SetPosition(r.InstanceID, *r.Position)
		}
	case protocol.TypeItemRotated:
		if r.Orientation != nil {
			s.store.SetOrientation(r.InstanceID, *r.Orientation)
		}
	case protocol.TypeItemRecalled, protocol.TypeItemDeleted:
		s.store.Remove(r.InstanceID)
	}
}

func isReplyType(t string) bool {
	switch t {
	case protocol.TypeItemPlaced, protocol.TypeItemMoved, protocol.TypeItemRotated,
		protocol.TypeItemRecalled, protocol.TypeItemUpdated, protocol.TypeItemDeleted,
		protocol.TypeItemCloned:
		return true
	}
	return false
}
