package world

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"placecraft/internal/persistence/snapshot"
	"placecraft/internal/protocol"
	"placecraft/internal/sim/catalogs"
	"placecraft/internal/sim/spatial"
)

type WorldConfig struct {
	ID         string
	TickRateHz int

	BoundsMin [3]float64
	BoundsMax [3]float64

	GroundHeight       float64
	GroundNormalMinDot float64

	SnapshotEveryTicks int
	ConfirmTimeoutMs   int
	MaxObjectsPerOwner int
}

func (c *WorldConfig) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.SnapshotEveryTicks <= 0 {
		c.SnapshotEveryTicks = 6000
	}
	if c.ConfirmTimeoutMs <= 0 {
		c.ConfirmTimeoutMs = 5000
	}
	if c.BoundsMin == ([3]float64{}) && c.BoundsMax == ([3]float64{}) {
		c.BoundsMin = [3]float64{-512, -64, -512}
		c.BoundsMax = [3]float64{512, 256, 512}
	}
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type AttachRequest struct {
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Sync    protocol.SyncMsg
}

// RequestEnvelope carries one decoded request from a session into the loop.
// Msg is one of the protocol request structs.
type RequestEnvelope struct {
	ActorID string
	Msg     any
}

// TokenCodec issues and verifies resume tokens. Implemented in
// internal/transport/token; selected at construction, never probed.
type TokenCodec interface {
	Issue(actorID, worldID string) (string, error)
	Verify(token, worldID string) (actorID string, err error)
}

// InventoryCrediter receives the template freed by a successful recall.
// The inventory system itself is an external collaborator.
type InventoryCrediter interface {
	Credit(ownerID, templateID string, qty int)
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type AuditEntry struct {
	Tick       uint64     `json:"tick"`
	Actor      string     `json:"actor"`
	Action     string     `json:"action"` // request channel name
	InstanceID string     `json:"instance_id,omitempty"`
	TemplateID string     `json:"template_id,omitempty"`
	Pos        [3]float64 `json:"pos,omitempty"`
	OK         bool       `json:"ok"`
	Code       string     `json:"code,omitempty"`
}

type clientState struct {
	Out chan []byte
}

// World is the single authority over the placed-object graph. All state is
// accessed only from the loop goroutine; everything else talks to it through
// channels.
type World struct {
	cfg       WorldConfig
	catalogs  *catalogs.Catalogs
	validator *spatial.Validator
	store     *Store
	logger    *log.Logger

	tick atomic.Uint64

	actors  map[string]string // actorID -> display name
	clients map[string]*clientState
	tokens  TokenCodec

	inbox  chan RequestEnvelope
	join   chan JoinRequest
	attach chan AttachRequest
	leave  chan string
	stop   chan struct{}

	nextActorNum atomic.Uint64
	nextInstance func() string

	snapshotReq chan chan uint64

	metricActors  atomic.Int64
	metricClients atomic.Int64
	metricObjects atomic.Int64

	auditLogger AuditLogger
	crediter    InventoryCrediter

	// Snapshot writing happens off-thread through this sink. A full sink
	// drops the snapshot rather than stalling the loop; in-memory state is
	// never partially flushed.
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, tokens TokenCodec, logger *log.Logger) (*World, error) {
	if cats == nil {
		return nil, fmt.Errorf("nil catalogs")
	}
	if tokens == nil {
		return nil, fmt.Errorf("nil token codec")
	}
	cfg.applyDefaults()

	v := spatial.NewValidator(
		spatial.AABB{Min: cfg.BoundsMin, Max: cfg.BoundsMax},
		spatial.FlatGround{Height: cfg.GroundHeight},
		cfg.GroundNormalMinDot,
	)

	w := &World{
		cfg:       cfg,
		catalogs:  cats,
		validator: v,
		store:     NewStore(),
		logger:    logger,
		actors:    map[string]string{},
		clients:   map[string]*clientState{},
		tokens:    tokens,
		inbox:     make(chan RequestEnvelope, 1024),
		join:      make(chan JoinRequest, 64),
		attach:    make(chan AttachRequest, 64),
		leave:     make(chan string, 64),
		stop:      make(chan struct{}),

		snapshotReq: make(chan chan uint64, 4),
	}
	w.nextInstance = newInstanceID
	return w, nil
}

func (w *World) Inbox() chan<- RequestEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest      { return w.join }
func (w *World) Attach() chan<- AttachRequest  { return w.attach }
func (w *World) Leave() chan<- string          { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }
func (w *World) ID() string          { return w.cfg.ID }

func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetCrediter(c InventoryCrediter)               { w.crediter = c }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingRequests []RequestEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-w.attach:
			w.handleAttach(req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingRequests = append(pendingRequests, env)
		case resp := <-w.snapshotReq:
			tick := w.tick.Load()
			w.emitSnapshot(tick)
			resp <- tick
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingRequests)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingRequests = pendingRequests[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// step applies one tick: leaves, joins, then requests in receive order.
// Each request validates and mutates without yielding, which is what keeps
// the spatial invariant meaningful under concurrent clients.
func (w *World) step(joins []JoinRequest, leaves []string, requests []RequestEnvelope) {
	nowTick := w.tick.Load()

	for _, id := range leaves {
		delete(w.clients, id)
	}
	for _, req := range joins {
		resp := w.joinActor(req.Name, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	for _, env := range requests {
		if _, ok := w.actors[env.ActorID]; !ok {
			continue
		}
		w.applyRequest(env.ActorID, env.Msg, nowTick)
	}

	if nowTick != 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		w.emitSnapshot(nowTick)
	}

	w.metricActors.Store(int64(len(w.actors)))
	w.metricClients.Store(int64(len(w.clients)))
	w.metricObjects.Store(int64(w.store.Len()))

	w.tick.Add(1)
}

func (w *World) emitSnapshot(nowTick uint64) {
	if w.snapshotSink == nil {
		return
	}
	snap := w.ExportSnapshot(nowTick)
	select {
	case w.snapshotSink <- snap:
	default:
		// Drop snapshot if the sink is backed up.
	}
}

// RequestSnapshot asks the loop to export a snapshot now. Returns the tick
// the export ran at.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan uint64, 1)
	select {
	case w.snapshotReq <- resp:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case tick := <-resp:
		return tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WorldMetrics is a read-side sample of loop state, refreshed once per tick.
type WorldMetrics struct {
	Tick    uint64 `json:"tick"`
	Actors  int64  `json:"actors"`
	Clients int64  `json:"clients"`
	Objects int64  `json:"objects"`

	QueueDepths struct {
		Inbox  int `json:"inbox"`
		Join   int `json:"join"`
		Attach int `json:"attach"`
		Leave  int `json:"leave"`
	} `json:"queue_depths"`
}

func (w *World) Metrics() WorldMetrics {
	var m WorldMetrics
	m.Tick = w.tick.Load()
	m.Actors = w.metricActors.Load()
	m.Clients = w.metricClients.Load()
	m.Objects = w.metricObjects.Load()
	m.QueueDepths.Inbox = len(w.inbox)
	m.QueueDepths.Join = len(w.join)
	m.QueueDepths.Attach = len(w.attach)
	m.QueueDepths.Leave = len(w.leave)
	return m
}

// StepOnce advances the world by a single tick with the same ordering
// semantics as Run. Intended for tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, requests []RequestEnvelope) uint64 {
	tick := w.tick.Load()
	w.step(joins, leaves, requests)
	return tick
}

func (w *World) joinActor(name string, out chan []byte) JoinResponse {
	if name == "" {
		name = "actor"
	}
	actorID := fmt.Sprintf("P%d", w.nextActorNum.Add(1))
	w.actors[actorID] = name
	if out != nil {
		w.clients[actorID] = &clientState{Out: out}
	}

	token, err := w.tokens.Issue(actorID, w.cfg.ID)
	if err != nil {
		w.logf("issue resume token for %s: %v", actorID, err)
	}
	return JoinResponse{
		Welcome: w.welcomeFor(actorID, token),
		Sync:    w.syncMsg(),
	}
}

func (w *World) handleAttach(req AttachRequest) {
	respond := func(r JoinResponse) {
		if req.Resp != nil {
			req.Resp <- r
		}
	}
	if req.ResumeToken == "" || req.Out == nil {
		respond(JoinResponse{})
		return
	}
	actorID, err := w.tokens.Verify(req.ResumeToken, w.cfg.ID)
	if err != nil {
		respond(JoinResponse{})
		return
	}
	if _, ok := w.actors[actorID]; !ok {
		respond(JoinResponse{})
		return
	}
	w.clients[actorID] = &clientState{Out: req.Out}

	// Rotate the token on successful resume.
	token, err := w.tokens.Issue(actorID, w.cfg.ID)
	if err != nil {
		w.logf("reissue resume token for %s: %v", actorID, err)
	}
	respond(JoinResponse{
		Welcome: w.welcomeFor(actorID, token),
		Sync:    w.syncMsg(),
	})
}

func (w *World) welcomeFor(actorID, token string) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ActorID:         actorID,
		ResumeToken:     token,
		WorldParams: protocol.WorldParams{
			WorldID:          w.cfg.ID,
			TickRateHz:       w.cfg.TickRateHz,
			BoundsMin:        w.cfg.BoundsMin,
			BoundsMax:        w.cfg.BoundsMax,
			ConfirmTimeoutMs: w.cfg.ConfirmTimeoutMs,
			CatalogDigest:    w.catalogs.Templates.Digest,
		},
		Channels: protocol.ChannelNames(),
	}
}

func (w *World) syncMsg() protocol.SyncMsg {
	msg := protocol.SyncMsg{
		Type:            protocol.TypeSync,
		ProtocolVersion: protocol.Version,
		WorldID:         w.cfg.ID,
		ServerTick:      w.tick.Load(),
		Objects:         make([]protocol.ObjectSnapshot, 0, w.store.Len()),
	}
	w.store.Each(func(o *PlacedObject) bool {
		msg.Objects = append(msg.Objects, o.Snapshot())
		return true
	})
	return msg
}

// PlacedItemsOf exposes an owner's instance ids for read-model queries.
func (w *World) PlacedItemsOf(ownerID string) []string {
	return w.store.OwnedBy(ownerID)
}

func (w *World) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
