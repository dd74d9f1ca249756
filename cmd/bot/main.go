package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"placecraft/internal/client"
	"placecraft/internal/protocol"
	"placecraft/internal/sim/catalogs"
	"placecraft/internal/sim/spatial"
)

// A scripted actor: joins, places a row of objects, nudges one, rotates the
// rest as a batch, recalls one, then idles watching broadcasts. Useful for
// smoke-testing a running server end to end.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "actor name")
		configDir = flag.String("configs", "./configs", "config directory (for template sizes)")
		template  = flag.String("template", "brick", "template id to place")
		count     = flag.Int("count", 3, "objects to place")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	resolver := func(templateID string) ([3]float64, bool, bool) {
		def, ok := cats.Resolve(templateID)
		if !ok {
			return [3]float64{}, false, false
		}
		return def.BoundingSize, def.RequiresGround, true
	}

	ctx := context.Background()
	sess, err := client.AcquireChannels(ctx, *url, client.DialOptions{
		ActorName: *name,
		Resolver:  resolver,
		Logger:    logger,
	}, nil, 30*time.Second)
	if err != nil {
		logger.Fatalf("acquire channels: %v", err)
	}
	defer sess.Close()

	welcome := sess.Welcome()
	logger.Printf("WELCOME actor_id=%s world=%s tick_rate=%d objects=%d",
		welcome.ActorID, welcome.WorldParams.WorldID, welcome.WorldParams.TickRateHz, sess.Store().Len())

	def, ok := cats.Resolve(*template)
	if !ok {
		logger.Fatalf("template %q not in catalog", *template)
	}

	// Place a row, spaced one extent apart so nothing overlaps.
	var placed []string
	for i := 0; i < *count; i++ {
		pos := [3]float64{float64(i) * (def.BoundingSize[0] + 1), def.BoundingSize[1] / 2, 0}
		reqID := client.NewReqID()
		reply, err := sess.Request(ctx, reqID, &protocol.PlaceItemMsg{
			Type:            protocol.TypePlaceItem,
			ProtocolVersion: protocol.Version,
			ReqID:           reqID,
			TemplateID:      *template,
			Position:        pos,
			Persistent:      true,
		})
		if err != nil {
			logger.Fatalf("place: %v", err)
		}
		if !reply.OK {
			logger.Printf("place rejected: %s %s", reply.Code, reply.Message)
			continue
		}
		placed = append(placed, reply.InstanceID)
		logger.Printf("placed %s at %v", reply.InstanceID, pos)
	}
	if len(placed) == 0 {
		logger.Fatal("nothing placed")
	}

	v := spatial.NewValidator(
		spatial.AABB{Min: welcome.WorldParams.BoundsMin, Max: welcome.WorldParams.BoundsMax},
		spatial.FlatGround{}, 0,
	)
	ctrl, err := client.NewController(client.ControllerConfig{
		ActorID:        welcome.ActorID,
		Requester:      sess,
		Store:          sess.Store(),
		Validator:      v,
		ConfirmTimeout: time.Duration(welcome.WorldParams.ConfirmTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		logger.Fatalf("controller: %v", err)
	}

	// Grab, preview, confirm.
	first := placed[0]
	if err := ctrl.BeginMove(first); err != nil {
		logger.Fatalf("begin move: %v", err)
	}
	obj, _ := sess.Store().Get(first)
	_ = ctrl.PreviewPosition([3]float64{obj.Position[0], obj.Position[1], obj.Position[2] + 5})
	if err := ctrl.Confirm(ctx); err != nil {
		logger.Printf("move rejected: %v", err)
	} else {
		logger.Printf("moved %s", first)
	}

	for _, res := range ctrl.BatchRotateItems(ctx, placed, [3]float64{0, 90, 0}) {
		if res.Err != nil {
			logger.Printf("rotate %s: %v", res.InstanceID, res.Err)
		} else {
			logger.Printf("rotated %s", res.InstanceID)
		}
	}

	last := placed[len(placed)-1]
	reqID := client.NewReqID()
	reply, err := sess.Request(ctx, reqID, &protocol.RecallItemMsg{
		Type:            protocol.TypeRecallItem,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		InstanceID:      last,
	})
	if err != nil {
		logger.Fatalf("recall: %v", err)
	}
	if reply.OK {
		logger.Printf("recalled %s (template %s back to inventory)", last, reply.TemplateID)
	} else {
		logger.Printf("recall rejected: %s", reply.Code)
	}

	logger.Printf("idling; watching broadcasts")
	for ev := range sess.Events() {
		logger.Printf("broadcast %s actor=%s instance=%s", ev.Type, ev.ActorID, ev.InstanceID)
	}
}
