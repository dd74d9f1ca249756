package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"placecraft/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v\npayload: %s", err, b)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	syncSchema := compile("sync.schema.json")
	requestSchema := compile("request.schema.json")
	replySchema := compile("reply.schema.json")

	validate(helloSchema, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ActorName:       "builder1",
	})

	validate(welcomeSchema, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ActorID:         "P1",
		ResumeToken:     "tok",
		WorldParams: protocol.WorldParams{
			WorldID:          "world_1",
			TickRateHz:       20,
			BoundsMin:        [3]float64{-512, -64, -512},
			BoundsMax:        [3]float64{512, 256, 512},
			ConfirmTimeoutMs: 5000,
			CatalogDigest:    "deadbeef",
		},
		Channels: protocol.ChannelNames(),
	})

	obj := protocol.ObjectSnapshot{
		InstanceID:  "obj-1",
		TemplateID:  "garden_bench",
		OwnerID:     "P1",
		Position:    [3]float64{1, 0.5, 2},
		Orientation: [3]float64{0, 90, 0},
		PlacedAt:    1700000000,
		Persistent:  true,
		Overrides: map[int]protocol.PartOverride{
			0: {Tint: "#ff0000", Finish: "wood", Opacity: 1, Collidable: true},
		},
	}
	validate(syncSchema, protocol.SyncMsg{
		Type:            protocol.TypeSync,
		ProtocolVersion: protocol.Version,
		WorldID:         "world_1",
		ServerTick:      42,
		Objects:         []protocol.ObjectSnapshot{obj},
	})

	validate(requestSchema, protocol.PlaceItemMsg{
		Type:            protocol.TypePlaceItem,
		ProtocolVersion: protocol.Version,
		ReqID:           "r1",
		TemplateID:      "brick",
		Position:        [3]float64{0, 0.5, 0},
		Persistent:      true,
	})
	validate(requestSchema, protocol.MoveItemMsg{
		Type:            protocol.TypeMoveItem,
		ProtocolVersion: protocol.Version,
		ReqID:           "r2",
		InstanceID:      "obj-1",
		Position:        [3]float64{3, 0.5, 0},
	})
	validate(requestSchema, protocol.RotateItemMsg{
		Type:            protocol.TypeRotateItem,
		ProtocolVersion: protocol.Version,
		ReqID:           "r3",
		InstanceID:      "obj-1",
		Orientation:     [3]float64{0, 45, 0},
	})
	validate(requestSchema, protocol.RecallItemMsg{
		Type:            protocol.TypeRecallItem,
		ProtocolVersion: protocol.Version,
		ReqID:           "r4",
		InstanceID:      "obj-1",
	})
	validate(requestSchema, protocol.CloneItemMsg{
		Type:            protocol.TypeCloneItem,
		ProtocolVersion: protocol.Version,
		ReqID:           "r5",
		InstanceID:      "obj-1",
		Position:        [3]float64{6, 0.5, 0},
	})

	pos := [3]float64{3, 0.5, 0}
	validate(replySchema, protocol.ReplyMsg{
		Type:            protocol.TypeItemMoved,
		ProtocolVersion: protocol.Version,
		ReqID:           "r2",
		OK:              true,
		ActorID:         "P1",
		InstanceID:      "obj-1",
		Position:        &pos,
		ServerTick:      43,
	})
	validate(replySchema, protocol.ReplyMsg{
		Type:            protocol.TypeItemPlaced,
		ProtocolVersion: protocol.Version,
		ReqID:           "r1",
		OK:              false,
		Code:            protocol.ErrOverlap,
		Message:         "overlaps obj-1",
		ServerTick:      43,
	})
	validate(replySchema, protocol.ReplyMsg{
		Type:            protocol.TypeItemPlaced,
		ProtocolVersion: protocol.Version,
		OK:              true,
		ActorID:         "P1",
		InstanceID:      "obj-9",
		TemplateID:      "garden_bench",
		Object:          &obj,
		ServerTick:      44,
	})
}

func TestSchemas_RejectMalformed(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "request.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	bad := []string{
		`{"type":"PLACE_ITEM","protocol_version":"1.0","req_id":"r1"}`,
		`{"type":"MOVE_ITEM","protocol_version":"1.0","req_id":"r1","position":[0,0,0]}`,
		`{"type":"PLACE_ITEM","protocol_version":"1.0","req_id":"r1","template_id":"brick","position":[0,0]}`,
		`{"type":"EAT_ITEM","protocol_version":"1.0","req_id":"r1"}`,
	}
	for _, raw := range bad {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatal(err)
		}
		if err := s.Validate(v); err == nil {
			t.Fatalf("expected schema rejection for %s", raw)
		}
	}
}
