package snapshot

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "42.snap.zst")

	snap := SnapshotV1{
		Header:    Header{Version: 1, WorldID: "w1", Tick: 42},
		BoundsMin: [3]float64{-512, -64, -512},
		BoundsMax: [3]float64{512, 256, 512},
		Actors:    []ActorV1{{ID: "P1", Name: "alice"}, {ID: "P2", Name: "bob"}},
		Objects: []ObjectV1{
			{
				InstanceID: "obj-1", TemplateID: "bench", OwnerID: "P1",
				PlacedAt: 1700000000, Persistent: true,
				Position:    [3]float64{1, 0.5, 2},
				Orientation: [3]float64{0, 90, 0},
				Overrides: map[int]PartOverrideV1{
					0: {Tint: "#ff0000", Finish: "wood", Opacity: 0.5, Collidable: true},
				},
			},
		},
		Counters: CountersV1{NextActor: 2},
	}

	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, snap)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatal("expected error")
	}
}
