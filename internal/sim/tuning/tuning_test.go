package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("tick_rate_hz: 30\nmax_objects_per_owner: 500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tune, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if tune.TickRateHz != 30 {
		t.Errorf("tick_rate_hz = %d", tune.TickRateHz)
	}
	if tune.MaxObjectsPerOwner != 500 {
		t.Errorf("max_objects_per_owner = %d", tune.MaxObjectsPerOwner)
	}
	if tune.ConfirmTimeoutMs != 5000 {
		t.Errorf("confirm_timeout_ms default = %d", tune.ConfirmTimeoutMs)
	}
	if tune.GroundNormalMinDot != 0.8 {
		t.Errorf("ground_normal_min_dot default = %v", tune.GroundNormalMinDot)
	}
	if tune.BoundsMin == ([3]float64{}) && tune.BoundsMax == ([3]float64{}) {
		t.Error("bounds defaults not applied")
	}
}

func TestLoadExplicitBoundsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "bounds_min: [-64, 0, -64]\nbounds_max: [64, 32, 64]\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tune, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if tune.BoundsMin != ([3]float64{-64, 0, -64}) || tune.BoundsMax != ([3]float64{64, 32, 64}) {
		t.Fatalf("bounds overwritten: %v %v", tune.BoundsMin, tune.BoundsMax)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.TickRateHz != 20 || d.SnapshotEveryTicks != 6000 || d.ChannelAcquireTimeoutMs != 10000 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}
