package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	// Client-facing timeouts, advertised in WELCOME.
	ConfirmTimeoutMs        int `yaml:"confirm_timeout_ms"`
	ChannelAcquireTimeoutMs int `yaml:"channel_acquire_timeout_ms"`

	// Static world geometry.
	BoundsMin [3]float64 `yaml:"bounds_min,flow"`
	BoundsMax [3]float64 `yaml:"bounds_max,flow"`

	// Minimum dot product between a ground surface normal and straight up
	// for a placement probe to count as solid ground.
	GroundNormalMinDot float64 `yaml:"ground_normal_min_dot"`

	// 0 means unlimited.
	MaxObjectsPerOwner int `yaml:"max_objects_per_owner"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

func Defaults() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func (t *Tuning) applyDefaults() {
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = 6000
	}
	if t.ConfirmTimeoutMs <= 0 {
		t.ConfirmTimeoutMs = 5000
	}
	if t.ChannelAcquireTimeoutMs <= 0 {
		t.ChannelAcquireTimeoutMs = 10000
	}
	if t.BoundsMin == ([3]float64{}) && t.BoundsMax == ([3]float64{}) {
		t.BoundsMin = [3]float64{-512, -64, -512}
		t.BoundsMax = [3]float64{512, 256, 512}
	}
	if t.GroundNormalMinDot <= 0 {
		t.GroundNormalMinDot = 0.8
	}
}
