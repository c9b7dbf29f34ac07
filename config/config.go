// Package config defines the simulator's external configuration surface
// (spec §6) and validates it the way this codebase's service configs
// validate themselves: a flat struct with a Validate method that fills in
// defaults and fails fast on the first out-of-range value.
package config

import (
	"time"

	"github.com/malbeclabs/dtnsim/internal/router"
	"github.com/malbeclabs/dtnsim/internal/simerrors"
)

// Range is an inclusive [Min, Max] bound used for bundle size and
// bandwidth, both of which are sampled uniformly at generation time.
type Range struct {
	Min, Max float64
}

// Config is the recognized-options mapping of spec §6. It is not a file
// format — callers (the CLI, a test, a sweep script) populate it directly.
type Config struct {
	NumNodes int
	// SimulationTime is the horizon of the run.
	SimulationTime time.Duration

	MaxBufferSize int

	LTPSegmentSize int

	// QoSPriorityLevels is fixed at 4 by spec; present so that a caller
	// passing a different value is rejected with a clear ConfigError
	// rather than silently ignored.
	QoSPriorityLevels int

	// BundleGenerationRate is the mean number of bundles per second per
	// node (Poisson arrivals, exponential inter-arrival draws).
	BundleGenerationRate float64
	BundleSizeRange      Range
	BundleTTL            time.Duration

	ContactProbability float64
	MinContactDuration time.Duration
	MaxContactDuration time.Duration

	BaseErrorRate    float64
	BandwidthRange   Range
	PropagationDelay time.Duration

	RouterKind       router.Kind
	SprayTokenBudget int
	MaxLTPRetries    int

	MetricsSnapshotInterval time.Duration

	RandomSeed int64
}

// Default returns a Config populated with the defaults this simulator ships
// with; callers override only the fields their scenario cares about.
func Default() Config {
	return Config{
		NumNodes:                10,
		SimulationTime:          1 * time.Hour,
		MaxBufferSize:           64,
		LTPSegmentSize:          1024,
		QoSPriorityLevels:       4,
		BundleGenerationRate:    0.01,
		BundleSizeRange:         Range{Min: 512, Max: 8192},
		BundleTTL:               30 * time.Minute,
		ContactProbability:      0.3,
		MinContactDuration:      30 * time.Second,
		MaxContactDuration:      5 * time.Minute,
		BaseErrorRate:           0.0,
		BandwidthRange:          Range{Min: 2048, Max: 65536},
		PropagationDelay:        0,
		RouterKind:              router.KindEpidemic,
		SprayTokenBudget:        8,
		MaxLTPRetries:           5,
		MetricsSnapshotInterval: 100 * time.Second,
		RandomSeed:              1,
	}
}

// Validate fills in zero-valued optional fields with their defaults and
// returns the first violated range check as a *simerrors.Error{Kind:
// KindConfig}. It never returns a partially-valid Config.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.NumNodes < 2 {
		return simerrors.NewConfigError(op, "num_nodes must be >= 2")
	}
	if c.SimulationTime <= 0 {
		return simerrors.NewConfigError(op, "simulation_time must be > 0")
	}
	if c.MaxBufferSize < 1 {
		return simerrors.NewConfigError(op, "max_buffer_size must be >= 1")
	}
	if c.LTPSegmentSize < 1 {
		return simerrors.NewConfigError(op, "ltp_segment_size must be >= 1")
	}
	if c.QoSPriorityLevels == 0 {
		c.QoSPriorityLevels = 4
	}
	if c.QoSPriorityLevels != 4 {
		return simerrors.NewConfigError(op, "qos_priority_levels is fixed at 4 (CRITICAL/HIGH/NORMAL/LOW)")
	}
	if c.BundleGenerationRate < 0 {
		return simerrors.NewConfigError(op, "bundle_generation_rate must be >= 0")
	}
	if c.BundleSizeRange.Min <= 0 || c.BundleSizeRange.Max < c.BundleSizeRange.Min {
		return simerrors.NewConfigError(op, "bundle_size_range must satisfy 0 < min <= max")
	}
	if c.BundleTTL <= 0 {
		return simerrors.NewConfigError(op, "bundle_ttl must be > 0")
	}
	if c.ContactProbability < 0 || c.ContactProbability > 1 {
		return simerrors.NewConfigError(op, "contact_probability must be in [0, 1]")
	}
	if c.MinContactDuration <= 0 || c.MaxContactDuration < c.MinContactDuration {
		return simerrors.NewConfigError(op, "contact durations must satisfy 0 < min <= max")
	}
	if c.BaseErrorRate < 0 || c.BaseErrorRate > 1 {
		return simerrors.NewConfigError(op, "base_error_rate must be in [0, 1]")
	}
	if c.BandwidthRange.Min <= 0 || c.BandwidthRange.Max < c.BandwidthRange.Min {
		return simerrors.NewConfigError(op, "bandwidth_range must satisfy 0 < min <= max")
	}
	if c.PropagationDelay < 0 {
		return simerrors.NewConfigError(op, "propagation_delay must be >= 0")
	}
	switch c.RouterKind {
	case router.KindEpidemic, router.KindSprayAndWait, router.KindPredictive:
	default:
		return simerrors.NewConfigError(op, "router_kind must be one of epidemic, spray_and_wait, predictive")
	}
	if c.RouterKind == router.KindSprayAndWait && c.SprayTokenBudget < 1 {
		return simerrors.NewConfigError(op, "spray_token_budget must be >= 1 for spray_and_wait")
	}
	if c.MaxLTPRetries < 0 {
		return simerrors.NewConfigError(op, "max_ltp_retries must be >= 0")
	}
	if c.MetricsSnapshotInterval <= 0 {
		c.MetricsSnapshotInterval = 100 * time.Second
	}
	return nil
}
