// Package engine runs the fusion cycle: it reads the latest result of each
// perception producer, turns them into votes and steps the alert machine.
//
// Producers and the cycle never wait on each other. Each producer owns a
// latest-value register; the cycle reads whatever completed last and treats
// stale or failed results as absent.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/metrics"
	"github.com/teslashibe/go-sentry/pkg/signals"
	"github.com/teslashibe/go-sentry/pkg/tracks"
)

// Source names used in status and metrics.
const (
	SourcePose   = "pose"
	SourceObject = "object"
	SourceAudio  = "audio"
)

// Publisher receives emitted alert transitions. Dispatch must not block.
type Publisher interface {
	Dispatch(state fusion.AlertState)
}

// Inputs are the registers the cycle reads. Any of them may be nil, in
// which case that signal is always absent.
type Inputs struct {
	Poses   *Register[Result[detection.PersonPose]]
	Objects *Register[Result[detection.ObjectDetection]]
	Levels  *Levels
}

// Status is a snapshot of the engine after its latest cycle.
type Status struct {
	Alert     fusion.AlertState `json:"alert"`
	Cycles    uint64            `json:"cycles"`
	LastCycle time.Time         `json:"last_cycle"`
	Tracks    int               `json:"tracks"`
	Votes     []signals.Vote    `json:"votes"`
	Fresh     map[string]bool   `json:"fresh"`
	Pending   int               `json:"pending_cycles"`
	Interval  time.Duration     `json:"interval"`
}

// Engine owns the track store and the alert machine.
type Engine struct {
	mu     sync.RWMutex
	config Config
	logger *slog.Logger
	in     Inputs
	pub    Publisher

	store    *tracks.Store
	machine  *fusion.Machine
	motion   *signals.MotionClassifier
	weapon   *signals.WeaponExtractor
	loudness *signals.LoudnessExtractor

	// cycle state, guarded by cycleMu so Step is serialized
	cycleMu     sync.Mutex
	lastPoseSeq uint64

	status Status

	tickerReset chan time.Duration
}

// New creates an engine. cfg must be valid; pub may be nil.
func New(cfg Config, in Inputs, pub Publisher, logger *slog.Logger) *Engine {
	now := time.Now()
	e := &Engine{
		config:      cfg,
		logger:      log.Or(logger, "engine"),
		in:          in,
		pub:         pub,
		store:       tracks.NewStore(cfg.Tracks()),
		machine:     fusion.NewMachine(cfg.Fusion(), now),
		motion:      signals.NewMotionClassifier(cfg.Motion()),
		weapon:      signals.NewWeaponExtractor(cfg.Weapon()),
		loudness:    signals.NewLoudnessExtractor(cfg.Audio()),
		tickerReset: make(chan time.Duration, 1),
	}
	e.status = Status{
		Alert:    e.machine.State(),
		Fresh:    map[string]bool{},
		Interval: cfg.Interval(),
	}
	return e
}

// Config returns the active tuning.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// SetConfig validates and applies new tuning. It takes effect on the next
// cycle. A changed cycle frequency resets the cycle ticker.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	old := e.config
	e.config = cfg
	e.motion = signals.NewMotionClassifier(cfg.Motion())
	e.weapon = signals.NewWeaponExtractor(cfg.Weapon())
	e.loudness = signals.NewLoudnessExtractor(cfg.Audio())
	e.mu.Unlock()

	e.store.SetConfig(cfg.Tracks())
	e.machine.SetConfig(cfg.Fusion())

	if cfg.CycleFrequency != old.CycleFrequency {
		interval := cfg.Interval()
		select {
		case <-e.tickerReset:
		default:
		}
		select {
		case e.tickerReset <- interval:
		default:
		}
	}

	e.logger.Info("tuning updated",
		"cycle_frequency", cfg.CycleFrequency,
		"clear_debounce_window", cfg.ClearDebounceWindow,
		"track_staleness_window", cfg.TrackStalenessWindow)
	return nil
}

// State returns the live alert state.
func (e *Engine) State() fusion.AlertState {
	return e.machine.State()
}

// Tracks returns the live tracks.
func (e *Engine) Tracks() []tracks.Track {
	return e.store.Tracks()
}

// Status returns a snapshot of the latest cycle.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.status
	st.Votes = append([]signals.Vote(nil), e.status.Votes...)
	st.Fresh = make(map[string]bool, len(e.status.Fresh))
	for k, v := range e.status.Fresh {
		st.Fresh[k] = v
	}
	return st
}

// String implements fmt.Stringer for supervisor logs.
func (e *Engine) String() string { return "fusion-engine" }

// Serve runs a cycle every interval until ctx ends.
func (e *Engine) Serve(ctx context.Context) error {
	interval := e.Config().Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("fusion loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("fusion loop stopped", "cycles", e.Status().Cycles)
			return ctx.Err()

		case d := <-e.tickerReset:
			ticker.Reset(d)
			e.logger.Debug("cycle interval changed", "interval", d)

		case now := <-ticker.C:
			e.Step(now)
		}
	}
}

// Step runs one fusion cycle at now. It returns the emitted transition, if any.
func (e *Engine) Step(now time.Time) (fusion.AlertState, bool) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()

	e.mu.RLock()
	cfg := e.config
	motion, weapon, loudness := e.motion, e.weapon, e.loudness
	e.mu.RUnlock()

	maxAge := cfg.StalenessAge()
	fresh := make(map[string]bool, 3)
	var votes []signals.Vote

	// Tracks advance once per pose result. While the pose source is absent
	// they receive empty updates so they age out.
	var live []tracks.Track
	if res, at, seq, ok := load(e.in.Poses); ok && res.Err == nil && now.Sub(at) <= maxAge {
		fresh[SourcePose] = true
		if seq != e.lastPoseSeq {
			e.lastPoseSeq = seq
			live = e.store.Update(res.Items, now)
		} else {
			live = e.store.Tracks()
		}
		votes = append(votes, motion.ClassifyAll(live)...)
	} else {
		live = e.store.Update(nil, now)
	}

	if res, at, _, ok := load(e.in.Objects); ok && res.Err == nil && now.Sub(at) <= maxAge {
		fresh[SourceObject] = true
		votes = append(votes, weapon.Extract(res.Items))
	} else {
		votes = append(votes, signals.Inactive(signals.Weapon))
	}

	if e.in.Levels != nil {
		if levels, at, ok := e.in.Levels.Snapshot(); ok && now.Sub(at) <= maxAge {
			fresh[SourceAudio] = true
			votes = append(votes, loudness.Extract(levels))
		} else {
			votes = append(votes, signals.Inactive(signals.LoudNoise))
		}
	}

	state, emitted := e.machine.Step(votes, now)

	e.mu.Lock()
	e.status.Alert = state
	e.status.Cycles++
	e.status.LastCycle = now
	e.status.Tracks = len(live)
	e.status.Votes = votes
	e.status.Fresh = fresh
	e.status.Pending = e.machine.Pending()
	e.status.Interval = cfg.Interval()
	e.mu.Unlock()

	e.observe(state, live, votes, fresh)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())

	if emitted {
		metrics.AlertTransitions.WithLabelValues(state.Level.String()).Inc()
		e.logger.Info("alert transition",
			"level", state.Level.String(),
			"previous", state.Previous.String(),
			"message", state.Message,
			"id", state.ID)
		if e.pub != nil {
			e.pub.Dispatch(state)
		}
	}
	return state, emitted
}

func (e *Engine) observe(state fusion.AlertState, live []tracks.Track, votes []signals.Vote, fresh map[string]bool) {
	metrics.CyclesTotal.Inc()
	metrics.AlertLevel.Set(float64(state.Level.Severity()))
	metrics.TracksActive.Set(float64(len(live)))

	active := make(map[signals.Kind]bool, len(signals.Kinds))
	for _, v := range votes {
		if v.Active {
			active[v.Kind] = true
		}
	}
	for _, k := range signals.Kinds {
		metrics.SignalActive.WithLabelValues(k.String()).Set(metrics.BoolGauge(active[k]))
	}
	for _, src := range []string{SourcePose, SourceObject, SourceAudio} {
		metrics.SourceStale.WithLabelValues(src).Set(metrics.BoolGauge(!fresh[src]))
	}
}

func load[T any](r *Register[T]) (v T, at time.Time, seq uint64, ok bool) {
	if r == nil {
		return v, at, 0, false
	}
	return r.Load()
}
