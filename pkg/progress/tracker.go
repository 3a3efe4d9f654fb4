package progress

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var progressRatio = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "almexport_progress_ratio",
	Help: "Completion ratio (0..1) of the running export",
})

// logStep is the percentage interval between progress log lines.
const logStep = 10

// Tracker accumulates progress for one run. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	state   State
	store   *Store
	logger  zerolog.Logger
	lastLog int
}

// NewTracker creates a tracker for a run over total records.
func NewTracker(runID string, total int, logger zerolog.Logger) *Tracker {
	now := time.Now()
	return &Tracker{
		state: State{
			RunID:      runID,
			Total:      total,
			StartedAt:  now,
			LastUpdate: now,
		},
		logger: logger,
	}
}

// WithStore mirrors every update into store.
func (t *Tracker) WithStore(store *Store) *Tracker {
	t.store = store
	return t
}

// Start publishes the initial state.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	snapshot := t.state
	t.mu.Unlock()

	progressRatio.Set(0)
	t.logger.Info().
		Str("run_id", snapshot.RunID).
		Int("total_count", snapshot.Total).
		Msg("Export started")
	t.publish(ctx, snapshot)
}

// Advance adds n to the progress.
func (t *Tracker) Advance(ctx context.Context, n int) {
	t.mu.Lock()
	t.state.Advanced += n
	t.state.LastUpdate = time.Now()
	snapshot := t.state
	pct := snapshot.Percent()
	logNow := int(math.Floor(pct/logStep)) > t.lastLog/logStep
	if logNow {
		t.lastLog = int(math.Floor(pct/logStep)) * logStep
	}
	t.mu.Unlock()

	progressRatio.Set(pct / 100)
	if logNow {
		t.logger.Info().
			Str("run_id", snapshot.RunID).
			Int("advanced", snapshot.Advanced).
			Int("total_count", snapshot.Total).
			Float64("progress_pct", pct).
			Msg("Fetch progress")
	}
	t.publish(ctx, snapshot)
}

// Finish marks the run as finished and publishes the final state.
func (t *Tracker) Finish(ctx context.Context) {
	t.mu.Lock()
	t.state.Finished = true
	t.state.LastUpdate = time.Now()
	snapshot := t.state
	t.mu.Unlock()

	progressRatio.Set(1)
	t.logger.Info().
		Str("run_id", snapshot.RunID).
		Dur("duration", snapshot.Elapsed()).
		Msg("Export finished")
	t.publish(ctx, snapshot)
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) publish(ctx context.Context, s State) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(ctx, s); err != nil {
		t.logger.Warn().Err(err).Str("run_id", s.RunID).Msg("Failed to publish progress")
	}
}
