package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
)

// MetricSource is the monitor's export surface consumed by the flush job.
type MetricSource interface {
	MetricRows(since time.Time) []domain.MetricRow
}

// Recorder fans audit rows out to the configured sinks. Sink failures are
// logged and never propagate back into the trading path.
type Recorder struct {
	sinks []domain.BlobSink
	clk   clock.Clock
	log   zerolog.Logger

	mu        sync.Mutex
	lastFlush time.Time
}

// NewRecorder builds a recorder over one or more sinks.
func NewRecorder(clk clock.Clock, log zerolog.Logger, sinks ...domain.BlobSink) *Recorder {
	return &Recorder{
		sinks:     sinks,
		clk:       clk,
		log:       log.With().Str("component", "audit_recorder").Logger(),
		lastFlush: clk.Now(),
	}
}

// HandleExecution records a terminal execution snapshot. Non-terminal
// transitions are ignored.
func (r *Recorder) HandleExecution(exec domain.SignalExecution) {
	if !exec.Status.Terminal() {
		return
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	for _, sink := range r.sinks {
		if err := sink.AppendExecutionRow(ctx, &exec); err != nil {
			r.log.Error().Err(err).Str("execution_id", exec.ID).Msg("failed to record execution")
		}
	}
}

// HandleFill records one fill.
func (r *Recorder) HandleFill(fill domain.Fill) {
	ctx, cancel := r.opCtx()
	defer cancel()
	for _, sink := range r.sinks {
		if err := sink.AppendFillRow(ctx, &fill); err != nil {
			r.log.Error().Err(err).Str("exec_id", fill.ExecID).Msg("failed to record fill")
		}
	}
}

// FlushMetrics snapshots all metric points recorded since the previous
// flush. Meant to run on a schedule.
func (r *Recorder) FlushMetrics(ctx context.Context, source MetricSource) {
	now := r.clk.Now()
	r.mu.Lock()
	since := r.lastFlush
	r.lastFlush = now
	r.mu.Unlock()

	rows := source.MetricRows(since)
	if len(rows) == 0 {
		return
	}
	for _, sink := range r.sinks {
		if err := sink.AppendMetricsSnapshot(ctx, rows); err != nil {
			r.log.Error().Err(err).Int("rows", len(rows)).Msg("failed to flush metrics")
		}
	}
}

func (r *Recorder) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
