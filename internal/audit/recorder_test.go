package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
)

type fakeSink struct {
	executions []domain.SignalExecution
	fills      []domain.Fill
	snapshots  [][]domain.MetricRow
	err        error
}

func (f *fakeSink) AppendExecutionRow(ctx context.Context, rec *domain.SignalExecution) error {
	if f.err != nil {
		return f.err
	}
	f.executions = append(f.executions, *rec)
	return nil
}

func (f *fakeSink) AppendFillRow(ctx context.Context, fill *domain.Fill) error {
	if f.err != nil {
		return f.err
	}
	f.fills = append(f.fills, *fill)
	return nil
}

func (f *fakeSink) AppendMetricsSnapshot(ctx context.Context, rows []domain.MetricRow) error {
	if f.err != nil {
		return f.err
	}
	f.snapshots = append(f.snapshots, rows)
	return nil
}

type fakeMetricSource struct {
	rows  []domain.MetricRow
	since []time.Time
}

func (f *fakeMetricSource) MetricRows(since time.Time) []domain.MetricRow {
	f.since = append(f.since, since)
	return f.rows
}

func TestRecorderSkipsNonTerminalExecutions(t *testing.T) {
	sink := &fakeSink{}
	rec := NewRecorder(clock.Real{}, zerolog.Nop(), sink)

	rec.HandleExecution(domain.SignalExecution{ID: "E1", Status: domain.ExecutionExecuting})
	rec.HandleExecution(domain.SignalExecution{ID: "E2", Status: domain.ExecutionExecuted})

	require.Len(t, sink.executions, 1)
	assert.Equal(t, "E2", sink.executions[0].ID)
}

func TestRecorderFansOutToAllSinks(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	rec := NewRecorder(clock.Real{}, zerolog.Nop(), a, b)

	rec.HandleFill(domain.Fill{ExecID: "EX-1"})

	assert.Len(t, a.fills, 1)
	assert.Len(t, b.fills, 1)
}

func TestRecorderSinkFailureDoesNotBlockOthers(t *testing.T) {
	failing := &fakeSink{err: errors.New("s3 unavailable")}
	healthy := &fakeSink{}
	rec := NewRecorder(clock.Real{}, zerolog.Nop(), failing, healthy)

	rec.HandleExecution(domain.SignalExecution{ID: "E1", Status: domain.ExecutionFailed})

	assert.Len(t, healthy.executions, 1)
}

func TestRecorderFlushWindowAdvances(t *testing.T) {
	sink := &fakeSink{}
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	rec := NewRecorder(clk, zerolog.Nop(), sink)
	source := &fakeMetricSource{rows: []domain.MetricRow{{Name: "latency_ms", Value: 10}}}

	clk.Advance(time.Minute)
	rec.FlushMetrics(context.Background(), source)
	clk.Advance(time.Minute)
	rec.FlushMetrics(context.Background(), source)

	require.Len(t, source.since, 2)
	assert.True(t, source.since[1].After(source.since[0]), "each flush resumes where the last left off")
	assert.Len(t, sink.snapshots, 2)
}

func TestRecorderEmptyFlushSkipsSinks(t *testing.T) {
	sink := &fakeSink{}
	rec := NewRecorder(clock.Real{}, zerolog.Nop(), sink)

	rec.FlushMetrics(context.Background(), &fakeMetricSource{})

	assert.Empty(t, sink.snapshots)
}
