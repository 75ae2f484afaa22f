package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/audit"
	"github.com/aristath/relay/internal/database"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/events"
	"github.com/aristath/relay/internal/monitor"
	"github.com/aristath/relay/internal/orderbook"
)

// DashboardRefreshJob rebuilds the monitor dashboard. Scheduled every 30
// seconds.
type DashboardRefreshJob struct {
	Monitor *monitor.Monitor
}

func (j *DashboardRefreshJob) Name() string { return "dashboard_refresh" }

func (j *DashboardRefreshJob) Run() error {
	j.Monitor.RefreshDashboard()
	return nil
}

// MetricsFlushJob flushes metric points recorded since the last flush into
// the audit sinks.
type MetricsFlushJob struct {
	Recorder *audit.Recorder
	Monitor  *monitor.Monitor
}

func (j *MetricsFlushJob) Name() string { return "metrics_flush" }

func (j *MetricsFlushJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	j.Recorder.FlushMetrics(ctx, j.Monitor)
	return nil
}

// StaleOrderSweepJob reports orders that have been working past the age
// threshold. Orders are never cancelled here; the sweep only surfaces them.
type StaleOrderSweepJob struct {
	Book   *orderbook.Book
	Events *events.Manager
	MaxAge time.Duration
	Log    zerolog.Logger
}

func (j *StaleOrderSweepJob) Name() string { return "stale_order_sweep" }

func (j *StaleOrderSweepJob) Run() error {
	maxAge := j.MaxAge
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	stale := j.Book.StaleActiveOrders(maxAge)
	if len(stale) == 0 {
		return nil
	}

	for _, order := range stale {
		j.Log.Warn().
			Int64("order_id", order.ID).
			Str("symbol", order.Instrument.Symbol).
			Str("status", string(order.Status)).
			Time("created_at", order.CreatedAt).
			Msg("Order working past age threshold")
	}
	if j.Events != nil {
		j.Events.Emit(events.ServiceDegraded, "scheduler", map[string]interface{}{
			"reason":      "stale_orders",
			"stale_count": len(stale),
			"max_age":     maxAge.String(),
		})
	}
	return nil
}

// BrokerHealthJob tracks broker connectivity and emits a status change
// event on every transition.
type BrokerHealthJob struct {
	Client domain.BrokerClient
	Events *events.Manager
	Log    zerolog.Logger

	last      bool
	firstSeen bool
}

func (j *BrokerHealthJob) Name() string { return "broker_health" }

func (j *BrokerHealthJob) Run() error {
	connected := j.Client.Connected()
	if j.firstSeen && connected == j.last {
		return nil
	}
	j.firstSeen = true
	j.last = connected

	event := j.Log.Info()
	if !connected {
		event = j.Log.Warn()
	}
	event.Bool("connected", connected).Msg("Broker connectivity changed")

	if j.Events != nil {
		j.Events.Emit(events.BrokerStatusChanged, "scheduler", map[string]interface{}{
			"connected": connected,
		})
	}
	return nil
}

// DatabaseMaintenanceJob runs the audit database health check and truncates
// the WAL. Scheduled off-hours.
type DatabaseMaintenanceJob struct {
	DB  *database.DB
	Log zerolog.Logger
}

func (j *DatabaseMaintenanceJob) Name() string { return "database_maintenance" }

func (j *DatabaseMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	if err := j.DB.HealthCheck(ctx); err != nil {
		return err
	}
	if err := j.DB.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}

	if stats, err := j.DB.GetStats(); err == nil {
		j.Log.Info().
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_bytes", stats.WALSizeBytes).
			Dur("duration", time.Since(start)).
			Msg("Database maintenance completed")
	}
	return nil
}
