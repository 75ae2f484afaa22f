// Package audit persists the append-only trade trail: terminal executions,
// fills, and periodic metric snapshots. The primary sink is a ledger-profile
// SQLite database; an optional S3 archiver mirrors metric snapshots as
// compressed msgpack blobs.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/database"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    signal_id       TEXT NOT NULL,
    symbol          TEXT NOT NULL,
    side            TEXT NOT NULL,
    target_qty      REAL NOT NULL,
    filled_qty      REAL NOT NULL,
    vwap            REAL NOT NULL,
    commission      REAL NOT NULL,
    status          TEXT NOT NULL,
    latency_ms      REAL NOT NULL,
    slippage_pct    REAL NOT NULL,
    error_message   TEXT,
    violations      TEXT,
    model_version   TEXT,
    strategy        TEXT,
    confidence      REAL,
    received_at     TIMESTAMP NOT NULL,
    done_at         TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_executions_signal ON executions(signal_id);
CREATE INDEX IF NOT EXISTS idx_executions_received ON executions(received_at);

CREATE TABLE IF NOT EXISTS fills (
    exec_id         TEXT PRIMARY KEY,
    order_id        INTEGER NOT NULL,
    symbol          TEXT NOT NULL,
    action          TEXT NOT NULL,
    quantity        REAL NOT NULL,
    price           REAL NOT NULL,
    exchange        TEXT,
    commission      REAL NOT NULL,
    realized_pnl    REAL NOT NULL,
    ts              TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(ts);

CREATE TABLE IF NOT EXISTS metrics (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          TIMESTAMP NOT NULL,
    type        TEXT NOT NULL,
    name        TEXT NOT NULL,
    value       REAL NOT NULL,
    strategy    TEXT,
    model       TEXT,
    instrument  TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics(ts);
CREATE INDEX IF NOT EXISTS idx_metrics_name ON metrics(type, name);
`

// Trail is the SQLite audit sink. Rows are append-only; nothing updates or
// deletes them.
type Trail struct {
	db  *database.DB
	log zerolog.Logger
}

// NewTrail opens the trail over a ledger database and applies the schema.
func NewTrail(db *database.DB, log zerolog.Logger) (*Trail, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, errs.Data("audit schema migration failed", err)
	}
	return &Trail{db: db, log: log.With().Str("component", "audit").Logger()}, nil
}

// AppendExecutionRow writes one row per terminal execution.
func (t *Trail) AppendExecutionRow(ctx context.Context, rec *domain.SignalExecution) error {
	violations := strings.Join(rec.Violations, ",")
	_, err := t.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO executions
		(id, signal_id, symbol, side, target_qty, filled_qty, vwap, commission,
		 status, latency_ms, slippage_pct, error_message, violations,
		 model_version, strategy, confidence, received_at, done_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Signal.ID, rec.Signal.Instrument.Symbol, string(rec.Signal.Side),
		rec.Signal.TargetQty, rec.FilledQty, rec.VWAP, rec.Commission,
		string(rec.Status), rec.LatencyMs, rec.SlippagePct, rec.ErrorMessage, violations,
		rec.Signal.ModelVersion, rec.Signal.Strategy, rec.Signal.Confidence,
		rec.ReceivedAt, rec.ExecutionDone)
	if err != nil {
		return errs.Data("failed to append execution row", err)
	}
	return nil
}

// AppendFillRow writes one row per fill. The broker exec id is the primary
// key, so replayed fills are idempotent.
func (t *Trail) AppendFillRow(ctx context.Context, fill *domain.Fill) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills
		(exec_id, order_id, symbol, action, quantity, price, exchange,
		 commission, realized_pnl, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.ExecID, fill.OrderID, fill.Instrument.Symbol, string(fill.Action),
		fill.Quantity, fill.Price, fill.Exchange, fill.Commission,
		fill.RealizedPnL, fill.Timestamp)
	if err != nil {
		return errs.Data("failed to append fill row", err)
	}
	return nil
}

// AppendMetricsSnapshot writes a batched flush of metric rows in one
// transaction.
func (t *Trail) AppendMetricsSnapshot(ctx context.Context, rows []domain.MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Data("failed to begin metrics transaction", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metrics (ts, type, name, value, strategy, model, instrument)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return errs.Data("failed to prepare metrics insert", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Timestamp, row.Type, row.Name,
			row.Value, row.Strategy, row.Model, row.Instrument); err != nil {
			_ = tx.Rollback()
			return errs.Data("failed to insert metric row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Data("failed to commit metrics snapshot", err)
	}
	t.log.Debug().Int("rows", len(rows)).Msg("metrics snapshot flushed")
	return nil
}

// ExecutionRow is one archived execution as stored in the trail.
type ExecutionRow struct {
	ID           string    `json:"id"`
	SignalID     string    `json:"signal_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	TargetQty    float64   `json:"target_qty"`
	FilledQty    float64   `json:"filled_qty"`
	VWAP         float64   `json:"vwap"`
	Commission   float64   `json:"commission"`
	Status       string    `json:"status"`
	LatencyMs    float64   `json:"latency_ms"`
	SlippagePct  float64   `json:"slippage_pct"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Violations   string    `json:"violations,omitempty"`
	ModelVersion string    `json:"model_version"`
	Strategy     string    `json:"strategy"`
	Confidence   float64   `json:"confidence"`
	ReceivedAt   time.Time `json:"received_at"`
}

// ExecutionRows returns recent execution rows, newest first. Serves the
// audit query endpoint.
func (t *Trail) ExecutionRows(ctx context.Context, limit int) ([]ExecutionRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, signal_id, symbol, side, target_qty, filled_qty, vwap,
		       commission, status, latency_ms, slippage_pct, error_message,
		       violations, model_version, strategy, confidence, received_at
		FROM executions ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Data("failed to query execution rows", err)
	}
	defer rows.Close()

	var out []ExecutionRow
	for rows.Next() {
		var rec ExecutionRow
		if err := rows.Scan(&rec.ID, &rec.SignalID, &rec.Symbol, &rec.Side,
			&rec.TargetQty, &rec.FilledQty, &rec.VWAP, &rec.Commission,
			&rec.Status, &rec.LatencyMs, &rec.SlippagePct, &rec.ErrorMessage,
			&rec.Violations, &rec.ModelVersion, &rec.Strategy, &rec.Confidence,
			&rec.ReceivedAt); err != nil {
			return nil, errs.Data("failed to scan execution row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ domain.BlobSink = (*Trail)(nil)
