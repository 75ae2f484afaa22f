// Package execution implements the per-signal state machine driving a
// trading signal from intake through validation, sizing, order placement
// and fill monitoring to a terminal status.
package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/events"
	"github.com/aristath/relay/internal/orderbook"
	"github.com/aristath/relay/internal/risk"
	"github.com/aristath/relay/internal/services"
)

// Config tunes the engine.
type Config struct {
	DefaultMaxExecTime time.Duration // used when the signal carries none
	MonitorQuantum     time.Duration // capped at one second
	PortfolioValue     float64
	SizingMethod       risk.SizingMethod
	ShutdownGrace      time.Duration
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultMaxExecTime: 30 * time.Second,
		MonitorQuantum:     time.Second,
		PortfolioValue:     1_000_000,
		SizingMethod:       risk.SizeConfidenceWeighted,
		ShutdownGrace:      10 * time.Second,
	}
}

// StatusObserver receives a snapshot after every status transition.
type StatusObserver func(domain.SignalExecution)

// ReportObserver receives the report of a successfully executed signal.
type ReportObserver func(Report)

// Engine drives signal executions. One goroutine per submitted signal.
type Engine struct {
	cfg       Config
	validator *risk.Validator
	sizer     *risk.Sizer
	book      *orderbook.Book
	rt        *services.Runtime
	evts      *events.Manager
	clk       clock.Clock
	ids       *clock.ExecutionIDGenerator
	log       zerolog.Logger

	mu              sync.Mutex
	active          map[string]*domain.SignalExecution
	completed       map[string]*domain.SignalExecution
	refPrices       map[string]float64 // exec id -> sizing reference price
	riskScores      map[string]float64 // exec id -> assessed position size risk
	statusObservers []StatusObserver
	reportObservers []ReportObserver

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine. Call Shutdown to drain in-flight signals.
func New(cfg Config, validator *risk.Validator, sizer *risk.Sizer, book *orderbook.Book,
	rt *services.Runtime, evts *events.Manager, clk clock.Clock, log zerolog.Logger) *Engine {
	if cfg.MonitorQuantum <= 0 || cfg.MonitorQuantum > time.Second {
		cfg.MonitorQuantum = time.Second
	}
	if cfg.DefaultMaxExecTime <= 0 {
		cfg.DefaultMaxExecTime = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		validator:  validator,
		sizer:      sizer,
		book:       book,
		rt:         rt,
		evts:       evts,
		clk:        clk,
		ids:        clock.NewExecutionIDGenerator(),
		log:        log.With().Str("component", "execution_engine").Logger(),
		active:     make(map[string]*domain.SignalExecution),
		completed:  make(map[string]*domain.SignalExecution),
		refPrices:  make(map[string]float64),
		riskScores: make(map[string]float64),
		rootCtx:    ctx,
		cancel:     cancel,
	}
}

// OnStatus registers a status-transition observer. Register during wiring.
func (e *Engine) OnStatus(fn StatusObserver) { e.statusObservers = append(e.statusObservers, fn) }

// OnReport registers an execution-report observer.
func (e *Engine) OnReport(fn ReportObserver) { e.reportObservers = append(e.reportObservers, fn) }

// Submit registers the signal and spawns its execution task. Non-blocking;
// the returned id can be polled with Status.
func (e *Engine) Submit(sig domain.Signal) string {
	execID := e.ids.Next()
	exec := &domain.SignalExecution{
		ID:         execID,
		Signal:     sig,
		Status:     domain.ExecutionReceived,
		ReceivedAt: e.clk.Now(),
	}

	e.mu.Lock()
	e.active[execID] = exec
	e.mu.Unlock()

	e.evts.Emit(events.SignalReceived, "execution", map[string]interface{}{
		"execution_id": execID,
		"signal_id":    sig.ID,
		"symbol":       sig.Instrument.Symbol,
		"side":         string(sig.Side),
	})
	e.notifyStatus(*exec.Clone())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(execID)
	}()
	return execID
}

// Status returns a snapshot of the execution record.
func (e *Engine) Status(execID string) (domain.SignalExecution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.active[execID]; ok {
		return *exec.Clone(), true
	}
	if exec, ok := e.completed[execID]; ok {
		return *exec.Clone(), true
	}
	return domain.SignalExecution{}, false
}

// Active returns snapshots of all non-terminal executions.
func (e *Engine) Active() []domain.SignalExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.SignalExecution, 0, len(e.active))
	for _, exec := range e.active {
		out = append(out, *exec.Clone())
	}
	return out
}

// Completed returns snapshots of all terminal executions.
func (e *Engine) Completed() []domain.SignalExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.SignalExecution, 0, len(e.completed))
	for _, exec := range e.completed {
		out = append(out, *exec.Clone())
	}
	return out
}

// Shutdown stops accepting work and waits for in-flight tasks up to the
// grace period, then cancels them.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	grace := e.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	e.cancel()
	<-done
	return nil
}

// run drives one signal from received to a terminal state.
func (e *Engine) run(execID string) {
	ctx := e.rootCtx
	e.mu.Lock()
	exec := e.active[execID]
	sig := exec.Signal
	e.mu.Unlock()

	// Admission.
	ok, violations := e.validator.Admit(sig, e.clk.Now())
	if !ok {
		e.mu.Lock()
		exec.Violations = violations
		e.mu.Unlock()
		e.finalize(execID, domain.ExecutionRejected, "signal rejected: "+strings.Join(violations, ", "))
		e.evts.Emit(events.SignalRejected, "execution", map[string]interface{}{
			"execution_id": execID,
			"signal_id":    sig.ID,
			"violations":   violations,
		})
		return
	}
	defer e.validator.Complete(sig.ID)

	e.transition(execID, domain.ExecutionValidated, func(x *domain.SignalExecution) {
		x.ValidatedAt = e.clk.Now()
	})
	e.evts.Emit(events.SignalValidated, "execution", map[string]interface{}{
		"execution_id": execID,
		"signal_id":    sig.ID,
	})

	// Hold signals carry no placement.
	if sig.Side == domain.SideHold {
		e.finalize(execID, domain.ExecutionExecuted, "")
		return
	}

	// Resolve side to an action and quantity, sizing entries through the
	// risk sizer.
	action, qty, errMsg := e.resolvePlacement(ctx, execID, sig)
	if errMsg != "" {
		e.finalize(execID, domain.ExecutionFailed, errMsg)
		return
	}

	order, err := e.book.Place(ctx, domain.OrderRequest{
		Instrument: sig.Instrument,
		Action:     action,
		Quantity:   qty,
		Type:       domain.OrderMarket,
		TIF:        domain.TIFDay,
		ClientRef:  execID,
	})
	e.mu.Lock()
	if order.ID != 0 {
		exec.OrderIDs = append(exec.OrderIDs, order.ID)
	}
	e.mu.Unlock()
	if err != nil {
		e.finalize(execID, domain.ExecutionFailed, "order placement failed: "+err.Error())
		return
	}

	e.transition(execID, domain.ExecutionExecuting, func(x *domain.SignalExecution) {
		x.ExecutionStarted = e.clk.Now()
	})
	e.evts.Emit(events.ExecutionStarted, "execution", map[string]interface{}{
		"execution_id": execID,
		"order_id":     order.ID,
	})

	e.monitor(ctx, execID, sig)
}

// resolvePlacement translates the signal side into an order action and
// quantity. Returns a non-empty error message on failure.
func (e *Engine) resolvePlacement(ctx context.Context, execID string, sig domain.Signal) (domain.OrderAction, float64, string) {
	switch sig.Side {
	case domain.SideBuy, domain.SideSell:
		action := domain.ActionBuy
		if sig.Side == domain.SideSell {
			action = domain.ActionSell
		}
		qty, errMsg := e.sizeEntry(ctx, execID, sig)
		return action, qty, errMsg

	case domain.SideCloseLong:
		pos, _ := e.book.Position(sig.Instrument.Symbol)
		if pos.Quantity <= 0 {
			return "", 0, "no long position to close"
		}
		return domain.ActionSell, pos.Quantity, ""

	case domain.SideCloseShort:
		pos, _ := e.book.Position(sig.Instrument.Symbol)
		if pos.Quantity >= 0 {
			return "", 0, "no short position to close"
		}
		return domain.ActionBuy, -pos.Quantity, ""
	}
	return "", 0, "unknown side: " + string(sig.Side)
}

// sizeEntry runs the risk sizer against the live price and caps the
// signal's target quantity.
func (e *Engine) sizeEntry(ctx context.Context, execID string, sig domain.Signal) (float64, string) {
	price, err := e.lastPrice(ctx, sig.Instrument)
	if err != nil {
		return 0, "reference price unavailable: " + err.Error()
	}

	positions := make(map[string]float64)
	for _, p := range e.book.Positions() {
		positions[p.Instrument.Symbol] = p.Quantity
	}
	in := risk.SizeInput{
		Confidence:     sig.Confidence,
		ModelVersion:   sig.ModelVersion,
		PortfolioValue: e.cfg.PortfolioValue,
		CurrentPrice:   price,
		Method:         e.cfg.SizingMethod,
		Positions:      positions,
		Symbol:         sig.Instrument.Symbol,
	}
	sized := e.sizer.Size(in)
	assessment := e.sizer.AssessRisk(in)

	target := sig.TargetQty
	if target < 0 {
		target = -target
	}
	qty := target
	if float64(sized.FinalSize) < qty {
		qty = float64(sized.FinalSize)
	}
	if qty <= 0 {
		return 0, "risk sizing produced zero quantity"
	}
	if assessment.RecommendedAction == "abort" {
		return 0, "risk assessment recommends abort (score " + fmt.Sprintf("%.2f", assessment.RiskScore) + ")"
	}

	e.mu.Lock()
	e.refPrices[execID] = price
	e.riskScores[execID] = assessment.RiskScore
	e.mu.Unlock()
	return qty, ""
}

// monitor polls the order book until all orders are terminal or the
// signal's deadline passes. The quantum is capped at one second so
// shutdown and deadline checks stay responsive.
func (e *Engine) monitor(ctx context.Context, execID string, sig domain.Signal) {
	maxExec := sig.MaxExecTime
	if maxExec <= 0 {
		maxExec = e.cfg.DefaultMaxExecTime
	}
	e.mu.Lock()
	started := e.active[execID].ExecutionStarted
	orderIDs := append([]int64(nil), e.active[execID].OrderIDs...)
	e.mu.Unlock()
	deadline := started.Add(maxExec)

	for {
		var filled, value, commission float64
		anyActive := false
		for _, id := range orderIDs {
			order, ok := e.book.Order(id)
			if !ok {
				continue
			}
			filled += order.FilledQty
			value += order.FilledQty * order.AvgFillPrice
			commission += order.Commission
			if order.Status.Active() {
				anyActive = true
			}
		}

		e.mu.Lock()
		exec := e.active[execID]
		exec.FilledQty = filled
		exec.Commission = commission
		if filled > 0 {
			exec.VWAP = value / filled
		}
		e.mu.Unlock()

		if !anyActive && filled > 0 {
			e.finalizeSuccess(execID)
			return
		}
		if !anyActive && filled == 0 {
			e.finalize(execID, domain.ExecutionFailed, "all orders failed/cancelled")
			return
		}
		if !e.clk.Now().Before(deadline) {
			e.finalize(execID, domain.ExecutionTimeout,
				fmt.Sprintf("execution timed out after %s", maxExec))
			e.evts.Emit(events.ExecutionTimeout, "execution", map[string]interface{}{
				"execution_id": execID,
				"signal_id":    sig.ID,
			})
			return
		}

		quantum := e.cfg.MonitorQuantum
		if remaining := deadline.Sub(e.clk.Now()); remaining < quantum {
			quantum = remaining
		}
		if err := e.clk.Sleep(ctx, quantum); err != nil {
			// Shutdown: leave the record as-is, the task exits after its
			// current quantum.
			return
		}
	}
}

// transition applies a non-terminal status change and notifies observers.
func (e *Engine) transition(execID string, status domain.ExecutionStatus, mutate func(*domain.SignalExecution)) {
	e.mu.Lock()
	exec, ok := e.active[execID]
	if !ok {
		e.mu.Unlock()
		return
	}
	exec.Status = status
	if mutate != nil {
		mutate(exec)
	}
	snapshot := *exec.Clone()
	e.mu.Unlock()
	e.notifyStatus(snapshot)
}

// finalize moves the execution to a terminal status and from the active to
// the completed map. Exactly one terminal transition fires per execution.
func (e *Engine) finalize(execID string, status domain.ExecutionStatus, errMsg string) {
	e.mu.Lock()
	exec, ok := e.active[execID]
	if !ok {
		e.mu.Unlock()
		return
	}
	exec.Status = status
	exec.ErrorMessage = errMsg
	exec.ExecutionDone = e.clk.Now()
	exec.LatencyMs = float64(exec.ExecutionDone.Sub(exec.ReceivedAt).Microseconds()) / 1000
	delete(e.active, execID)
	e.completed[execID] = exec
	snapshot := *exec.Clone()
	e.mu.Unlock()

	level := zerolog.InfoLevel
	if status == domain.ExecutionFailed || status == domain.ExecutionTimeout {
		level = zerolog.WarnLevel
	}
	e.log.WithLevel(level).
		Str("execution_id", execID).
		Str("signal_id", snapshot.Signal.ID).
		Str("status", string(status)).
		Str("error", errMsg).
		Float64("latency_ms", snapshot.LatencyMs).
		Msg("Execution terminal")

	if status == domain.ExecutionFailed {
		e.evts.Emit(events.ExecutionFailed, "execution", map[string]interface{}{
			"execution_id": execID,
			"signal_id":    snapshot.Signal.ID,
			"error":        errMsg,
		})
	}
	e.notifyStatus(snapshot)
}

// finalizeSuccess finalizes an executed signal and emits its report.
// Slippage is computed against the sizing reference price before the
// terminal transition so observers see the finished record.
func (e *Engine) finalizeSuccess(execID string) {
	e.mu.Lock()
	exec, ok := e.active[execID]
	refPrice := e.refPrices[execID]
	riskScore := e.riskScores[execID]
	if ok && refPrice > 0 && exec.VWAP > 0 {
		slip := (exec.VWAP - refPrice) / refPrice * 100
		if exec.Signal.Side == domain.SideSell || exec.Signal.Side == domain.SideCloseLong {
			slip = -slip
		}
		exec.SlippagePct = slip
	}
	e.mu.Unlock()

	e.finalize(execID, domain.ExecutionExecuted, "")

	e.mu.Lock()
	snapshot := *e.completed[execID].Clone()
	e.mu.Unlock()

	report := buildReport(snapshot, riskScore)
	e.evts.Emit(events.ExecutionCompleted, "execution", map[string]interface{}{
		"execution_id": execID,
		"signal_id":    snapshot.Signal.ID,
		"filled_qty":   snapshot.FilledQty,
		"vwap":         snapshot.VWAP,
		"latency_ms":   snapshot.LatencyMs,
	})
	for _, fn := range e.reportObservers {
		fn(report)
	}
}

// lastPrice fetches the sizing reference price through the market data
// service.
func (e *Engine) lastPrice(ctx context.Context, instrument domain.Instrument) (float64, error) {
	var px float64
	err := e.rt.Execute(ctx, "market_data", "last_price", func(ctx context.Context, client domain.BrokerClient) error {
		p, err := client.LastPrice(ctx, instrument)
		if err != nil {
			return err
		}
		px = p
		return nil
	})
	return px, err
}

func (e *Engine) notifyStatus(snapshot domain.SignalExecution) {
	for _, fn := range e.statusObservers {
		fn(snapshot)
	}
}
