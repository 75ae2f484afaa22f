package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/audit"
	"github.com/aristath/relay/internal/breaker"
	"github.com/aristath/relay/internal/clients/ibgateway"
	"github.com/aristath/relay/internal/clients/simbroker"
	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/config"
	"github.com/aristath/relay/internal/database"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/events"
	"github.com/aristath/relay/internal/execution"
	"github.com/aristath/relay/internal/monitor"
	"github.com/aristath/relay/internal/orderbook"
	"github.com/aristath/relay/internal/pool"
	"github.com/aristath/relay/internal/retry"
	"github.com/aristath/relay/internal/risk"
	"github.com/aristath/relay/internal/scheduler"
	"github.com/aristath/relay/internal/server"
	"github.com/aristath/relay/internal/services"
	"github.com/aristath/relay/pkg/logger"
)

func main() {
	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		runServe(args)
	case "status":
		runStatus(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected serve or status)\n", command)
		os.Exit(2)
	}
}

func runServe(args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	sim := flags.Bool("sim", false, "run against the simulated broker instead of the IB gateway")
	_ = flags.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *sim {
		cfg.Broker.Simulated = true
	}

	log := logger.New(cfg.LogLevel, cfg.DevMode)
	logger.SetGlobalLogger(log)

	log.Info().Bool("simulated_broker", cfg.Broker.Simulated).Msg("Starting Relay")

	clk := clock.Real{}
	ctx := context.Background()
	evts := events.NewManager(events.NewBus(), log)

	// Audit trail: SQLite is always on, S3 archive only when configured.
	db, err := database.New(database.Config{
		Path:    cfg.Audit.DBPath,
		Profile: database.ProfileLedger,
		Name:    "audit",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit database")
	}
	defer db.Close()

	trail, err := audit.NewTrail(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audit trail")
	}

	sinks := []domain.BlobSink{trail}
	if cfg.Audit.S3Bucket != "" {
		archive, err := audit.Connect(ctx, audit.ArchiveConfig{
			Bucket: cfg.Audit.S3Bucket,
			Region: cfg.Audit.S3Region,
			Prefix: cfg.Audit.S3Prefix,
		}, clk, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect S3 archive")
		}
		sinks = append(sinks, archive)
	}
	recorder := audit.NewRecorder(clk, log, sinks...)

	// Broker client. Both implementations satisfy the session factory the
	// connection pool dials through.
	var broker domain.BrokerClient
	var factory domain.BrokerSessionFactory
	if cfg.Broker.Simulated {
		simBroker := simbroker.New(5*time.Millisecond, log)
		defer simBroker.Close()
		broker = simBroker
		factory = simBroker
	} else {
		gateway := ibgateway.New(ctx, ibgateway.Config{
			BaseURL: cfg.Broker.GatewayURL,
			WSURL:   cfg.Broker.GatewayWSURL,
			APIKey:  cfg.Broker.APIKey,
		}, log)
		defer gateway.Close()
		broker = gateway
		factory = gateway
	}

	// Service runtime: pooled sessions, retries, breakers.
	sessions := pool.New(pool.DefaultConfig(), factory, clk, log)
	if err := sessions.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start broker session pool")
	}
	defer sessions.Shutdown()

	rtry := retry.NewEngine(clk, nil, log)
	rt := services.NewDefaultRuntime(sessions, rtry, clk, log)
	rt.OnBreakerChange(func(service string, from, to breaker.State) {
		evts.Emit(events.BreakerStateChanged, "services", map[string]interface{}{
			"service": service,
			"from":    string(from),
			"to":      string(to),
		})
	})

	// Order book, fed by broker fill and status callbacks.
	book := orderbook.New(clk, clock.NewOrderIDGenerator(time.Now().UnixNano()), services.NewGateway(rt), log)
	book.PublishEvents(evts)
	detach, err := book.AttachBroker(ctx, broker)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to attach broker callbacks")
	}
	defer detach()

	// Risk policy. A limit set that fails validation refuses to start.
	limits := risk.DefaultLimits()
	limits.MaxPositionSize = cfg.Risk.MaxPositionSize
	limits.MaxPortfolioExposure = cfg.Risk.MaxPortfolioExposure
	limits.MinConfidenceThreshold = cfg.Risk.MinConfidenceThreshold
	limits.MaxSignalsPerHour = cfg.Risk.MaxSignalsPerHour
	limits.MaxConcurrentSignals = cfg.Risk.MaxConcurrentSignals
	limits.MaxDailyTrades = cfg.Risk.MaxDailyTrades
	limits.MaxDailyLoss = cfg.Risk.MaxDailyLoss
	if err := limits.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid risk limits")
	}

	models := risk.NewModelHealthCache()
	validator := risk.NewValidator(limits, cfg.Execution.MaxSignalAge, models, log)
	sizer := risk.NewSizer(limits, models, nil, log)

	engine := execution.New(execution.Config{
		DefaultMaxExecTime: cfg.Execution.DefaultMaxExecTime,
		MonitorQuantum:     time.Second,
		PortfolioValue:     cfg.Execution.PortfolioValue,
		SizingMethod:       risk.SizingMethod(cfg.Execution.SizingMethod),
		ShutdownGrace:      10 * time.Second,
	}, validator, sizer, book, rt, evts, clk, log)

	mon := monitor.New(monitor.Config{
		MinQualityScore: cfg.Execution.MinQualityScore,
		MaxLatencyMs:    cfg.Execution.MaxLatencyMs,
	}, clk, evts, log)

	wireObservers(engine, book, mon, recorder)

	// Background jobs.
	sched := scheduler.New(log)
	registerJobs(sched, cfg, mon, recorder, book, evts, broker, db, log)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		DevMode: cfg.DevMode,
		Engine:  engine,
		Book:    book,
		Monitor: mon,
		Runtime: rt,
		Events:  evts,
		Trail:   trail,
		Broker:  broker,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Relay started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Engine shutdown incomplete")
	}

	// Final metric flush so the audit trail covers the whole run.
	recorder.FlushMetrics(shutdownCtx, mon)

	log.Info().Msg("Relay stopped")
}

// wireObservers connects the execution pipeline to the monitor and the
// audit recorder.
func wireObservers(engine *execution.Engine, book *orderbook.Book, mon *monitor.Monitor, recorder *audit.Recorder) {
	engine.OnStatus(func(exec domain.SignalExecution) {
		if exec.Status == domain.ExecutionReceived {
			mon.RecordSignal(exec.Signal)
		}
		recorder.HandleExecution(exec)
	})
	engine.OnReport(func(report execution.Report) {
		mon.RecordExecution(report)
	})
	book.OnFill(func(fill domain.Fill, pos domain.Position) {
		recorder.HandleFill(fill)
		if fill.RealizedPnL == 0 {
			return
		}
		// Attribute realized P&L back to the originating signal.
		if order, ok := book.Order(fill.OrderID); ok && order.ClientRef != "" {
			if exec, ok := engine.Status(order.ClientRef); ok {
				mon.RecordPnL(exec.Signal.ID, fill.RealizedPnL, pos.Quantity == 0)
			}
		}
	})
}

// registerJobs schedules the background maintenance work.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, mon *monitor.Monitor,
	recorder *audit.Recorder, book *orderbook.Book, evts *events.Manager,
	broker domain.BrokerClient, db *database.DB, log zerolog.Logger) {

	flushSec := cfg.Audit.FlushSec
	if flushSec <= 0 {
		flushSec = 60
	}

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"@every 30s", &scheduler.DashboardRefreshJob{Monitor: mon}},
		{fmt.Sprintf("@every %ds", flushSec), &scheduler.MetricsFlushJob{Recorder: recorder, Monitor: mon}},
		{"@every 1m", &scheduler.StaleOrderSweepJob{Book: book, Events: evts, MaxAge: 15 * time.Minute, Log: log}},
		{"@every 15s", &scheduler.BrokerHealthJob{Client: broker, Events: evts, Log: log}},
		{"0 0 2 * * *", &scheduler.DatabaseMaintenanceJob{DB: db, Log: log}},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
}
