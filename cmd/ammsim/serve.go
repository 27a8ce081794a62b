package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ammsim/internal/config"
	"ammsim/internal/core"
	"ammsim/internal/countdown"
	"ammsim/internal/ingestion"
	"ammsim/internal/npc"
	"ammsim/internal/observability"
	"ammsim/internal/persistence"
	"ammsim/internal/projection"
	"ammsim/internal/query"
	"ammsim/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulator service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	fs := cmd.Flags()
	addCommonFlags(fs)
	addNPCFlags(fs)
	fs.String("nats-url", "", "NATS URL; empty disables intent ingestion and event publishing")
	fs.String("grpc-addr", ":9090", "gRPC listen address")
	fs.String("http-addr", ":8080", "HTTP/JSON gateway listen address")
	fs.String("metrics-addr", ":9091", "Prometheus metrics listen address")
	fs.Int64("snapshot-interval", 1000, "take a snapshot every N intents; 0 disables")
	return cmd
}

func serve(cfg config.Config) error {
	log.Println("INFO: ammsim starting...")

	level := observability.ParseLogLevel(cfg.LogLevel)
	engineLogger := observability.NewLoggerWithLevel("engine", level)

	// --- Context with graceful shutdown ---
	// Front-end goroutines stop first; the sequencer keeps running until
	// the final snapshot is taken.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	var (
		db      *sql.DB
		snapMgr *persistence.SnapshotManager
	)
	if cfg.InMemory() {
		log.Println("WARN: no postgres DSN, running in memory without an event log")
	} else {
		var err error
		db, err = openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Println("INFO: Postgres connected")

		applied, err := persistence.NewMigrator(db, nil, observability.NewLoggerWithLevel("migrator", level)).Up(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Printf("INFO: %d migrations applied", applied)

		snapMgr = persistence.NewSnapshotManager(db)
		healthChecker.AddCheck("postgres", db.PingContext)
	}

	// --- Deterministic core ---
	engine, err := core.NewEngine(cfg.Seed, core.EngineConfig{
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		Metrics:             metrics,
		Logger:              &engineLogger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// --- Recovery: verified snapshot + replay ---
	recoveredFrom := int64(0)
	if snapMgr != nil {
		// A snapshot saved on the previous shutdown is verified here, once
		// its sequence is known to be in the log.
		if _, err := snapMgr.VerifyPending(ctx); err != nil {
			log.Printf("WARN: snapshot verification: %v", err)
		}

		stats, err := persistence.NewRecovery(snapMgr, observability.NewLoggerWithLevel("recovery", level)).Recover(ctx, engine)
		if err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
		if stats.SnapshotSequence >= 0 {
			recoveredFrom = stats.SnapshotSequence
		}
		log.Printf("INFO: recovered (snapshot=%d, replayed=%d, sequence=%d)",
			stats.SnapshotSequence, stats.Replayed, stats.LastSequence)

		keys, err := snapMgr.RecentIdempotencyKeys(ctx, cfg.IdempotencyLRUCapacity)
		if err != nil {
			log.Printf("WARN: load recent idempotency keys: %v", err)
		} else {
			engine.WarmLRU(keys)
		}
	}

	// --- Channels ---
	// The persist channel blocks (backpressure); the publish channel drops.
	var persistChan chan core.CoreOutput
	if db != nil {
		persistChan = make(chan core.CoreOutput, cfg.PersistChanSize)
	}
	publishChan := make(chan core.CoreOutput, cfg.PublishChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.PublishChanSize)
	var outboundChan chan core.CoreOutput

	engine.AttachOutputs(persistChan, publishChan)
	if db != nil {
		engine.AttachDBChecker(persistence.NewPostgresIdempotencyChecker(db))
	}

	sequencer := core.NewSequencer(engine, cfg.SequencerQueue, observability.NewLoggerWithLevel("sequencer", level))
	intents := ingestion.NewIntentService(sequencer, metrics, observability.NewLoggerWithLevel("ingestion", level))

	// --- NATS ---
	var (
		nc         *nats.Conn
		subscriber *ingestion.NATSSubscriber
		publisher  *ingestion.OutboundPublisher
		rawChan    chan ingestion.RawEvent
	)
	if cfg.NATSURL != "" {
		natsLogger := observability.NewLoggerWithLevel("nats", level)
		conn, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			return err
		}
		nc = conn
		defer nc.Close()
		log.Println("INFO: NATS connected")

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}

		rawChan = make(chan ingestion.RawEvent, cfg.SequencerQueue)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
		outboundChan = make(chan core.CoreOutput, cfg.PublishChanSize)
		publisher = ingestion.NewOutboundPublisher(js, outboundChan, metrics, natsLogger)

		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	}

	// --- Read side ---
	var history *projection.SwapHistory
	deps := server.Deps{
		Intents:       intents,
		Engine:        sequencer,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLoggerWithLevel("server", level),
	}
	var snapWorker *persistence.SnapshotWorker
	if db != nil {
		queryService := query.NewQueryService(db)
		snapWorker = persistence.NewSnapshotWorker(snapMgr, sequencer, cfg.SnapshotInterval, cfg.SnapshotTick,
			metrics, observability.NewLoggerWithLevel("snapshot", level))
		snapWorker.SetLastSequence(recoveredFrom)

		projLogger := observability.NewLoggerWithLevel("projection", level)
		deps.Swaps = queryService
		deps.Events = queryService
		deps.Ledger = queryService
		deps.Snapshots = snapWorker
		deps.Rebuild = func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db, projLogger)
		}
	} else {
		history = projection.NewSwapHistory(cfg.SwapHistorySize)
		deps.Swaps = server.HistorySwapStore(history)
	}
	projWorker := projection.NewProjectionWorker(db, history, projectionChan, observability.NewLoggerWithLevel("projection", level))

	timer := countdown.NewTimer(observability.NewLoggerWithLevel("countdown", level))
	deps.Countdown = timer

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, deps)

	startSequence := engine.GetSequence()

	// --- Start goroutines ---
	errChan := make(chan error, 16)
	var drain sync.WaitGroup // output consumers, waited on during shutdown

	// 1. Sequencer
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		sequencer.Run(engineCtx)
	}()

	// 2. Persistence worker; exits once persistChan is closed and flushed.
	if persistChan != nil {
		persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
			metrics, observability.NewLoggerWithLevel("persistence", level))
		drain.Add(1)
		go func() {
			defer drain.Done()
			if err := persistWorker.Run(context.Background()); err != nil {
				errChan <- fmt.Errorf("persistence worker: %w", err)
			}
		}()
	}

	// 3. Publish fan-out, projection worker and outbound publisher
	drain.Add(1)
	go func() {
		defer drain.Done()
		fanOut(publishChan, projectionChan, outboundChan, metrics)
	}()
	drain.Add(1)
	go func() {
		defer drain.Done()
		projWorker.Run(context.Background())
	}()
	if publisher != nil {
		drain.Add(1)
		go func() {
			defer drain.Done()
			publisher.Run(context.Background())
		}()
	}

	// 4. NATS -> sequencer ingestion loop
	if subscriber != nil {
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		go func() {
			if err := intents.Run(ctx, rawChan); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("intent service: %w", err)
			}
		}()
	}

	// 5. gRPC server and HTTP/JSON gateway
	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- err
		}
	}()

	// 6. Periodic snapshots
	if snapWorker != nil {
		go snapWorker.Run(ctx)
	}

	// 7. NPC trader and countdown timer
	if cfg.NPC.Enabled {
		sim := npc.NewSimulator(sequencer, intents, cfg.NPC, nil, observability.NewLoggerWithLevel("npc", level))
		go sim.Run(ctx)
	}
	go timer.Run(ctx)

	// 8. Channel utilization gauges
	go sampleChannels(ctx, metrics, persistChan, publishChan, projectionChan, outboundChan)

	// 9. Prometheus metrics server
	go func() {
		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			errChan <- err
		}
	}()

	healthChecker.SetReady(true)

	log.Printf("INFO: ammsim ready (next_sequence=%d, grpc=%s, http=%s, metrics=%s)",
		startSequence, cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case runErr = <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", runErr)
	}

	// --- Graceful shutdown ---
	// Stop intake, snapshot, stop the sequencer, then drain the outputs.
	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if snapWorker != nil {
		if err := snapWorker.Take(shutdownCtx); err != nil {
			log.Printf("ERROR: final snapshot failed: %v", err)
		} else {
			log.Println("INFO: final snapshot saved")
		}
	}

	engineCancel()
	<-seqDone

	if persistChan != nil {
		close(persistChan)
	}
	close(publishChan)

	drained := make(chan struct{})
	go func() {
		drain.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Println("WARN: output workers did not drain before the shutdown deadline")
	}

	log.Println("INFO: ammsim shutdown complete")
	return runErr
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// fanOut copies every published output to the projection worker and, when
// set, the outbound publisher. Slow consumers miss outputs rather than
// stalling the engine. Closes both outputs once in is closed.
func fanOut(in <-chan core.CoreOutput, projections, outbound chan<- core.CoreOutput, metrics *observability.Metrics) {
	defer func() {
		close(projections)
		if outbound != nil {
			close(outbound)
		}
	}()

	for out := range in {
		select {
		case projections <- out:
		default:
			if metrics != nil {
				metrics.PublishDrops.Inc()
			}
		}
		if outbound == nil {
			continue
		}
		select {
		case outbound <- out:
		default:
			if metrics != nil {
				metrics.PublishDrops.Inc()
			}
		}
	}
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, persist, publish, projections, outbound chan core.CoreOutput) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range map[string]chan core.CoreOutput{
				"persist":    persist,
				"publish":    publish,
				"projection": projections,
				"outbound":   outbound,
			} {
				if ch != nil {
					metrics.SetChannelMetrics(name, len(ch), cap(ch))
				}
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("INFO: Metrics server listening on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
