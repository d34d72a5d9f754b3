package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/barkline/barkline/internal/analytics"
	"github.com/barkline/barkline/internal/api"
	"github.com/barkline/barkline/internal/circuitbreaker"
	"github.com/barkline/barkline/internal/config"
	"github.com/barkline/barkline/internal/dispatcher"
	"github.com/barkline/barkline/internal/index"
	"github.com/barkline/barkline/internal/metrics"
	"github.com/barkline/barkline/internal/reconciler"
	"github.com/barkline/barkline/internal/service"
	"github.com/barkline/barkline/internal/store/postgres"
	"github.com/barkline/barkline/internal/transport/channel"
	"github.com/barkline/barkline/internal/trigger"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`barkline - one-shot scheduled push notification service

Usage:
  barkline <command>

Commands:
  serve      Start the trigger engine, dispatcher and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for push analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8000")
  PUSH_HOST                 Bark push API base URL (default: "https://api.day.app")
  PUSH_TIMEOUT              Outbound push timeout (default: "10s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher event drain timeout (default: "30s")
  DISPATCHER_WORKERS        Concurrent dispatch workers (default: "4")
  EVENTBUS_BUFFER_SIZE      Fire event buffer capacity (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  RECONCILE_ENABLED         Enable orphaned task reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for orphans (default: "5m")
  RECONCILE_GRACE           Age past fire time before a task is orphaned (default: "5m")
  RECONCILE_BATCH_SIZE      Max orphans per cycle (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a bark key opens (default: "5", "0" disables)
  CIRCUIT_BREAKER_COOLDOWN  Open state cooldown (default: "2m")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	startCtx := context.Background()

	store := postgres.New(db, cfg.DBOpTimeout)
	if err := store.Init(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize schema: %v\n", err)
		return exitRuntimeError
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("barkline: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("barkline: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("barkline: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	// Rebuild the in-memory index, then re-arm pending triggers. Tasks past
	// their fire time fire immediately once the engine starts.
	ix := index.New()
	if err := ix.LoadAll(startCtx, store); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load tasks: %v\n", err)
		return exitRuntimeError
	}

	engine := trigger.New(bus)
	if metricsSink != nil {
		engine = engine.WithMetrics(metricsSink)
	}
	if err := engine.LoadPending(startCtx, store); err != nil {
		fmt.Fprintf(os.Stderr, "failed to recover pending tasks: %v\n", err)
		return exitRuntimeError
	}
	for _, entry := range engine.PendingEntries() {
		log.Printf("barkline: pending job=%s next_run_time=%s", entry.JobID, entry.FireTime)
	}

	pushSender := dispatcher.NewHTTPPushSender(cfg.PushHost, cfg.PushTimeout)

	disp := dispatcher.New(store, ix, pushSender).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("barkline: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("barkline: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("barkline: REDIS_ADDR not set; analytics disabled")
	}

	svc := service.New(store, ix, engine)
	if metricsSink != nil {
		svc = svc.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(svc).WithHealthChecker(db)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("barkline: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("barkline: http server error: %v", err)
		}
	}()

	// Use separate contexts for engine, reconciler and dispatcher to enable
	// ordered shutdown.
	engineCtx, cancelEngine := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var engineWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup
	var reconcilerWg sync.WaitGroup
	var cancelReconciler context.CancelFunc

	engineWg.Add(1)
	go func() {
		defer engineWg.Done()
		engine.Run(engineCtx)
	}()

	for i := 0; i < cfg.DispatcherWorkers; i++ {
		dispatcherWg.Add(1)
		go func() {
			defer dispatcherWg.Done()
			disp.Run(dispatcherCtx, bus.Channel())
		}()
	}

	// Start reconciler if enabled
	if cfg.ReconcileEnabled {
		var reconcilerCtx context.Context
		reconcilerCtx, cancelReconciler = context.WithCancel(context.Background())
		recon := reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Grace:     cfg.ReconcileGrace,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			engine,
			bus,
		)
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
	} else {
		log.Println("barkline: RECONCILE_ENABLED not set; reconciler disabled")
	}

	log.Printf("barkline: started (pending=%d, workers=%d, http=%s)",
		engine.Len(), cfg.DispatcherWorkers, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("barkline: received signal %v, shutting down", received)

	// Phase 1: Stop trigger engine (no new fire events; un-fired tasks stay
	// durable for the next start)
	log.Println("barkline: stopping trigger engine...")
	cancelEngine()
	engineWg.Wait()

	// Phase 2: Stop reconciler (no new re-emits)
	if cancelReconciler != nil {
		log.Println("barkline: stopping reconciler...")
		cancelReconciler()
		reconcilerWg.Wait()
	}

	// Phase 3: Stop dispatcher workers (drain buffered events first)
	log.Println("barkline: stopping dispatcher (draining events)...")
	cancelDispatcher()
	dispatcherWg.Wait()

	// Phase 4: Stop HTTP server with graceful shutdown
	log.Println("barkline: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("barkline: http server shutdown error: %v", err)
	}

	// Phase 5: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("barkline: metrics server shutdown error: %v", err)
		}
	}

	log.Println("barkline: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("barkline version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
