package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
	"github.com/David-Botos/data-cleansing/pkg/cleaner"
	"github.com/David-Botos/data-cleansing/pkg/config"
	"github.com/David-Botos/data-cleansing/pkg/connector"
	"github.com/David-Botos/data-cleansing/pkg/converter"
	"github.com/David-Botos/data-cleansing/pkg/gold"
	"github.com/David-Botos/data-cleansing/pkg/logging"
	"github.com/David-Botos/data-cleansing/pkg/masking"
	"github.com/David-Botos/data-cleansing/pkg/pipeline"
	"github.com/David-Botos/data-cleansing/pkg/scd"
	"github.com/David-Botos/data-cleansing/pkg/silver"
	"github.com/David-Botos/data-cleansing/pkg/store"
)

func main() {
	mode := flag.String("mode", "", "Run mode: once or scheduled (defaults to scheduled when REFRESH_INTERVAL is set)")
	user := flag.String("user", "", "Identity the gold layer is masked for (overrides MASKING_USER)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *user != "" {
		cfg.MaskingUser = *user
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, cfg, *mode, logger)
	stop()
	_ = logger.Sync()

	if err != nil {
		logger.Error("Pipeline exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mode string, logger *zap.Logger) error {
	metrics, shutdown := startMetrics(cfg.MetricsAddr, logger)
	defer shutdown()

	factory := connector.NewConnectorFactory(cfg, logger)

	sinkConn, err := factory.CreateSinkConnector(ctx)
	if err != nil {
		return err
	}
	if sinkConn != nil {
		defer sinkConn.Close()
		if err := sinkConn.Validate(ctx); err != nil {
			return fmt.Errorf("failed to validate sink connection: %w", err)
		}
	}

	convConfig := converter.DefaultConfig()
	convConfig.InferTypes = cfg.InferColumnTypes
	conv := converter.NewTypeConverterWithConfig(logger, convConfig)

	silverConfig := silver.StandardCustomerConfig(cfg.Schema, cfg.SilverTable())
	if cfg.SilverConfigPath != "" {
		silverConfig, err = silver.LoadTableConfigFile(cfg.SilverConfigPath)
		if err != nil {
			return err
		}
	}

	merger, err := scd.NewMerger(scd.CustomerConfig(cfg.TableName, false), logger)
	if err != nil {
		return fmt.Errorf("failed to create merger: %w", err)
	}

	state, err := openState(ctx, cfg, factory, sinkConn, logger)
	if err != nil {
		return err
	}
	if state.close != nil {
		defer state.close()
	}

	// In-memory versions start empty, so every file is read again
	checkpointPath := cfg.CheckpointPath
	if cfg.StateStore == config.StateMemory {
		logger.Warn("Ignoring checkpoint file for in-memory state",
			zap.String("checkpointPath", cfg.CheckpointPath))
		checkpointPath = ""
	}
	checkpoint, err := bronze.LoadCheckpoint(checkpointPath)
	if err != nil {
		return err
	}

	deps := pipeline.Dependencies{
		Ingester:     bronze.NewIngester(conv, cfg.Schema, cfg.RawTable(), logger),
		Checkpoint:   checkpoint,
		SilverConfig: silverConfig,
		Merger:       merger,
		Versions:     state.versions,
		Gold:         gold.NewBuilder(masking.NewResolver(state.grants, logger), logger),
		Recorder:     state.recorder,
		Metrics:      metrics,
	}
	if sinkConn != nil {
		deps.Sink = store.NewTableSink(sinkConn, conv, cfg.Schema, cfg.BatchSize, logger)
	}

	p, err := pipeline.NewPipeline(deps, pipeline.Options{
		SourceDir:     cfg.SourceDir,
		SourcePattern: cfg.SourcePattern,
		RawTable:      cfg.RawTable(),
		SilverTable:   cfg.SilverTable(),
		GoldTable:     cfg.GoldTable(),
		Workers:       cfg.WorkerPoolSize,
		MaxRetries:    cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
	}, logger)
	if err != nil {
		return err
	}

	scheduler := pipeline.NewScheduler(p, cfg.MaskingUser, cfg.RefreshInterval, logger)

	if mode == "" {
		mode = "once"
		if cfg.RefreshInterval > 0 {
			mode = "scheduled"
		}
	}

	switch mode {
	case "once":
		result, err := scheduler.RunOnce(ctx)
		if result != nil {
			fmt.Println(result.Report())
		}
		return err
	case "scheduled":
		return scheduler.Start(ctx)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// stateStores hold versions, grants and the cleaning audit trail
type stateStores struct {
	versions scd.Store
	grants   masking.GrantSource
	recorder cleaner.OperationRecorder
	close    func()
}

func openState(
	ctx context.Context,
	cfg *config.Config,
	factory *connector.ConnectorFactory,
	sinkConn connector.DatabaseConnector,
	logger *zap.Logger,
) (*stateStores, error) {
	if cfg.StateStore != config.StatePostgres {
		var grants masking.StaticGrants
		if cfg.SeedDefaultGrants {
			grants = masking.DefaultGrants(time.Now().UTC())
		}
		logger.Warn("Using in-memory state; versions and audit records are lost on exit")
		return &stateStores{
			versions: scd.NewTable(),
			grants:   grants,
			recorder: cleaner.NewMemoryRecorder(),
		}, nil
	}

	// Share the sink connection when it already points at Postgres
	pg, ok := sinkConn.(*connector.PostgresConnector)
	var closeFn func()
	if !ok {
		var err error
		pg, err = factory.CreatePostgresConnector(ctx)
		if err != nil {
			return nil, err
		}
		closeFn = func() { pg.Close() }
	}

	fail := func(err error) (*stateStores, error) {
		if closeFn != nil {
			closeFn()
		}
		return nil, err
	}

	if err := pg.EnsureSchema(ctx, cfg.Schema); err != nil {
		return fail(err)
	}

	db := store.NewDB(pg.DB())

	versions := store.NewVersionStore(db, cfg.Schema, cfg.TableName+"_versions", logger)
	if err := versions.EnsureTable(ctx); err != nil {
		return fail(err)
	}

	grants := store.NewGrantStore(db, cfg.Schema, cfg.AccessGrantsTable, logger)
	if err := grants.EnsureTable(ctx); err != nil {
		return fail(err)
	}
	if cfg.SeedDefaultGrants {
		if _, err := grants.SeedDefaults(ctx, time.Now().UTC()); err != nil {
			return fail(err)
		}
	}

	recorder, err := cleaner.NewRecorder(ctx, pg.DB(), cfg.Schema, logger)
	if err != nil {
		return fail(err)
	}

	return &stateStores{
		versions: versions,
		grants:   grants,
		recorder: recorder,
		close:    closeFn,
	}, nil
}

// startMetrics serves /metrics when addr is set. The returned function stops
// the server.
func startMetrics(addr string, logger *zap.Logger) (*pipeline.Metrics, func()) {
	if addr == "" {
		return nil, func() {}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return metrics, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
}
