package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiusdt/attribution-pipeline/internal/config"
	"github.com/radiusdt/attribution-pipeline/internal/database"
	"github.com/radiusdt/attribution-pipeline/internal/ihc"
	"github.com/radiusdt/attribution-pipeline/internal/metrics"
	"github.com/radiusdt/attribution-pipeline/internal/pipeline"
	"github.com/radiusdt/attribution-pipeline/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type runOptions struct {
	startDate string
	endDate   string
	chunkSize int
	output    string
	dryRun    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "attribution",
		Short:         "Marketing attribution pipeline",
		Long:          "Builds customer journeys from session and conversion data, scores them via the IHC attribution service and writes the channel performance report.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline over a date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts)
		},
	}

	cmd.Flags().StringVar(&opts.startDate, "start-date", "", "window start (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&opts.endDate, "end-date", "", "window end (YYYY-MM-DD, inclusive)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "max journeys per scoring request (overrides env)")
	cmd.Flags().StringVar(&opts.output, "output", "", "report CSV path (overrides env)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "build journeys in memory without remote calls or writes")
	cmd.MarkFlagRequired("start-date")
	cmd.MarkFlagRequired("end-date")

	return cmd
}

func runPipeline(opts *runOptions) error {
	if err := validateWindow(opts.startDate, opts.endDate); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.chunkSize > 0 {
		cfg.Pipeline.ChunkSize = opts.chunkSize
	}
	if opts.output != "" {
		cfg.Pipeline.ReportOutputPath = opts.output
	}

	logger := setupLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("attribution")
		go serveMetrics(cfg.Metrics, logger)
	}

	store, cleanup, err := openStore(ctx, cfg, opts.dryRun, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	client := ihc.NewClient(cfg.API, logger, m)
	client.SetRedistribution(ihc.DefaultRedistribution())

	if cfg.Redis.Enabled && !opts.dryRun {
		redisDB, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, using in-process rate limiting only", zap.Error(err))
		} else {
			defer redisDB.Close()
			client.SetQuota(ihc.NewRedisQuota(redisDB.Client, cfg.API.RequestsPerMinute, time.Minute, logger))
		}
	}

	submitter := ihc.NewSubmitter(client, cfg.Pipeline.ChunkSize, cfg.Pipeline.MaxSessionsPerChunk, logger, m)

	p := pipeline.New(pipeline.Config{
		StartDate:  opts.startDate,
		EndDate:    opts.endDate,
		OutputPath: cfg.Pipeline.ReportOutputPath,
		DryRun:     opts.dryRun,
	}, store, submitter, logger, m)

	if cfg.ClickHouse.Enabled && !opts.dryRun {
		chDB, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, report mirror disabled", zap.Error(err))
		} else {
			defer chDB.Close()
			p.SetReportSink(storage.NewClickHouseReportSink(chDB.Conn, cfg.ClickHouse.Table))
		}
	}

	summary, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	return nil
}

// openStore connects to PostgreSQL, or hands back an empty in-memory store
// for dry runs without a database.
func openStore(ctx context.Context, cfg *config.Config, dryRun bool, logger *zap.Logger) (storage.Store, func(), error) {
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		if dryRun {
			logger.Warn("PostgreSQL not available, dry run uses an empty in-memory store", zap.Error(err))
			return storage.NewMemoryStore(), func() {}, nil
		}
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return storage.NewPostgresStore(db.Pool), db.Close, nil
}

func validateWindow(startDate, endDate string) error {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return fmt.Errorf("invalid start-date %q: expected YYYY-MM-DD", startDate)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return fmt.Errorf("invalid end-date %q: expected YYYY-MM-DD", endDate)
	}
	if start.After(end) {
		return fmt.Errorf("start-date %s is after end-date %s", startDate, endDate)
	}
	return nil
}

func serveMetrics(cfg config.MetricsConfig, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())

	logger.Info("metrics listener started",
		zap.String("addr", cfg.Addr),
		zap.String("path", cfg.Path),
	)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Warn("metrics listener stopped", zap.Error(err))
	}
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
