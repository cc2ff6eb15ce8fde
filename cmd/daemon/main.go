package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dagpulse/dagpulse-backend/internal/aggregate"
	"github.com/dagpulse/dagpulse-backend/internal/chainstate"
	"github.com/dagpulse/dagpulse-backend/internal/dagstore"
	"github.com/dagpulse/dagpulse-backend/internal/flusher"
	"github.com/dagpulse/dagpulse-backend/internal/ingest"
	"github.com/dagpulse/dagpulse-backend/internal/metrics"
	"github.com/dagpulse/dagpulse-backend/internal/nodeclient"
	"github.com/dagpulse/dagpulse-backend/internal/normalizer"
	"github.com/dagpulse/dagpulse-backend/internal/notable"
	"github.com/dagpulse/dagpulse-backend/internal/repository/clickhouse"
	"github.com/dagpulse/dagpulse-backend/pkg/safe"
)

type config struct {
	NodeURL             string        `long:"node-url" env:"DAGPULSE_NODE_URL" description:"node websocket notification URL" default:"ws://127.0.0.1:17110"`
	ClickhouseDSN       string        `long:"clickhouse-dsn" env:"DAGPULSE_CLICKHOUSE_DSN" description:"ClickHouse DSN"`
	WindowHorizon       time.Duration `long:"window-horizon" env:"DAGPULSE_WINDOW_HORIZON" description:"in-memory DAG window" default:"48h"`
	FlushPeriod         time.Duration `long:"flush-period" env:"DAGPULSE_FLUSH_PERIOD" description:"period between durable flushes" default:"30s"`
	RetentionDays       int           `long:"retention-days" env:"DAGPULSE_RETENTION_DAYS" description:"durable activity retention in days" default:"10"`
	NotableCapacity     int           `long:"notable-capacity" env:"DAGPULSE_NOTABLE_CAPACITY" description:"ranking capacity per metric" default:"1000"`
	AddressCapacity     int           `long:"address-capacity" env:"DAGPULSE_ADDRESS_CAPACITY" description:"tracked address admission bound" default:"1000"`
	AddressRerankPeriod time.Duration `long:"address-rerank-period" env:"DAGPULSE_ADDRESS_RERANK_PERIOD" description:"period between address re-rankings" default:"5m"`
	MetricsAddr         string        `long:"metrics-addr" env:"DAGPULSE_METRICS_ADDR" description:"address for metrics server" default:":2112"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if cfg.ClickhouseDSN == "" {
		logger.Fatal("ClickHouse DSN is required")
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("daemon failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	repo, err := clickhouse.NewRepository(cfg.ClickhouseDSN, metrics.NewClickhouseRepository())
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer func() {
		_ = repo.Close()
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	retentionDays, err := safe.Uint64(cfg.RetentionDays)
	if err != nil {
		return fmt.Errorf("retention days: %w", err)
	}

	store := dagstore.New(logger, dagstore.DefaultReorderTolerance)
	chain := chainstate.New(logger, store)
	notables := notable.New(logger, cfg.NotableCapacity)
	protocols := aggregate.NewProtocol()
	addresses := aggregate.NewAddress(logger, cfg.AddressCapacity, cfg.WindowHorizon)

	flushSvc := flusher.NewService(logger, repo, notables, protocols, addresses,
		metrics.NewFlusher(), flusher.Config{
			FlushPeriod:  cfg.FlushPeriod,
			Retention:    time.Duration(retentionDays) * 24 * time.Hour,
			RerankPeriod: cfg.AddressRerankPeriod,
			MemoryTail:   cfg.WindowHorizon,
		})
	if err := flushSvc.WarmStart(ctx); err != nil {
		return err
	}

	source, err := nodeclient.Dial(ctx, logger, nodeclient.Config{URL: cfg.NodeURL})
	if err != nil {
		return fmt.Errorf("connect node: %w", err)
	}
	defer func() {
		_ = source.Close()
	}()

	ingestSvc := ingest.NewService(logger, source, normalizer.New(logger), store,
		chain, notables, protocols, addresses, metrics.NewIngester(),
		cfg.WindowHorizon, ingest.DefaultEvictStride)

	// The ingestion error cancels the group; the flusher then runs its
	// final flush before the process exits and resynchronizes.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingestSvc.Run(gctx)
	})
	g.Go(func() error {
		return flushSvc.Run(gctx)
	})

	return g.Wait()
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}
	}()
}
