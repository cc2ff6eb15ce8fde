package flusher

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/aggregate"
	"github.com/dagpulse/dagpulse-backend/internal/model"
	"github.com/dagpulse/dagpulse-backend/internal/notable"
	"github.com/dagpulse/dagpulse-backend/pkg/batcher"
	"github.com/dagpulse/dagpulse-backend/pkg/workerpool"
)

const (
	DefaultFlushPeriod   = 30 * time.Second
	DefaultRetention     = 10 * 24 * time.Hour
	DefaultRerankPeriod  = 5 * time.Minute
	DefaultShutdownGrace = 15 * time.Second

	pruneSchedule = "0 0 * * * *" // hourly, on the hour

	flushRetries = 3

	// Ranking deletes are ClickHouse mutations, so they are batched and
	// paced instead of issued per flush cycle.
	deleteBatchSize  = 200
	deleteRatePerSec = 1
)

type Config struct {
	FlushPeriod   time.Duration
	Retention     time.Duration
	RerankPeriod  time.Duration
	MemoryTail    time.Duration
	ShutdownGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = DefaultFlushPeriod
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.RerankPeriod <= 0 {
		c.RerankPeriod = DefaultRerankPeriod
	}
	if c.MemoryTail <= 0 {
		c.MemoryTail = c.FlushPeriod * 10
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
}

type Service struct {
	logger    *zap.Logger
	repo      Repository
	notables  *notable.Tracker
	protocols *aggregate.Protocol
	addresses *aggregate.Address
	metrics   Metrics
	cfg       Config

	deletes    *batcher.Batcher[model.Hash]
	newBackOff func() backoff.BackOff
}

func NewService(
	logger *zap.Logger,
	repo Repository,
	notables *notable.Tracker,
	protocols *aggregate.Protocol,
	addresses *aggregate.Address,
	metrics Metrics,
	cfg Config,
) *Service {
	cfg.applyDefaults()
	s := &Service{
		logger:    logger,
		repo:      repo,
		notables:  notables,
		protocols: protocols,
		addresses: addresses,
		metrics:   metrics,
		cfg:       cfg,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), flushRetries)
		},
	}
	s.deletes = batcher.New(logger.Named("deletes"), repo.DeleteNotableTransactions,
		deleteBatchSize, cfg.FlushPeriod, deleteRatePerSec)
	return s
}

// WarmStart seeds the notable rankings from the durable store so a restart
// does not forget ranked transactions that predate the window.
func (s *Service) WarmStart(ctx context.Context) error {
	rows, err := s.repo.LoadNotableTransactions(ctx)
	if err != nil {
		return fmt.Errorf("load notable transactions: %w", err)
	}
	s.notables.Seed(rows)
	s.logger.Info("notable rankings warmed", zap.Int("rows", len(rows)))
	return nil
}

// Run schedules periodic flushes, the hourly retention prune and address
// re-ranking, then blocks until the context ends. On shutdown one final
// flush runs under a bounded grace period.
func (s *Service) Run(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger)))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.FlushPeriod), func() {
		s.Flush(ctx)
	}); err != nil {
		return fmt.Errorf("schedule flush: %w", err)
	}
	if _, err := c.AddFunc(pruneSchedule, func() {
		s.Prune(ctx)
	}); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.RerankPeriod), func() {
		s.addresses.Rerank(time.Now())
	}); err != nil {
		return fmt.Errorf("schedule rerank: %w", err)
	}

	s.logger.Info("flusher started",
		zap.Duration("flush_period", s.cfg.FlushPeriod),
		zap.Duration("retention", s.cfg.Retention))
	c.Start()

	// The delete batcher runs on its own context so the shutdown drain
	// can still reach the store after the outer context ends.
	batchCtx, cancelBatch := context.WithCancel(context.Background())
	defer cancelBatch()
	s.deletes.Start(batchCtx)

	<-ctx.Done()
	<-c.Stop().Done()

	graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	s.Flush(graceCtx)
	s.deletes.Stop()
	s.logger.Info("flusher stopped")

	return ctx.Err()
}

type flushTask struct {
	name string
	run  func(ctx context.Context) error
}

// Flush persists pending notable deltas and every closed unflushed bucket,
// the three tables concurrently. Failed tables keep their state in memory
// for the next cycle.
func (s *Service) Flush(ctx context.Context) {
	started := time.Now()

	tasks := []flushTask{
		{name: "notable_transactions", run: s.flushNotables},
		{name: "protocol_activity_minutely", run: s.flushProtocol},
		{name: "address_activity_minutely", run: s.flushAddress},
	}

	err := workerpool.Process(ctx, len(tasks), tasks, func(ctx context.Context, task flushTask) error {
		if err := backoff.Retry(func() error {
			return task.run(ctx)
		}, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
			return fmt.Errorf("flush %s: %w", task.name, err)
		}
		return nil
	})

	s.metrics.ObserveRun(err, started)
	if err != nil {
		s.logger.Error("flush cycle failed", zap.Error(err))
		return
	}
	s.logger.Debug("flush cycle complete", zap.Duration("took", time.Since(started)))
}

func (s *Service) flushNotables(ctx context.Context) error {
	upserts, deletes := s.notables.Drain()
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	if err := s.repo.UpsertNotableTransactions(ctx, upserts); err != nil {
		s.notables.Restore(upserts, deletes)
		return err
	}
	for i, id := range deletes {
		if err := s.deletes.Add(ctx, id); err != nil {
			s.notables.Restore(nil, deletes[i:])
			return err
		}
	}

	s.metrics.ObserveFlushedRows("notable_transactions", len(upserts)+len(deletes))
	return nil
}

func (s *Service) flushProtocol(ctx context.Context) error {
	return s.flushBuckets(ctx, "protocol_activity_minutely",
		s.protocols.ClosedUnflushed, s.repo.UpsertProtocolActivity,
		s.protocols.MarkFlushed, s.protocols.EvictFlushedBefore)
}

func (s *Service) flushAddress(ctx context.Context) error {
	return s.flushBuckets(ctx, "address_activity_minutely",
		s.addresses.ClosedUnflushed, s.repo.UpsertAddressActivity,
		s.addresses.MarkFlushed, s.addresses.EvictFlushedBefore)
}

func (s *Service) flushBuckets(
	ctx context.Context,
	table string,
	closed func() []model.ActivityBucket,
	upsert func(context.Context, []model.ActivityBucket) error,
	markFlushed func([]model.ActivityBucket),
	evict func(uint64) int,
) error {
	buckets := closed()
	if len(buckets) > 0 {
		if err := upsert(ctx, buckets); err != nil {
			return err
		}
		markFlushed(buckets)
		s.metrics.ObserveFlushedRows(table, len(buckets))
	}

	tailCutoff := time.Now().Add(-s.cfg.MemoryTail).UnixMilli()
	if tailCutoff > 0 {
		evict(uint64(tailCutoff))
	}
	return nil
}

// Prune deletes activity rows older than the retention horizon.
func (s *Service) Prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Retention)
	err := s.repo.PruneActivity(ctx, cutoff)
	s.metrics.ObservePrune(err)
	if err != nil {
		s.logger.Error("retention prune failed", zap.Error(err))
		return
	}
	s.logger.Info("retention prune complete", zap.Time("cutoff", cutoff))
}
