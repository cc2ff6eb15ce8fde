package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/aggregate"
	"github.com/dagpulse/dagpulse-backend/internal/chainstate"
	"github.com/dagpulse/dagpulse-backend/internal/dagstore"
	"github.com/dagpulse/dagpulse-backend/internal/model"
	"github.com/dagpulse/dagpulse-backend/internal/normalizer"
	"github.com/dagpulse/dagpulse-backend/internal/notable"
)

const DefaultEvictStride = 512

// ErrSessionDesynced reports a broken event ordering contract. The session
// cannot be repaired in place; the process restarts and resynchronizes
// from the node.
var ErrSessionDesynced = errors.New("ingestion session desynchronized")

type Service struct {
	logger     *zap.Logger
	source     EventSource
	normalizer *normalizer.Normalizer
	store      *dagstore.Store
	chain      *chainstate.Tracker
	notables   *notable.Tracker
	protocols  *aggregate.Protocol
	addresses  *aggregate.Address
	metrics    Metrics

	windowHorizon time.Duration
	evictStride   int
	applied       int
}

func NewService(
	logger *zap.Logger,
	source EventSource,
	norm *normalizer.Normalizer,
	store *dagstore.Store,
	chain *chainstate.Tracker,
	notables *notable.Tracker,
	protocols *aggregate.Protocol,
	addresses *aggregate.Address,
	metrics Metrics,
	windowHorizon time.Duration,
	evictStride int,
) *Service {
	if evictStride <= 0 {
		evictStride = DefaultEvictStride
	}
	return &Service{
		logger:        logger,
		source:        source,
		normalizer:    norm,
		store:         store,
		chain:         chain,
		notables:      notables,
		protocols:     protocols,
		addresses:     addresses,
		metrics:       metrics,
		windowHorizon: windowHorizon,
		evictStride:   evictStride,
	}
}

// Run consumes the source until the context ends or the session breaks.
// It is the only writer of the DAG state.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("ingestion started",
		zap.Duration("window_horizon", s.windowHorizon),
		zap.Int("evict_stride", s.evictStride))

	for {
		raw, err := s.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("next event: %w", err)
		}

		started := time.Now()
		event, err := s.normalizer.Normalize(raw)
		if errors.Is(err, normalizer.ErrOutOfOrder) {
			s.chain.SetSynced(false)
			s.metrics.ObserveEvent("unknown", err, started)
			s.logger.Error("event sequence broken", zap.Uint64("seq", raw.Seq), zap.Error(err))
			return fmt.Errorf("seq %d: %w", raw.Seq, ErrSessionDesynced)
		}
		if err != nil {
			// A malformed event is dropped; it cannot be retried and the
			// sequence itself is intact.
			s.metrics.ObserveEvent("unknown", err, started)
			s.logger.Warn("event dropped", zap.Uint64("seq", raw.Seq), zap.Error(err))
			continue
		}

		err = s.apply(event)
		s.metrics.ObserveEvent(eventType(event), err, started)
		if err != nil {
			return err
		}

		s.applied++
		if s.applied%s.evictStride == 0 {
			s.evict()
		}
	}
}

func (s *Service) apply(event model.Event) error {
	switch ev := event.(type) {
	case model.BlockAdded:
		s.store.InsertBlock(ev.Block)
		for _, tx := range ev.Transactions {
			s.store.InsertTransaction(tx)
		}
		s.chain.SetSynced(true)
		return nil

	case model.ChainChanged:
		if len(ev.Removed) > 0 {
			s.metrics.ObserveReorg()
			s.logger.Info("chain reorganization",
				zap.Int("removed_blocks", len(ev.Removed)),
				zap.Int("added_blocks", len(ev.Added)))
		}
		for _, hash := range ev.Removed {
			reverted := s.chain.RemoveChainBlock(hash)
			revertedIDs := make([]model.Hash, 0, len(reverted))
			for _, tx := range reverted {
				revertedIDs = append(revertedIDs, tx.ID)
				s.protocols.Revert(tx)
				s.addresses.Revert(tx)
			}
			s.notables.Forget(revertedIDs)
		}
		for _, acc := range ev.Added {
			for _, tx := range s.chain.ApplyAcceptance(acc) {
				s.notables.Consider(tx)
				s.protocols.Record(tx)
				s.addresses.Record(tx)
			}
		}
		return nil

	default:
		return fmt.Errorf("unhandled event type %T", event)
	}
}

// evict drops records that fell behind the window horizon, measured from
// the tip timestamp, and publishes store health.
func (s *Service) evict() {
	tip := s.chain.Tip()
	horizonMs := uint64(s.windowHorizon.Milliseconds())
	if tip.Timestamp > horizonMs {
		result := s.store.EvictOlderThan(tip.Timestamp - horizonMs)
		if len(result.Blocks) > 0 || len(result.Transactions) > 0 {
			s.chain.Forget(result.Blocks)
			s.metrics.ObserveEviction(len(result.Blocks), len(result.Transactions))
		}
	}

	blocks, transactions, _ := s.store.Sizes()
	s.metrics.SetStoreSizes(blocks, transactions)
	orphans := int(s.store.OrphanEdges())
	s.metrics.SetOrphanEdges(orphans)
	if orphans > 0 {
		s.logger.Warn("unresolved parent edges", zap.Int("orphans", orphans))
	}
	s.logger.Debug("store size",
		zap.Int("blocks", blocks),
		zap.Int("transactions", transactions))
}

func eventType(event model.Event) string {
	switch event.(type) {
	case model.BlockAdded:
		return "block_added"
	case model.ChainChanged:
		return "chain_changed"
	default:
		return "unknown"
	}
}
