// Package flusher periodically persists closed activity buckets and
// pending notable deltas, prunes aged rows, and re-ranks address
// admission. All writes are idempotent upserts, so retries and replays
// are safe.
package flusher

import (
	"context"
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

type (
	// Repository is the durable store the flusher writes to.
	Repository interface {
		UpsertNotableTransactions(ctx context.Context, rows []model.NotableTransaction) error
		DeleteNotableTransactions(ctx context.Context, ids []model.Hash) error
		UpsertProtocolActivity(ctx context.Context, buckets []model.ActivityBucket) error
		UpsertAddressActivity(ctx context.Context, buckets []model.ActivityBucket) error
		PruneActivity(ctx context.Context, cutoff time.Time) error
		LoadNotableTransactions(ctx context.Context) ([]model.NotableTransaction, error)
	}

	// Metrics observes flush cycles.
	Metrics interface {
		ObserveRun(err error, started time.Time)
		ObserveFlushedRows(table string, rows int)
		ObservePrune(err error)
	}
)
