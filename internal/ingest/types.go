// Package ingest runs the single-writer pipeline that applies node events
// to the in-memory DAG state: normalize, store, track the chain, feed the
// rankings and the activity rollups.
package ingest

import (
	"context"
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/normalizer"
)

type (
	// EventSource is the transport boundary. Next blocks until an event is
	// available; an error ends the ingestion session.
	EventSource interface {
		Next(ctx context.Context) (normalizer.RawEvent, error)
	}

	// Metrics observes pipeline progress.
	Metrics interface {
		ObserveEvent(eventType string, err error, started time.Time)
		ObserveReorg()
		SetOrphanEdges(n int)
		SetStoreSizes(blocks, transactions int)
		ObserveEviction(blocks, transactions int)
	}
)
