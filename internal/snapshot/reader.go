// Package snapshot exposes read-only views over the live DAG state. Every
// view is a copy taken against immutable records, so readers never block
// the ingestion writer.
package snapshot

import (
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/aggregate"
	"github.com/dagpulse/dagpulse-backend/internal/chainstate"
	"github.com/dagpulse/dagpulse-backend/internal/dagstore"
	"github.com/dagpulse/dagpulse-backend/internal/model"
	"github.com/dagpulse/dagpulse-backend/internal/notable"
)

type Reader struct {
	store     *dagstore.Store
	chain     *chainstate.Tracker
	notables  *notable.Tracker
	protocols *aggregate.Protocol
	addresses *aggregate.Address
}

// Stats summarizes in-memory store health.
type Stats struct {
	Blocks       int
	Transactions int
	Edges        int
	OrphanEdges  uint64
}

func NewReader(
	store *dagstore.Store,
	chain *chainstate.Tracker,
	notables *notable.Tracker,
	protocols *aggregate.Protocol,
	addresses *aggregate.Address,
) *Reader {
	return &Reader{
		store:     store,
		chain:     chain,
		notables:  notables,
		protocols: protocols,
		addresses: addresses,
	}
}

// Tip returns the current chain tip and sync state.
func (r *Reader) Tip() chainstate.TipState {
	return r.chain.Tip()
}

// Block returns one block record if it is inside the window.
func (r *Reader) Block(hash model.Hash) (*model.BlockRecord, bool) {
	return r.store.Block(hash)
}

// Transaction returns one transaction record if it is inside the window.
func (r *Reader) Transaction(id model.Hash) (*model.TransactionRecord, bool) {
	return r.store.Transaction(id)
}

// ConfirmationDepth reports how deep a transaction's acceptance is under
// the tip; ok is false while the depth is undefined.
func (r *Reader) ConfirmationDepth(txID model.Hash) (uint64, bool) {
	return r.chain.ConfirmationDepth(txID)
}

// Notables returns up to limit ranking entries, strongest first.
func (r *Reader) Notables(metric model.NotableMetric, limit int) []model.NotableEntry {
	return r.notables.Top(metric, limit)
}

// ProtocolActivity returns per-minute protocol buckets at or after since,
// open buckets included.
func (r *Reader) ProtocolActivity(since time.Time) []model.ActivityBucket {
	return r.protocols.ActivitySince(model.MinuteBucket(uint64(since.UnixMilli())))
}

// AddressActivity returns per-minute address buckets at or after since,
// open buckets included.
func (r *Reader) AddressActivity(since time.Time) []model.ActivityBucket {
	return r.addresses.ActivitySince(model.MinuteBucket(uint64(since.UnixMilli())))
}

// Stats reports current store sizes.
func (r *Reader) Stats() Stats {
	blocks, transactions, edges := r.store.Sizes()
	return Stats{
		Blocks:       blocks,
		Transactions: transactions,
		Edges:        edges,
		OrphanEdges:  r.store.OrphanEdges(),
	}
}
