package aggregate

import (
	"sync"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// Protocol rolls accepted transactions up into per-minute buckets keyed by
// protocol. Cardinality is the handful of known protocols, so admission is
// unbounded.
type Protocol struct {
	mu  sync.Mutex
	set bucketSet
}

func NewProtocol() *Protocol {
	return &Protocol{set: newBucketSet()}
}

func (p *Protocol) Record(tx *model.TransactionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set.record(string(tx.Protocol), tx.BlockTime, 1, feeOrZero(tx))
}

// Revert undoes an accepted transaction whose acceptance was reorged away,
// as long as its bucket has not been flushed.
func (p *Protocol) Revert(tx *model.TransactionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set.revert(string(tx.Protocol), tx.BlockTime, 1, feeOrZero(tx))
}

func (p *Protocol) ClosedUnflushed() []model.ActivityBucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set.closedUnflushed()
}

// MarkFlushed marks the buckets of a persisted snapshot clean. Buckets
// that gained contributions while the flush ran stay dirty.
func (p *Protocol) MarkFlushed(flushed []model.ActivityBucket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set.markFlushed(flushed)
}

func (p *Protocol) EvictFlushedBefore(cutoffMs uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set.evictFlushedBefore(cutoffMs)
}

// ActivitySince returns buckets, open ones included, at or after a minute.
func (p *Protocol) ActivitySince(minuteMs uint64) []model.ActivityBucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set.since(minuteMs)
}

func (p *Protocol) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set.size()
}

func feeOrZero(tx *model.TransactionRecord) uint64 {
	if tx.Fee == nil {
		return 0
	}
	return *tx.Fee
}
