package aggregate

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

const (
	DefaultAddressCapacity = 1000
	DefaultWindowHorizon   = 48 * time.Hour
)

// addressWindow is a rolling per-minute log of how often one address was
// seen, pruned against the horizon at re-rank time.
type addressWindow struct {
	minutes []minuteCount
	total   uint64
}

type minuteCount struct {
	minuteMs uint64
	count    uint64
}

func (w *addressWindow) bump(minuteMs uint64) {
	if n := len(w.minutes); n > 0 && w.minutes[n-1].minuteMs == minuteMs {
		w.minutes[n-1].count++
	} else {
		w.minutes = append(w.minutes, minuteCount{minuteMs: minuteMs, count: 1})
	}
	w.total++
}

func (w *addressWindow) pruneBefore(cutoffMs uint64) {
	i := 0
	for ; i < len(w.minutes) && w.minutes[i].minuteMs < cutoffMs; i++ {
		w.total -= w.minutes[i].count
	}
	w.minutes = w.minutes[i:]
}

// Address rolls accepted transactions up into per-minute buckets keyed by
// address, bounded to the top-N addresses by rolling-window transaction
// count. Every address feeds the window log, but only admitted addresses
// hold buckets; admission is revisited by periodic re-ranking, so a fresh
// bursty address is undercounted until the next re-rank.
type Address struct {
	logger *zap.Logger

	mu       sync.Mutex
	set      bucketSet
	capacity int
	horizon  time.Duration
	admitted map[string]struct{}
	windows  map[string]*addressWindow
}

func NewAddress(logger *zap.Logger, capacity int, horizon time.Duration) *Address {
	if capacity <= 0 {
		capacity = DefaultAddressCapacity
	}
	if horizon <= 0 {
		horizon = DefaultWindowHorizon
	}
	return &Address{
		logger:   logger,
		set:      newBucketSet(),
		capacity: capacity,
		horizon:  horizon,
		admitted: make(map[string]struct{}, capacity),
		windows:  make(map[string]*addressWindow),
	}
}

func (a *Address) Record(tx *model.TransactionRecord) {
	amounts := addressAmounts(tx)
	if len(amounts) == 0 {
		return
	}
	minuteMs := model.MinuteBucket(tx.BlockTime)

	a.mu.Lock()
	defer a.mu.Unlock()
	for addr, amount := range amounts {
		w, ok := a.windows[addr]
		if !ok {
			w = &addressWindow{}
			a.windows[addr] = w
		}
		w.bump(minuteMs)

		if _, ok := a.admitted[addr]; !ok {
			if len(a.admitted) >= a.capacity {
				continue
			}
			a.admitted[addr] = struct{}{}
		}
		a.set.record(addr, tx.BlockTime, 1, amount)
	}
}

// Revert undoes contributions of a reorged-away transaction from unflushed
// buckets of admitted addresses.
func (a *Address) Revert(tx *model.TransactionRecord) {
	amounts := addressAmounts(tx)
	if len(amounts) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for addr, amount := range amounts {
		if _, ok := a.admitted[addr]; !ok {
			continue
		}
		a.set.revert(addr, tx.BlockTime, 1, amount)
	}
}

// Rerank prunes the rolling windows against the horizon and replaces the
// admitted set with the current top addresses by window count.
func (a *Address) Rerank(now time.Time) {
	cutoff := model.MinuteBucket(uint64(now.Add(-a.horizon).UnixMilli()))

	a.mu.Lock()
	defer a.mu.Unlock()
	type ranked struct {
		addr  string
		total uint64
	}
	all := make([]ranked, 0, len(a.windows))
	for addr, w := range a.windows {
		w.pruneBefore(cutoff)
		if w.total == 0 {
			delete(a.windows, addr)
			continue
		}
		all = append(all, ranked{addr: addr, total: w.total})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].total != all[j].total {
			return all[i].total > all[j].total
		}
		return all[i].addr < all[j].addr
	})
	if len(all) > a.capacity {
		all = all[:a.capacity]
	}
	admitted := make(map[string]struct{}, len(all))
	for _, r := range all {
		admitted[r.addr] = struct{}{}
	}
	a.admitted = admitted
	a.logger.Debug("address activity re-ranked",
		zap.Int("admitted", len(admitted)),
		zap.Int("candidates", len(a.windows)))
}

func (a *Address) ClosedUnflushed() []model.ActivityBucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set.closedUnflushed()
}

// MarkFlushed marks the buckets of a persisted snapshot clean. Buckets
// that gained contributions while the flush ran stay dirty.
func (a *Address) MarkFlushed(flushed []model.ActivityBucket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set.markFlushed(flushed)
}

func (a *Address) EvictFlushedBefore(cutoffMs uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set.evictFlushedBefore(cutoffMs)
}

// ActivitySince returns buckets, open ones included, at or after a minute.
func (a *Address) ActivitySince(minuteMs uint64) []model.ActivityBucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set.since(minuteMs)
}

// Sizes reports bucket count, tracked candidate count and admitted count.
func (a *Address) Sizes() (buckets, candidates, admitted int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set.size(), len(a.windows), len(a.admitted)
}

// addressAmounts collects the distinct addresses a transaction touches and
// the amount attributable to each: outputs credit the receiving address,
// resolved inputs debit the spending address.
func addressAmounts(tx *model.TransactionRecord) map[string]uint64 {
	out := make(map[string]uint64)
	for _, o := range tx.Outputs {
		if o.Address == "" {
			continue
		}
		out[o.Address] += o.Amount
	}
	for _, in := range tx.Inputs {
		if in.Address == "" || in.SpentAmount == nil {
			continue
		}
		out[in.Address] += *in.SpentAmount
	}
	return out
}
