// Package notable maintains bounded rankings of transactions by fee and
// by moved amount, and accumulates the durable-row deltas those rankings
// imply between flushes.
package notable

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

const DefaultCapacity = 1000

// Tracker holds the two rankings and the pending delta sets. A transaction
// earns a durable row while it is a member of at least one ranking; the row
// is deleted only once it has left both.
type Tracker struct {
	logger *zap.Logger

	mu             sync.Mutex
	byFee          *ranking
	byAmount       *ranking
	pendingUpserts map[model.Hash]model.NotableTransaction
	pendingDeletes map[model.Hash]struct{}
}

func New(logger *zap.Logger, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		logger:         logger,
		byFee:          newRanking(model.MetricFee, capacity),
		byAmount:       newRanking(model.MetricAmount, capacity),
		pendingUpserts: make(map[model.Hash]model.NotableTransaction),
		pendingDeletes: make(map[model.Hash]struct{}),
	}
}

// Consider offers an accepted transaction to both rankings. Coinbase
// transactions and transactions with an unknown fee are excluded from the
// fee ranking; every transaction is eligible for the amount ranking.
func (t *Tracker) Consider(tx *model.TransactionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	admitted := false
	var displaced []model.Hash

	if tx.Class != model.ClassCoinbase && tx.Fee != nil {
		ok, out := t.byFee.consider(model.NotableEntry{
			TxID:      tx.ID,
			Metric:    model.MetricFee,
			Value:     *tx.Fee,
			Timestamp: tx.BlockTime,
			Protocol:  tx.Protocol,
		})
		admitted = admitted || ok
		if out != nil {
			displaced = append(displaced, *out)
		}
	}

	ok, out := t.byAmount.consider(model.NotableEntry{
		TxID:      tx.ID,
		Metric:    model.MetricAmount,
		Value:     tx.OutputAmount,
		Timestamp: tx.BlockTime,
		Protocol:  tx.Protocol,
	})
	admitted = admitted || ok
	if out != nil {
		displaced = append(displaced, *out)
	}

	if admitted {
		rowFee := tx.Fee
		if tx.Class == model.ClassCoinbase {
			// Coinbase rows carry no fee so a later warm load cannot seed
			// them into the fee ranking.
			rowFee = nil
		}
		t.pendingUpserts[tx.ID] = model.NotableTransaction{
			TxID:      tx.ID,
			Fee:       rowFee,
			Amount:    tx.OutputAmount,
			Protocol:  tx.Protocol,
			Timestamp: tx.BlockTime,
		}
		delete(t.pendingDeletes, tx.ID)
	}
	for _, id := range displaced {
		t.noteDisplaced(id)
	}
}

// Seed warms the rankings from durable rows on startup. Admissions queue
// no upserts, the rows are already durable; displacements still queue
// deletes so an over-full durable set shrinks back to capacity.
func (t *Tracker) Seed(rows []model.NotableTransaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		var displaced []model.Hash
		if row.Fee != nil {
			_, out := t.byFee.consider(model.NotableEntry{
				TxID:      row.TxID,
				Metric:    model.MetricFee,
				Value:     *row.Fee,
				Timestamp: row.Timestamp,
				Protocol:  row.Protocol,
			})
			if out != nil {
				displaced = append(displaced, *out)
			}
		}
		_, out := t.byAmount.consider(model.NotableEntry{
			TxID:      row.TxID,
			Metric:    model.MetricAmount,
			Value:     row.Amount,
			Timestamp: row.Timestamp,
			Protocol:  row.Protocol,
		})
		if out != nil {
			displaced = append(displaced, *out)
		}
		for _, id := range displaced {
			t.noteDisplaced(id)
		}
	}
}

// noteDisplaced queues a durable delete for a transaction that has left
// one ranking, but only if it is no longer a member of either.
func (t *Tracker) noteDisplaced(id model.Hash) {
	if t.byFee.contains(id) || t.byAmount.contains(id) {
		return
	}
	delete(t.pendingUpserts, id)
	t.pendingDeletes[id] = struct{}{}
}

// Forget removes transactions from both rankings, queueing durable deletes
// for any that held a row. Used when acceptance is reverted by a reorg.
func (t *Tracker) Forget(ids []model.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		inFee := t.byFee.remove(id)
		inAmount := t.byAmount.remove(id)
		if inFee || inAmount {
			delete(t.pendingUpserts, id)
			t.pendingDeletes[id] = struct{}{}
		}
	}
}

// Drain hands the accumulated deltas to the caller and resets them. On a
// failed flush the caller restores the batch with Restore.
func (t *Tracker) Drain() (upserts []model.NotableTransaction, deletes []model.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	upserts = make([]model.NotableTransaction, 0, len(t.pendingUpserts))
	for _, row := range t.pendingUpserts {
		upserts = append(upserts, row)
	}
	deletes = make([]model.Hash, 0, len(t.pendingDeletes))
	for id := range t.pendingDeletes {
		deletes = append(deletes, id)
	}
	t.pendingUpserts = make(map[model.Hash]model.NotableTransaction)
	t.pendingDeletes = make(map[model.Hash]struct{})
	return upserts, deletes
}

// Restore re-queues a drained batch after a failed flush. Deltas recorded
// since the drain take precedence over the restored ones.
func (t *Tracker) Restore(upserts []model.NotableTransaction, deletes []model.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range upserts {
		if _, ok := t.pendingUpserts[row.TxID]; ok {
			continue
		}
		if _, ok := t.pendingDeletes[row.TxID]; ok {
			continue
		}
		t.pendingUpserts[row.TxID] = row
	}
	for _, id := range deletes {
		if _, ok := t.pendingUpserts[id]; ok {
			continue
		}
		t.pendingDeletes[id] = struct{}{}
	}
}

// Top returns up to limit entries of one ranking, strongest first.
func (t *Tracker) Top(metric model.NotableMetric, limit int) []model.NotableEntry {
	t.mu.Lock()
	r := t.byAmount
	if metric == model.MetricFee {
		r = t.byFee
	}
	entries := r.snapshot()
	t.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Timestamp < entries[j].Timestamp
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Sizes reports current ranking sizes and pending delta counts.
func (t *Tracker) Sizes() (fee, amount, upserts, deletes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byFee.Len(), t.byAmount.Len(), len(t.pendingUpserts), len(t.pendingDeletes)
}
