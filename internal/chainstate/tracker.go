// Package chainstate tracks selected-parent chain membership and transaction
// acceptance. It is the only component allowed to flip a block's chain-block
// flag or a transaction's accepting block.
package chainstate

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/dagstore"
	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// TipState is the current virtual selected-parent chain tip. Published
// atomically so readers share the snapshot visibility of all other views.
type TipState struct {
	Hash      model.Hash
	BlueScore uint64
	Timestamp uint64 // unix milliseconds
	Synced    bool
}

// Tracker maintains chain membership state over the DAG window store.
type Tracker struct {
	logger *zap.Logger
	store  *dagstore.Store

	// accepted maps a chain block to the transactions it accepted, so a
	// reorg can revert exactly the acceptances attributed to it.
	accepted *xsync.Map[model.Hash, []model.Hash]

	tip    atomic.Pointer[TipState]
	synced atomic.Bool
}

func New(logger *zap.Logger, store *dagstore.Store) *Tracker {
	return &Tracker{
		logger:   logger.Named("chainstate"),
		store:    store,
		accepted: xsync.NewMap[model.Hash, []model.Hash](),
	}
}

// ApplyAcceptance promotes a block to chain membership and marks its accepted
// transactions. Returns the updated transaction records so the caller can
// feed rankings and aggregators. Transactions outside the window are skipped.
func (t *Tracker) ApplyAcceptance(acc model.Acceptance) []*model.TransactionRecord {
	tipTimestamp := uint64(0)
	if block, ok := t.store.Block(acc.AcceptingBlock); ok {
		if !block.IsChainBlock {
			updated := *block
			updated.IsChainBlock = true
			t.store.ReplaceBlock(&updated)
		}
		tipTimestamp = block.Timestamp
	} else {
		t.logger.Warn("acceptance for block outside the window",
			zap.String("block", acc.AcceptingBlock.String()))
	}

	t.accepted.Store(acc.AcceptingBlock, append([]model.Hash(nil), acc.AcceptedTxIDs...))

	accepted := make([]*model.TransactionRecord, 0, len(acc.AcceptedTxIDs))
	for _, txID := range acc.AcceptedTxIDs {
		tx, ok := t.store.Transaction(txID)
		if !ok {
			t.logger.Warn("accepted transaction not in window", zap.String("tx", txID.String()))
			continue
		}
		if tx.AcceptingBlock != nil && *tx.AcceptingBlock == acc.AcceptingBlock {
			continue
		}
		updated := tx.Clone()
		accepting := acc.AcceptingBlock
		updated.AcceptingBlock = &accepting
		t.store.ReplaceTransaction(updated)
		accepted = append(accepted, updated)
	}

	t.tip.Store(&TipState{
		Hash:      acc.AcceptingBlock,
		BlueScore: acc.BlueScore,
		Timestamp: tipTimestamp,
		Synced:    t.synced.Load(),
	})

	return accepted
}

// RemoveChainBlock demotes a block from the chain and reverts the acceptance
// of every transaction it accepted. Returns the reverted records so the
// caller can back out unflushed aggregator contributions.
func (t *Tracker) RemoveChainBlock(hash model.Hash) []*model.TransactionRecord {
	if block, ok := t.store.Block(hash); ok {
		if block.IsChainBlock {
			updated := *block
			updated.IsChainBlock = false
			t.store.ReplaceBlock(&updated)
		}
	} else {
		t.logger.Warn("removed chain block not in window", zap.String("block", hash.String()))
	}

	txIDs, ok := t.accepted.LoadAndDelete(hash)
	if !ok {
		return nil
	}

	reverted := make([]*model.TransactionRecord, 0, len(txIDs))
	for _, txID := range txIDs {
		tx, ok := t.store.Transaction(txID)
		if !ok || tx.AcceptingBlock == nil || *tx.AcceptingBlock != hash {
			continue
		}
		updated := tx.Clone()
		updated.AcceptingBlock = nil // acceptance is pending again
		t.store.ReplaceTransaction(updated)
		reverted = append(reverted, updated)
	}
	return reverted
}

// ConfirmationDepth returns the blue-score distance between the chain tip and
// a transaction's accepting block. ok is false while acceptance is unknown or
// the accepting block has left the window: depth is undefined, not zero.
func (t *Tracker) ConfirmationDepth(txID model.Hash) (uint64, bool) {
	tx, ok := t.store.Transaction(txID)
	if !ok || tx.AcceptingBlock == nil {
		return 0, false
	}
	accepting, ok := t.store.Block(*tx.AcceptingBlock)
	if !ok {
		return 0, false
	}
	tip := t.tip.Load()
	if tip == nil || tip.BlueScore < accepting.BlueScore {
		return 0, false
	}
	return tip.BlueScore - accepting.BlueScore, true
}

// Tip returns the current tip snapshot.
func (t *Tracker) Tip() TipState {
	tip := t.tip.Load()
	if tip == nil {
		return TipState{}
	}
	state := *tip
	state.Synced = t.synced.Load()
	return state
}

// SetSynced flips the session health flag surfaced to the query layer.
func (t *Tracker) SetSynced(synced bool) {
	t.synced.Store(synced)
}

// Forget drops acceptance bookkeeping for blocks evicted from the window.
func (t *Tracker) Forget(blocks []model.Hash) {
	for _, hash := range blocks {
		t.accepted.Delete(hash)
	}
}
