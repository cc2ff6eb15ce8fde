package dagstore

import (
	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// EvictResult lists what an eviction pass removed, so downstream components
// can drop their own per-record state.
type EvictResult struct {
	Blocks       []model.Hash
	Transactions []model.Hash
}

// EvictOlderThan removes blocks, their edges, and transactions whose
// timestamp is below cutoff (unix milliseconds). Each removal is an
// independent short critical section; concurrent readers are never blocked
// for longer than a single key operation.
func (s *Store) EvictOlderThan(cutoff uint64) EvictResult {
	var candidates []model.Hash
	s.blocks.Range(func(hash model.Hash, block *model.BlockRecord) bool {
		if block.Timestamp < cutoff {
			candidates = append(candidates, hash)
		}
		return true
	})

	var result EvictResult
	for _, hash := range candidates {
		block, ok := s.blocks.LoadAndDelete(hash)
		if !ok {
			continue
		}
		result.Blocks = append(result.Blocks, hash)
		s.children.Delete(hash)
		delete(s.pending, hash)

		// Detach the evicted block from its transactions; a transaction
		// leaves the window once its last containing block does.
		for _, txID := range block.Transactions {
			tx, ok := s.transactions.Load(txID)
			if !ok {
				continue
			}
			remaining := make([]model.Hash, 0, len(tx.Blocks))
			for _, b := range tx.Blocks {
				if b != hash {
					remaining = append(remaining, b)
				}
			}
			if len(remaining) == 0 {
				s.transactions.Delete(txID)
				result.Transactions = append(result.Transactions, txID)
				continue
			}
			updated := tx.Clone()
			updated.Blocks = remaining
			s.transactions.Store(txID, updated)
		}
	}

	if len(result.Blocks) > 0 {
		s.logger.Debug("evicted aged records",
			zap.Int("blocks", len(result.Blocks)),
			zap.Int("transactions", len(result.Transactions)),
			zap.Uint64("cutoff", cutoff))
	}
	return result
}
