// Package dagstore holds the bounded in-memory window of DAG blocks,
// transactions and parent/child edges.
//
// There is exactly one writer (the ingestion pipeline); concurrent readers
// are served through copy-on-write records, so no reader can observe a
// half-applied mutation and no read ever blocks the writer.
package dagstore

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// DefaultReorderTolerance is how many subsequent block insertions an edge may
// wait for its parent before it is flagged as an orphan edge.
const DefaultReorderTolerance = 256

// Store is the DAG window store.
type Store struct {
	logger *zap.Logger

	blocks       *xsync.Map[model.Hash, *model.BlockRecord]
	transactions *xsync.Map[model.Hash, *model.TransactionRecord]
	// children maps a parent hash to the hashes of blocks that declared it
	// as a parent. Slices are copy-on-write.
	children *xsync.Map[model.Hash, []model.Hash]

	// pending tracks edges whose parent block has not been seen yet, with
	// the insertion count at which they were declared.
	pending          map[model.Hash]uint64
	insertCount      uint64
	reorderTolerance uint64
	// orphanEdges is read by concurrent snapshot readers.
	orphanEdges atomic.Uint64
}

// New creates an empty store. reorderTolerance ≤ 0 selects the default.
func New(logger *zap.Logger, reorderTolerance int) *Store {
	if reorderTolerance <= 0 {
		reorderTolerance = DefaultReorderTolerance
	}
	return &Store{
		logger:           logger.Named("dagstore"),
		blocks:           xsync.NewMap[model.Hash, *model.BlockRecord](),
		transactions:     xsync.NewMap[model.Hash, *model.TransactionRecord](),
		children:         xsync.NewMap[model.Hash, []model.Hash](),
		pending:          make(map[model.Hash]uint64),
		reorderTolerance: uint64(reorderTolerance),
	}
}

// InsertBlock upserts a block and its parent edges. Duplicate delivery of the
// same hash leaves the store unchanged and returns false.
func (s *Store) InsertBlock(block *model.BlockRecord) bool {
	if _, loaded := s.blocks.LoadOrStore(block.Hash, block); loaded {
		return false
	}
	s.insertCount++

	// The parent this block was waiting on may just have arrived.
	delete(s.pending, block.Hash)

	for _, parent := range block.Parents {
		s.InsertEdge(parent, block.Hash)
	}

	s.expirePending()
	return true
}

// InsertTransaction upserts a transaction. A transaction already known from
// another block gains that block in its Blocks list; a duplicate of the same
// (transaction, block) pair is a no-op. Returns true if the transaction was
// new to the store.
func (s *Store) InsertTransaction(tx *model.TransactionRecord) bool {
	existing, ok := s.transactions.Load(tx.ID)
	if !ok {
		s.transactions.Store(tx.ID, tx)
		return true
	}

	for _, b := range existing.Blocks {
		if b == tx.BlockHash {
			return false
		}
	}
	updated := existing.Clone()
	updated.Blocks = append(updated.Blocks, tx.BlockHash)
	s.transactions.Store(tx.ID, updated)
	return false
}

// InsertEdge records a parent→child edge. The edge is indexed immediately so
// ChildrenOf stays complete even when the parent has not arrived yet; the
// unseen parent is tracked and flagged as an orphan edge if it does not show
// up within the reorder tolerance.
func (s *Store) InsertEdge(parent, child model.Hash) {
	existing, _ := s.children.Load(parent)
	for _, c := range existing {
		if c == child {
			return
		}
	}
	updated := make([]model.Hash, 0, len(existing)+1)
	updated = append(updated, existing...)
	updated = append(updated, child)
	s.children.Store(parent, updated)

	if _, seen := s.blocks.Load(parent); !seen {
		if _, tracked := s.pending[parent]; !tracked {
			s.pending[parent] = s.insertCount
		}
	}
}

func (s *Store) expirePending() {
	for parent, declaredAt := range s.pending {
		if s.insertCount-declaredAt <= s.reorderTolerance {
			continue
		}
		delete(s.pending, parent)
		s.orphanEdges.Add(1)
		s.logger.Warn("orphan edge: parent never arrived within reorder tolerance",
			zap.String("parent", parent.String()))
	}
}

// ChildrenOf returns every block that declared hash as a parent.
func (s *Store) ChildrenOf(hash model.Hash) []model.Hash {
	children, _ := s.children.Load(hash)
	return append([]model.Hash(nil), children...)
}

// ParentsOf returns the declared parents of a block, or nil when the block is
// not in the window.
func (s *Store) ParentsOf(hash model.Hash) []model.Hash {
	block, ok := s.blocks.Load(hash)
	if !ok {
		return nil
	}
	return append([]model.Hash(nil), block.Parents...)
}

// Block returns the current record for a hash.
func (s *Store) Block(hash model.Hash) (*model.BlockRecord, bool) {
	return s.blocks.Load(hash)
}

// Transaction returns the current record for a transaction id.
func (s *Store) Transaction(id model.Hash) (*model.TransactionRecord, bool) {
	return s.transactions.Load(id)
}

// ReplaceBlock stores an updated copy of a block record. Used by the chain
// state tracker for copy-on-write membership changes.
func (s *Store) ReplaceBlock(block *model.BlockRecord) {
	s.blocks.Store(block.Hash, block)
}

// ReplaceTransaction stores an updated copy of a transaction record.
func (s *Store) ReplaceTransaction(tx *model.TransactionRecord) {
	s.transactions.Store(tx.ID, tx)
}

// OrphanEdges reports how many edges expired without their parent arriving.
func (s *Store) OrphanEdges() uint64 {
	return s.orphanEdges.Load()
}

// Sizes reports current entity counts for logging and gauges.
func (s *Store) Sizes() (blocks, transactions, edges int) {
	return s.blocks.Size(), s.transactions.Size(), s.children.Size()
}
