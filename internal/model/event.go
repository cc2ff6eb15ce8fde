package model

// Event is a canonical ingestion event produced by the normalizer.
// The set of variants is closed; consumers dispatch with a type switch.
type Event interface {
	// Sequence is the per-session delivery order assigned by the event
	// source. Ingestion treats any gap or regression as fatal.
	Sequence() uint64
	isEvent()
}

// Acceptance records one chain block and the transactions it accepted.
type Acceptance struct {
	AcceptingBlock Hash
	// BlueScore of the accepting block, as reported by the notification.
	BlueScore     uint64
	AcceptedTxIDs []Hash
}

// BlockAdded carries a new DAG block and its normalized transactions.
type BlockAdded struct {
	Seq          uint64
	Block        *BlockRecord
	Transactions []*TransactionRecord
}

func (e BlockAdded) Sequence() uint64 { return e.Seq }
func (BlockAdded) isEvent()           {}

// ChainChanged carries a virtual selected-parent chain update: blocks removed
// from the chain (reorg) and newly added chain blocks with acceptance data.
// Removed blocks are delivered before added ones.
type ChainChanged struct {
	Seq     uint64
	Removed []Hash
	Added   []Acceptance
}

func (e ChainChanged) Sequence() uint64 { return e.Seq }
func (ChainChanged) isEvent()           {}
