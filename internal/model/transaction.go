package model

// TransactionClass distinguishes coinbase from regular transactions.
type TransactionClass string

var (
	// ClassNative marks a regular value-transfer transaction.
	ClassNative TransactionClass = "native"
	// ClassCoinbase marks a block reward transaction. Coinbase fee is always 0.
	ClassCoinbase TransactionClass = "coinbase"
)

// Protocol classifies a transaction by the higher-level protocol carried in
// its payload or inscription scripts.
type Protocol string

var (
	ProtocolNative  Protocol = "native"
	ProtocolKRC     Protocol = "krc"
	ProtocolKNS     Protocol = "kns"
	ProtocolKasia   Protocol = "kasia"
	ProtocolKasplex Protocol = "kasplex"
)

// TransactionInput is one resolved input of a cached transaction.
// SpentAmount and Address come from the node-resolved UTXO entry and may be
// absent when the node did not include it.
type TransactionInput struct {
	PreviousTxID    Hash
	SignatureScript []byte
	SpentAmount     *uint64
	Address         string
}

// TransactionOutput is one output of a cached transaction.
type TransactionOutput struct {
	Amount  uint64
	Address string
}

// TransactionRecord is a transaction held in the in-memory DAG window.
//
// Fee is recomputed from input/output totals, never trusted from upstream.
// A nil Fee means the totals were unavailable: the transaction is excluded
// from fee rankings rather than treated as zero-fee.
type TransactionRecord struct {
	ID        Hash
	BlockHash Hash
	BlockTime uint64 // unix milliseconds, from the containing block
	Class     TransactionClass
	Protocol  Protocol
	Mass      uint64
	Payload   []byte
	Inputs    []TransactionInput
	Outputs   []TransactionOutput
	// InputAmount is nil when any input lacks a resolved UTXO entry.
	InputAmount  *uint64
	OutputAmount uint64
	// Fee = InputAmount − OutputAmount clamped to ≥ 0; nil when unknown,
	// always 0 for coinbase.
	Fee *uint64
	// AcceptingBlock is the chain block that finalized this transaction,
	// nil while acceptance is pending. Set only by the chain state tracker.
	AcceptingBlock *Hash
	// Blocks lists every block that includes this transaction. A transaction
	// can appear in multiple DAG blocks.
	Blocks []Hash
}

// Clone returns a deep-enough copy safe for copy-on-write updates.
func (t *TransactionRecord) Clone() *TransactionRecord {
	c := *t
	c.Blocks = append([]Hash(nil), t.Blocks...)
	if t.AcceptingBlock != nil {
		h := *t.AcceptingBlock
		c.AcceptingBlock = &h
	}
	return &c
}
