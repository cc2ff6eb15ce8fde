package model

import "time"

// BlockRecord is a block held in the in-memory DAG window.
//
// Records are treated as immutable once stored; components that need to change
// chain membership or acceptance state store a modified copy. Only the chain
// state tracker flips IsChainBlock.
type BlockRecord struct {
	Hash      Hash
	Timestamp uint64 // unix milliseconds, from the block header
	DAAScore  uint64
	BlueScore uint64
	BlueWork  string // hex-encoded cumulative work
	// SelectedParent is nil only for the DAG's genesis block.
	SelectedParent *Hash
	Parents        []Hash
	IsChainBlock   bool
	Transactions   []Hash
	SeenAt         time.Time
}

// Minute returns the minute-aligned unix-millisecond bucket of the block timestamp.
func (b *BlockRecord) Minute() uint64 {
	return MinuteBucket(b.Timestamp)
}

// MinuteBucket truncates a unix-millisecond timestamp to the start of its minute.
func MinuteBucket(unixMs uint64) uint64 {
	return unixMs - unixMs%60_000
}
