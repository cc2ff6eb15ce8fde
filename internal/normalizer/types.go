// Package normalizer converts raw node notifications into canonical records.
package normalizer

// RawEvent is one notification as delivered by the event source. Exactly one
// of BlockAdded or ChainChanged is set. Seq is the per-session delivery order
// assigned by the source.
type RawEvent struct {
	Seq          uint64
	BlockAdded   *RawBlock
	ChainChanged *RawChainChanged
}

// RawBlock mirrors the node's block notification payload.
type RawBlock struct {
	Header       RawHeader        `json:"header"`
	Transactions []RawTransaction `json:"transactions"`
	VerboseData  RawBlockVerbose  `json:"verboseData"`
}

type RawHeader struct {
	Hash      string `json:"hash"`
	Timestamp uint64 `json:"timestamp"`
	DAAScore  uint64 `json:"daaScore"`
	BlueScore uint64 `json:"blueScore"`
	BlueWork  string `json:"blueWork"`
	// Parents is grouped by level; direct parents are level 0.
	Parents [][]string `json:"parents"`
}

type RawBlockVerbose struct {
	SelectedParentHash string `json:"selectedParentHash"`
	IsChainBlock       bool   `json:"isChainBlock"`
}

type RawTransaction struct {
	SubnetworkID string          `json:"subnetworkId"`
	Payload      string          `json:"payload"` // hex
	Mass         uint64          `json:"mass"`
	Inputs       []RawInput      `json:"inputs"`
	Outputs      []RawOutput     `json:"outputs"`
	VerboseData  RawTxVerboseRef `json:"verboseData"`
}

type RawTxVerboseRef struct {
	TransactionID string `json:"transactionId"`
	BlockHash     string `json:"blockHash"`
	BlockTime     uint64 `json:"blockTime"`
}

type RawInput struct {
	PreviousOutpoint RawOutpoint   `json:"previousOutpoint"`
	SignatureScript  string        `json:"signatureScript"` // hex
	UTXOEntry        *RawUTXOEntry `json:"utxoEntry,omitempty"`
}

type RawOutpoint struct {
	TransactionID string `json:"transactionId"`
	Index         uint32 `json:"index"`
}

// RawUTXOEntry is the node-resolved previous output of an input. Absent when
// the node could not resolve it, in which case the fee is unknown.
type RawUTXOEntry struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"scriptPublicKeyAddress"`
}

type RawOutput struct {
	Amount      uint64           `json:"amount"`
	VerboseData RawOutputVerbose `json:"verboseData"`
}

type RawOutputVerbose struct {
	Address string `json:"scriptPublicKeyAddress"`
}

// RawChainChanged mirrors the virtual selected-parent chain change
// notification: removed chain blocks plus acceptance data for added ones.
type RawChainChanged struct {
	RemovedChainBlockHashes []string        `json:"removedChainBlockHashes"`
	AcceptedTransactionIDs  []RawAcceptance `json:"acceptedTransactionIds"`
}

type RawAcceptance struct {
	AcceptingBlockHash     string   `json:"acceptingBlockHash"`
	AcceptingBlueScore     uint64   `json:"acceptingBlueScore"`
	AcceptedTransactionIDs []string `json:"acceptedTransactionIds"`
}
