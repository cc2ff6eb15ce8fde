package normalizer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/model"
	"github.com/dagpulse/dagpulse-backend/pkg/safe"
)

// CoinbaseSubnetworkID is the 20-byte subnetwork id reserved for coinbase
// transactions, hex-encoded.
const CoinbaseSubnetworkID = "0100000000000000000000000000000000000000"

// ErrOutOfOrder reports a gap or regression in the event sequence. Ordering
// is assumed from the source, not corrected: the ingestion session must be
// torn down and resynchronized.
var ErrOutOfOrder = errors.New("event sequence gap or regression")

// Normalizer validates event ordering and converts raw node payloads into
// canonical model records. It is not safe for concurrent use; there is one
// normalizer per ingestion session.
type Normalizer struct {
	logger  *zap.Logger
	lastSeq uint64
	started bool
}

func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger.Named("normalizer")}
}

// Normalize converts one raw event. The first event of a session fixes the
// sequence base; every later event must follow its predecessor exactly.
func (n *Normalizer) Normalize(raw RawEvent) (model.Event, error) {
	if n.started && raw.Seq != n.lastSeq+1 {
		return nil, fmt.Errorf("%w: got seq %d after %d", ErrOutOfOrder, raw.Seq, n.lastSeq)
	}
	n.lastSeq = raw.Seq
	n.started = true

	switch {
	case raw.BlockAdded != nil:
		return n.normalizeBlock(raw.Seq, raw.BlockAdded)
	case raw.ChainChanged != nil:
		return normalizeChainChanged(raw.Seq, raw.ChainChanged)
	default:
		return nil, fmt.Errorf("raw event seq %d has no payload", raw.Seq)
	}
}

func (n *Normalizer) normalizeBlock(seq uint64, raw *RawBlock) (model.Event, error) {
	hash, err := model.ParseHash(raw.Header.Hash)
	if err != nil {
		return nil, fmt.Errorf("block hash: %w", err)
	}

	var parents []model.Hash
	if len(raw.Header.Parents) > 0 {
		parents = make([]model.Hash, 0, len(raw.Header.Parents[0]))
		for _, p := range raw.Header.Parents[0] {
			ph, err := model.ParseHash(p)
			if err != nil {
				return nil, fmt.Errorf("parent of block %s: %w", hash, err)
			}
			parents = append(parents, ph)
		}
	}

	var selectedParent *model.Hash
	if raw.VerboseData.SelectedParentHash != "" {
		sp, err := model.ParseHash(raw.VerboseData.SelectedParentHash)
		if err != nil {
			return nil, fmt.Errorf("selected parent of block %s: %w", hash, err)
		}
		selectedParent = &sp
	}
	if selectedParent == nil && len(parents) > 0 {
		return nil, fmt.Errorf("block %s has parents but no selected parent", hash)
	}

	block := &model.BlockRecord{
		Hash:           hash,
		Timestamp:      raw.Header.Timestamp,
		DAAScore:       raw.Header.DAAScore,
		BlueScore:      raw.Header.BlueScore,
		BlueWork:       raw.Header.BlueWork,
		SelectedParent: selectedParent,
		Parents:        parents,
		IsChainBlock:   false, // only the chain state tracker flips this
		SeenAt:         time.Now().UTC(),
	}

	txs := make([]*model.TransactionRecord, 0, len(raw.Transactions))
	for i := range raw.Transactions {
		tx, err := n.normalizeTransaction(&raw.Transactions[i], block)
		if err != nil {
			return nil, fmt.Errorf("transaction %d of block %s: %w", i, hash, err)
		}
		block.Transactions = append(block.Transactions, tx.ID)
		txs = append(txs, tx)
	}

	return model.BlockAdded{Seq: seq, Block: block, Transactions: txs}, nil
}

func (n *Normalizer) normalizeTransaction(raw *RawTransaction, block *model.BlockRecord) (*model.TransactionRecord, error) {
	id, err := model.ParseHash(raw.VerboseData.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("transaction id: %w", err)
	}

	payload, err := hex.DecodeString(raw.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload of tx %s: %w", id, err)
	}

	class := model.ClassNative
	if raw.SubnetworkID == CoinbaseSubnetworkID {
		class = model.ClassCoinbase
	}

	inputs := make([]model.TransactionInput, 0, len(raw.Inputs))
	inputTotal := uint64(0)
	inputsResolved := true
	for _, in := range raw.Inputs {
		prev, err := model.ParseHash(in.PreviousOutpoint.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("previous outpoint of tx %s: %w", id, err)
		}
		script, err := hex.DecodeString(in.SignatureScript)
		if err != nil {
			return nil, fmt.Errorf("signature script of tx %s: %w", id, err)
		}
		mi := model.TransactionInput{PreviousTxID: prev, SignatureScript: script}
		if in.UTXOEntry != nil {
			amount := in.UTXOEntry.Amount
			mi.SpentAmount = &amount
			mi.Address = in.UTXOEntry.Address
			inputTotal, err = safe.AddChecked(inputTotal, amount)
			if err != nil {
				return nil, fmt.Errorf("input total of tx %s: %w", id, err)
			}
		} else {
			inputsResolved = false
		}
		inputs = append(inputs, mi)
	}

	outputs := make([]model.TransactionOutput, 0, len(raw.Outputs))
	outputTotal := uint64(0)
	for _, out := range raw.Outputs {
		outputs = append(outputs, model.TransactionOutput{
			Amount:  out.Amount,
			Address: out.VerboseData.Address,
		})
		outputTotal, err = safe.AddChecked(outputTotal, out.Amount)
		if err != nil {
			return nil, fmt.Errorf("output total of tx %s: %w", id, err)
		}
	}

	tx := &model.TransactionRecord{
		ID:           id,
		BlockHash:    block.Hash,
		BlockTime:    raw.VerboseData.BlockTime,
		Class:        class,
		Mass:         raw.Mass,
		Payload:      payload,
		Inputs:       inputs,
		Outputs:      outputs,
		OutputAmount: outputTotal,
		Blocks:       []model.Hash{block.Hash},
	}
	if tx.BlockTime == 0 {
		tx.BlockTime = block.Timestamp
	}

	// Fee is recomputed, never trusted from upstream. Unknown input totals
	// leave it nil so the transaction stays out of the fee ranking.
	switch {
	case class == model.ClassCoinbase:
		zero := uint64(0)
		tx.Fee = &zero
		tx.Protocol = model.ProtocolNative
	case inputsResolved:
		tx.InputAmount = &inputTotal
		fee := safe.SubClamp(inputTotal, outputTotal)
		tx.Fee = &fee
		tx.Protocol = detectProtocol(payload, inputs)
	default:
		n.logger.Debug("fee unknown, input totals unresolved", zap.String("tx", id.String()))
		tx.Protocol = detectProtocol(payload, inputs)
	}

	return tx, nil
}

func normalizeChainChanged(seq uint64, raw *RawChainChanged) (model.Event, error) {
	removed := make([]model.Hash, 0, len(raw.RemovedChainBlockHashes))
	for _, h := range raw.RemovedChainBlockHashes {
		hash, err := model.ParseHash(h)
		if err != nil {
			return nil, fmt.Errorf("removed chain block: %w", err)
		}
		removed = append(removed, hash)
	}

	added := make([]model.Acceptance, 0, len(raw.AcceptedTransactionIDs))
	for _, acc := range raw.AcceptedTransactionIDs {
		accepting, err := model.ParseHash(acc.AcceptingBlockHash)
		if err != nil {
			return nil, fmt.Errorf("accepting block: %w", err)
		}
		txIDs := make([]model.Hash, 0, len(acc.AcceptedTransactionIDs))
		for _, t := range acc.AcceptedTransactionIDs {
			txID, err := model.ParseHash(t)
			if err != nil {
				return nil, fmt.Errorf("accepted tx of block %s: %w", accepting, err)
			}
			txIDs = append(txIDs, txID)
		}
		added = append(added, model.Acceptance{
			AcceptingBlock: accepting,
			BlueScore:      acc.AcceptingBlueScore,
			AcceptedTxIDs:  txIDs,
		})
	}

	return model.ChainChanged{Seq: seq, Removed: removed, Added: added}, nil
}
