package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// LoadNotableTransactions reads back the durable notable set, collapsed to
// the latest row version per transaction. Used to warm the rankings on
// startup.
func (r *Repository) LoadNotableTransactions(ctx context.Context) ([]model.NotableTransaction, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("load_notable_transactions", err, start)
	}()

	rows, err := r.conn.Query(ctx, loadNotableTransactionsQuery())
	if err != nil {
		return nil, fmt.Errorf("query notable transactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", closeErr)
		}
	}()

	var out []model.NotableTransaction
	for rows.Next() {
		var (
			hexID    string
			fee      *uint64
			amount   uint64
			protocol string
			ts       uint64
		)
		if err = rows.Scan(&hexID, &fee, &amount, &protocol, &ts); err != nil {
			return nil, fmt.Errorf("scan notable transaction: %w", err)
		}
		id, parseErr := model.ParseHash(hexID)
		if parseErr != nil {
			err = fmt.Errorf("parse transaction id %q: %w", hexID, parseErr)
			return nil, err
		}
		out = append(out, model.NotableTransaction{
			TxID:      id,
			Fee:       fee,
			Amount:    amount,
			Protocol:  model.Protocol(protocol),
			Timestamp: ts,
		})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notable transactions: %w", err)
	}

	return out, nil
}

func loadNotableTransactionsQuery() string {
	return `
SELECT
	transaction_id,
	fee,
	amount,
	protocol,
	timestamp
FROM notable_transactions FINAL`
}
