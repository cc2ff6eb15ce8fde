package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// UpsertNotableTransactions stores notable-transaction rows. Rows replace
// earlier versions with the same transaction id.
func (r *Repository) UpsertNotableTransactions(ctx context.Context, rows []model.NotableTransaction) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("upsert_notable_transactions", err, start)
	}()

	if len(rows) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, upsertNotableTransactionsQuery())
	if err != nil {
		return fmt.Errorf("prepare notable transactions batch: %w", err)
	}

	for _, row := range rows {
		if err = batch.Append(
			row.TxID.String(),
			row.Fee,
			row.Amount,
			string(row.Protocol),
			row.Timestamp,
		); err != nil {
			return fmt.Errorf("append notable transaction: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send notable transactions batch: %w", err)
	}

	r.metrics.ObserveRows("upsert_notable_transactions", len(rows))
	return nil
}

func upsertNotableTransactionsQuery() string {
	return `
INSERT INTO notable_transactions (
	transaction_id,
	fee,
	amount,
	protocol,
	timestamp
) VALUES`
}
