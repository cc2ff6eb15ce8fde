package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// DeleteNotableTransactions removes rows for transactions displaced from
// both rankings. Deleting an absent row is a no-op, so replays are safe.
func (r *Repository) DeleteNotableTransactions(ctx context.Context, ids []model.Hash) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("delete_notable_transactions", err, start)
	}()

	if len(ids) == 0 {
		return nil
	}

	hexIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		hexIDs = append(hexIDs, id.String())
	}

	if err = r.conn.Exec(ctx, deleteNotableTransactionsQuery(), hexIDs); err != nil {
		return fmt.Errorf("delete notable transactions: %w", err)
	}

	r.metrics.ObserveRows("delete_notable_transactions", len(ids))
	return nil
}

func deleteNotableTransactionsQuery() string {
	return `DELETE FROM notable_transactions WHERE transaction_id IN (?)`
}
