package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// UpsertAddressActivity stores per-minute address rollups. A re-flush of
// the same (minute, address) bucket replaces the earlier row.
func (r *Repository) UpsertAddressActivity(ctx context.Context, buckets []model.ActivityBucket) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("upsert_address_activity", err, start)
	}()

	if len(buckets) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, upsertAddressActivityQuery())
	if err != nil {
		return fmt.Errorf("prepare address activity batch: %w", err)
	}

	for _, b := range buckets {
		if err = batch.Append(
			time.UnixMilli(int64(b.Key.MinuteUnixMs)).UTC(),
			b.Key.Dimension,
			b.TxCount,
			b.Sum,
		); err != nil {
			return fmt.Errorf("append address activity: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send address activity batch: %w", err)
	}

	r.metrics.ObserveRows("upsert_address_activity", len(buckets))
	return nil
}

func upsertAddressActivityQuery() string {
	return `
INSERT INTO address_activity_minutely (
	minute,
	address,
	tx_count,
	total_spent
) VALUES`
}
