package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

// UpsertProtocolActivity stores per-minute protocol rollups. A re-flush of
// the same (minute, protocol) bucket replaces the earlier row.
func (r *Repository) UpsertProtocolActivity(ctx context.Context, buckets []model.ActivityBucket) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("upsert_protocol_activity", err, start)
	}()

	if len(buckets) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, upsertProtocolActivityQuery())
	if err != nil {
		return fmt.Errorf("prepare protocol activity batch: %w", err)
	}

	for _, b := range buckets {
		if err = batch.Append(
			time.UnixMilli(int64(b.Key.MinuteUnixMs)).UTC(),
			b.Key.Dimension,
			b.TxCount,
			b.Sum,
		); err != nil {
			return fmt.Errorf("append protocol activity: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send protocol activity batch: %w", err)
	}

	r.metrics.ObserveRows("upsert_protocol_activity", len(buckets))
	return nil
}

func upsertProtocolActivityQuery() string {
	return `
INSERT INTO protocol_activity_minutely (
	minute,
	protocol,
	tx_count,
	total_fees
) VALUES`
}
