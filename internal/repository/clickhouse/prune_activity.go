package clickhouse

import (
	"context"
	"fmt"
	"time"
)

// PruneActivity deletes activity rows whose minute lies before the
// retention cutoff, one table at a time.
func (r *Repository) PruneActivity(ctx context.Context, cutoff time.Time) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("prune_activity", err, start)
	}()

	for _, query := range pruneActivityQueries() {
		if err = r.conn.Exec(ctx, query, cutoff.UTC()); err != nil {
			return fmt.Errorf("prune activity: %w", err)
		}
	}
	return nil
}

func pruneActivityQueries() []string {
	return []string{
		`DELETE FROM protocol_activity_minutely WHERE minute < ?`,
		`DELETE FROM address_activity_minutely WHERE minute < ?`,
	}
}
