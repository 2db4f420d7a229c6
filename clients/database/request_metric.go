package database

import (
	"context"
	"time"
)

// SaveProxiedRequestMetric saves the provided metric to the database,
// returning error (if any)
func (pg *PostgresClient) SaveProxiedRequestMetric(ctx context.Context, prm *ProxiedRequestMetric) error {
	_, err := pg.NewInsert().Model(prm).Exec(ctx)

	return err
}

// DeleteProxiedRequestMetricsOlderThanNDays deletes all proxied request
// metrics older than the specified days, returning error (if any)
func (pg *PostgresClient) DeleteProxiedRequestMetricsOlderThanNDays(ctx context.Context, days int64) error {
	cutoff := time.Now().AddDate(0, 0, int(-days))

	_, err := pg.NewDelete().
		Model((*ProxiedRequestMetric)(nil)).
		Where("request_time < ?", cutoff).
		Exec(ctx)

	return err
}
