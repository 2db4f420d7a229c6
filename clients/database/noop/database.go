// package noop provides database clients that do nothing, used when
// the service runs without a database dependency
package noop

import (
	"context"
	"time"

	"github.com/veil-labs/veil-proxy-service/clients/database"
)

// Noop is a database client that does nothing. With a noop tenant
// store every authenticated request fails closed since no tenant
// record can ever be found.
type Noop struct{}

var (
	_ database.TenantStore  = (*Noop)(nil)
	_ database.MetricsStore = (*Noop)(nil)
)

func New() *Noop {
	return &Noop{}
}

func (e *Noop) GetTenantByToken(ctx context.Context, token string) (*database.TenantRecord, error) {
	return nil, database.ErrTenantNotFound
}

func (e *Noop) UpdateTenantUsage(ctx context.Context, token string, monthCounter int64, monthResetAt time.Time) error {
	return nil
}

func (e *Noop) SaveProxiedRequestMetric(ctx context.Context, prm *database.ProxiedRequestMetric) error {
	return nil
}

func (e *Noop) DeleteProxiedRequestMetricsOlderThanNDays(ctx context.Context, days int64) error {
	return nil
}

func (e *Noop) HealthCheck() error {
	return nil
}
