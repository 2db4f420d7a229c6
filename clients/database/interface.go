// package database provides the persistent record stores backing the
// admission control layer (tenant records) and the request metric sink
package database

import (
	"context"
	"errors"
	"time"
)

// ErrTenantNotFound is returned when no tenant record exists for a token
var ErrTenantNotFound = errors.New("no tenant record found for token")

// TenantStore is the persistence contract for tenant records.
// Records are created by an external provisioning path; the proxy
// only reads them and writes back usage counters.
type TenantStore interface {
	GetTenantByToken(ctx context.Context, token string) (*TenantRecord, error)
	UpdateTenantUsage(ctx context.Context, token string, monthCounter int64, monthResetAt time.Time) error
	HealthCheck() error
}

// MetricsStore is the persistence contract for proxied request metrics
type MetricsStore interface {
	SaveProxiedRequestMetric(ctx context.Context, prm *ProxiedRequestMetric) error
	DeleteProxiedRequestMetricsOlderThanNDays(ctx context.Context, days int64) error
	HealthCheck() error
}
