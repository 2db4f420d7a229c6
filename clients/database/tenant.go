package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// TenantRecord contains the identity, plan and usage state for a
// single tenant of the proxy service. Records are keyed by the
// tenant's opaque bearer token.
type TenantRecord struct {
	bun.BaseModel `bun:"table:tenants,alias:t"`

	Token        string `bun:",pk"`
	PlanID       string
	CreatedAt    time.Time
	MonthCounter int64
	MonthResetAt time.Time
	Address      string
}

// GetTenantByToken fetches the tenant record for the provided token,
// returning ErrTenantNotFound when no record exists
func (pg *PostgresClient) GetTenantByToken(ctx context.Context, token string) (*TenantRecord, error) {
	tenant := &TenantRecord{}

	err := pg.NewSelect().Model(tenant).Where("token = ?", token).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	return tenant, nil
}

// UpdateTenantUsage persists the usage counters for the tenant with
// the provided token. Last write wins; the admission layer serializes
// writers per tenant so no read-modify-write cycle is needed here.
func (pg *PostgresClient) UpdateTenantUsage(ctx context.Context, token string, monthCounter int64, monthResetAt time.Time) error {
	_, err := pg.NewUpdate().
		Model((*TenantRecord)(nil)).
		Set("month_counter = ?", monthCounter).
		Set("month_reset_at = ?", monthResetAt).
		Where("token = ?", token).
		Exec(ctx)

	return err
}
