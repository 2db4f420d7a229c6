package database

import (
	"time"

	"github.com/uptrace/bun"
)

// ProxiedRequestMetric contains request metrics for a single request
// proxied by the proxy service. Tenant identity is deliberately
// reduced to the plan id so the metric table never stores bearer
// tokens or caller addresses.
type ProxiedRequestMetric struct {
	bun.BaseModel `bun:"table:proxied_request_metrics,alias:prm"`

	ID                          int64 `bun:",pk,autoincrement"`
	ChainID                     string
	MethodName                  string
	BlockNumber                 *int64
	ResponseLatencyMilliseconds int64
	ResponseHTTPStatusCode      int64
	CacheHit                    bool
	PlanID                      string
	RequestTime                 time.Time
}
