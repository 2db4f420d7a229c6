// package plans provides the static lookup table mapping a tenant's
// plan id to the quota and rate parameters enforced during admission
package plans

// UnlimitedMonthlyRequests is the monthly cap value for plans
// without a monthly request limit
const UnlimitedMonthlyRequests = int64(-1)

// Plan wraps the admission parameters for a single plan tier
type Plan struct {
	// ID is the plan identifier stored on tenant records
	ID string
	// MonthlyRequestLimit is the number of requests allowed per
	// calendar month, UnlimitedMonthlyRequests when unbounded
	MonthlyRequestLimit int64
	// RequestsPerSecond is the sustained rate the token bucket refills at
	RequestsPerSecond float64
}

// Unlimited returns true when the plan has no monthly request cap
func (p Plan) Unlimited() bool {
	return p.MonthlyRequestLimit < 0
}

var plansByID = map[string]Plan{
	"free": {
		ID:                  "free",
		MonthlyRequestLimit: 100_000,
		RequestsPerSecond:   2,
	},
	"growth": {
		ID:                  "growth",
		MonthlyRequestLimit: 5_000_000,
		RequestsPerSecond:   25,
	},
	"business": {
		ID:                  "business",
		MonthlyRequestLimit: 50_000_000,
		RequestsPerSecond:   100,
	},
	"unlimited": {
		ID:                  "unlimited",
		MonthlyRequestLimit: UnlimitedMonthlyRequests,
		RequestsPerSecond:   500,
	},
}

// Lookup returns the plan for the provided plan id and
// whether the plan id is known
func Lookup(planID string) (Plan, bool) {
	plan, found := plansByID[planID]
	return plan, found
}
