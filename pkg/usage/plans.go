package usage

import "time"

// Metric types metered per tenant
const (
	MetricAPICalls       = "api_calls"
	MetricFlowExecutions = "flow_executions"
	MetricStorageMB      = "storage_mb"
	MetricComputeMinutes = "compute_minutes"
	MetricTeamMembers    = "team_members"
)

// Unlimited is the plan limit that disables a quota
const Unlimited int64 = -1

// Metrics lists every metered metric in display order
var Metrics = []string{
	MetricAPICalls,
	MetricFlowExecutions,
	MetricStorageMB,
	MetricComputeMinutes,
	MetricTeamMembers,
}

// FreePlanID names the implicit plan of tenants without a subscription
const FreePlanID = "free"

// FreePlanLimits returns the limits applied to tenants without a subscription.
// Metrics missing from a plan have a limit of zero.
func FreePlanLimits() map[string]int64 {
	return map[string]int64{
		MetricAPICalls:       1000,
		MetricFlowExecutions: 100,
		MetricStorageMB:      100,
		MetricComputeMinutes: 60,
		MetricTeamMembers:    1,
	}
}

// CalendarMonth returns the UTC calendar month containing t as [start, end)
func CalendarMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
