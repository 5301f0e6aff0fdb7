package models

import "time"

// Capability names recognized by the gateway.
const (
	CapabilityRunQuery         = "run_query"
	CapabilityComposeQueryPlan = "compose_query_plan"
	CapabilityDeployObject     = "deploy_object"
	CapabilityReadEvents       = "read_events"
)

// Usage is the advisory consumption snapshot computed at
// authentication time. Enforcement happens at execution time by
// comparing against the principal's daily runtime budget.
type Usage struct {
	DailyRuntimeUsedSeconds float64   `json:"daily_runtime_used_seconds"`
	AsOf                    time.Time `json:"as_of"`
}

// PrincipalContext is the immutable result of a successful
// authentication: the principal's identity, capability set and limits
// as derived from the most recent permission grant event.
type PrincipalContext struct {
	Principal                 string   `json:"principal"`
	TokenPrefix               string   `json:"token_prefix"`
	AllowedCapabilities       []string `json:"allowed_capabilities"`
	MaxRows                   int      `json:"max_rows"`
	DailyRuntimeBudgetSeconds int      `json:"daily_runtime_budget_seconds"`
	Usage                     Usage    `json:"usage"`
}

// HasCapability reports whether the principal holds the named capability.
func (p *PrincipalContext) HasCapability(capability string) bool {
	for _, c := range p.AllowedCapabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// RemainingRuntimeSeconds returns the runtime budget left for today.
// A zero budget means unlimited.
func (p *PrincipalContext) RemainingRuntimeSeconds() float64 {
	if p.DailyRuntimeBudgetSeconds <= 0 {
		return 0
	}
	remaining := float64(p.DailyRuntimeBudgetSeconds) - p.Usage.DailyRuntimeUsedSeconds
	if remaining < 0 {
		return 0
	}
	return remaining
}
