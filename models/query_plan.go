package models

// Measure is an aggregate expression in a query plan.
type Measure struct {
	Fn     string `json:"fn" validate:"required"`
	Column string `json:"column" validate:"required"`
}

// Filter is a single WHERE predicate in a query plan. Value may be a
// scalar, or a list for IN / BETWEEN operators.
type Filter struct {
	Column   string      `json:"column" validate:"required"`
	Operator string      `json:"operator" validate:"required"`
	Value    interface{} `json:"value"`
}

// QueryPlan is a declarative description of an analytic query prior
// to SQL rendering. It is transient: only the rendered SQL execution
// is logged, never the plan itself.
type QueryPlan struct {
	Source     string    `json:"source" validate:"required"`
	Dimensions []string  `json:"dimensions,omitempty"`
	Measures   []Measure `json:"measures,omitempty"`
	Filters    []Filter  `json:"filters,omitempty"`
	Grain      string    `json:"grain,omitempty"`
	TopN       int       `json:"top_n,omitempty" validate:"gte=0"`
}
