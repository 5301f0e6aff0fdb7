// Package queryplan renders declarative query plans into SQL. The
// compiler never trusts its own output: every rendered statement is
// passed through sqlguard before execution.
package queryplan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dataplane/query-gateway/contract"
	"github.com/dataplane/query-gateway/models"
)

// identifiers are restricted to plain column/function names so plan
// fields can never smuggle SQL fragments past the renderer.
var reIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

var allowedOperators = map[string]bool{
	"=": true, "!=": true, "<>": true,
	">": true, "<": true, ">=": true, "<=": true,
	"LIKE": true, "ILIKE": true,
	"IN": true, "BETWEEN": true,
	"IS": true, "IS NOT": true,
}

var allowedGrains = map[string]bool{
	"hour": true, "day": true, "week": true, "month": true, "quarter": true, "year": true,
}

// Compiled is the result of rendering a plan.
type Compiled struct {
	SQL            string `json:"sql"`
	FullyQualified string `json:"full_name"`
	// FallbackApplied is true when the plan source resolved through
	// the contract's fallback schema; callers must treat it as a
	// compile warning, not a silent success.
	FallbackApplied bool `json:"fallback_applied"`
}

// Compiler renders query plans against an immutable policy contract.
type Compiler struct {
	contract *contract.Contract
}

// NewCompiler creates a compiler bound to the given contract.
func NewCompiler(c *contract.Contract) *Compiler {
	return &Compiler{contract: c}
}

// Compile renders the plan to SQL in fixed clause order:
// SELECT / FROM / WHERE / GROUP BY / ORDER BY / LIMIT.
func (c *Compiler) Compile(plan *models.QueryPlan) (*Compiled, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is required")
	}

	res, err := c.contract.ResolveSource(plan.Source)
	if err != nil {
		return nil, err
	}

	if plan.Grain != "" && !allowedGrains[strings.ToLower(plan.Grain)] {
		return nil, fmt.Errorf("unsupported grain: %s", plan.Grain)
	}

	selectParts, err := buildSelect(plan)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectParts, ", "))
	sb.WriteString("\nFROM ")
	sb.WriteString(res.FullyQualified)

	if len(plan.Filters) > 0 {
		conditions, err := buildFilters(plan.Filters)
		if err != nil {
			return nil, err
		}
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	if len(plan.Dimensions) > 0 && len(plan.Measures) > 0 {
		sb.WriteString("\nGROUP BY ")
		sb.WriteString(strings.Join(plan.Dimensions, ", "))
	}

	if len(plan.Measures) > 0 {
		sb.WriteString("\nORDER BY ")
		sb.WriteString(measureAlias(plan.Measures[0]))
		sb.WriteString(" DESC")
	}

	limit := plan.TopN
	if limit <= 0 {
		limit = c.contract.Security.MaxRowsPerQuery
	}
	fmt.Fprintf(&sb, "\nLIMIT %d", limit)

	return &Compiled{
		SQL:             sb.String(),
		FullyQualified:  res.FullyQualified,
		FallbackApplied: res.Fallback,
	}, nil
}

func buildSelect(plan *models.QueryPlan) ([]string, error) {
	var parts []string

	for _, dim := range plan.Dimensions {
		if !reIdentifier.MatchString(dim) {
			return nil, fmt.Errorf("invalid dimension: %s", dim)
		}
		parts = append(parts, dim)
	}

	for _, m := range plan.Measures {
		fn := strings.ToUpper(m.Fn)
		if !reIdentifier.MatchString(fn) {
			return nil, fmt.Errorf("invalid measure function: %s", m.Fn)
		}
		if m.Column != "*" && !reIdentifier.MatchString(m.Column) {
			return nil, fmt.Errorf("invalid measure column: %s", m.Column)
		}
		parts = append(parts, fmt.Sprintf("%s(%s) AS %s", fn, m.Column, measureAlias(m)))
	}

	if len(parts) == 0 {
		parts = []string{"*"}
	}
	return parts, nil
}

// measureAlias names a measure expression, e.g. COUNT_ALL for
// COUNT(*) or SUM_AMOUNT for SUM(AMOUNT).
func measureAlias(m models.Measure) string {
	col := m.Column
	if col == "*" {
		col = "ALL"
	}
	return strings.ToUpper(m.Fn) + "_" + strings.ToUpper(col)
}

func buildFilters(filters []models.Filter) ([]string, error) {
	var conditions []string
	for _, f := range filters {
		if !reIdentifier.MatchString(f.Column) {
			return nil, fmt.Errorf("invalid filter column: %s", f.Column)
		}
		op := strings.ToUpper(strings.TrimSpace(f.Operator))
		if !allowedOperators[op] {
			return nil, fmt.Errorf("unsupported filter operator: %s", f.Operator)
		}

		switch op {
		case "IN":
			values, ok := toSlice(f.Value)
			if !ok || len(values) == 0 {
				return nil, fmt.Errorf("IN filter on %s requires a non-empty list", f.Column)
			}
			quoted := make([]string, len(values))
			for i, v := range values {
				quoted[i] = quoteValue(v)
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(quoted, ",")))
		case "BETWEEN":
			values, ok := toSlice(f.Value)
			if !ok || len(values) != 2 {
				return nil, fmt.Errorf("BETWEEN filter on %s requires exactly two values", f.Column)
			}
			conditions = append(conditions, fmt.Sprintf("%s BETWEEN %s AND %s",
				f.Column, quoteValue(values[0]), quoteValue(values[1])))
		default:
			conditions = append(conditions, fmt.Sprintf("%s %s %s", f.Column, op, quoteValue(f.Value)))
		}
	}
	return conditions, nil
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch vv := v.(type) {
	case []interface{}:
		return vv, true
	case []string:
		out := make([]interface{}, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// quoteValue renders a filter value as a SQL literal. Strings are
// single-quoted with embedded quotes doubled so free-text values can
// never terminate the literal.
func quoteValue(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if vv {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return fmt.Sprintf("%d", vv)
	case int64:
		return fmt.Sprintf("%d", vv)
	case float64:
		// JSON numbers decode as float64; render integral values bare
		if vv == float64(int64(vv)) {
			return fmt.Sprintf("%d", int64(vv))
		}
		return fmt.Sprintf("%g", vv)
	default:
		escaped := strings.ReplaceAll(fmt.Sprintf("%v", vv), "'", "''")
		return "'" + escaped + "'"
	}
}
