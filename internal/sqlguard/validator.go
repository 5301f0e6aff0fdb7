// Package sqlguard is the policy engine that vets SQL text before
// execution. It is a denylist-plus-shape validator, not a SQL
// grammar: it trades completeness for auditability and speed. The
// compensating control is that the executing role itself holds
// read-only privileges scoped to one schema, so a validator bypass
// caps out at unauthorized reads, never writes.
package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dataplane/query-gateway/contract"
)

// Rule names carried on violations so callers can react to specific
// failures without parsing messages.
const (
	RuleSelectOnly      = "select_only"
	RuleForbiddenOp     = "forbidden_operation"
	RuleInjection       = "injection_pattern"
	RuleDatabaseScope   = "database_scope"
	RuleRowLimit        = "row_limit"
	RuleSystemNamespace = "system_namespace"
)

// Violation is a single failed policy rule.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Message
}

// Messages extracts the human-readable reason list.
func Messages(violations []Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.Message
	}
	return out
}

var (
	// Statement separator followed by a mutating keyword. Pattern
	// based: legitimate strings can false-positive and obfuscated
	// payloads can slip through; this is defense in depth, not the
	// primary control.
	reStackedMutation = regexp.MustCompile(`(?is);\s*(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|MERGE|GRANT|REVOKE|CALL|EXECUTE)\b`)
	reLineComment     = regexp.MustCompile(`--`)
	reBlockComment    = regexp.MustCompile(`/\*`)
	reDynamicExec     = regexp.MustCompile(`(?i)\b(EXECUTE\s+IMMEDIATE|IDENTIFIER\s*\(|TO_QUERY\s*\()`)

	reThreePartRef = regexp.MustCompile(`\b([A-Za-z_][\w$]*)\.([A-Za-z_][\w$]*)\.([A-Za-z_][\w$]*)`)
	reLimitClause  = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	reSystemRef    = regexp.MustCompile(`(?i)\b(INFORMATION_SCHEMA|ACCOUNT_USAGE|PG_CATALOG|PG_TABLES|SNOWFLAKE)\s*\.`)
)

// Validator checks SQL text against the policy contract. It is a pure
// function of (sql, contract); the contract is immutable for the
// process lifetime.
type Validator struct {
	contract  *contract.Contract
	forbidden []forbiddenOp
}

type forbiddenOp struct {
	keyword string
	re      *regexp.Regexp
}

// NewValidator creates a validator bound to the given contract.
func NewValidator(c *contract.Contract) *Validator {
	forbidden := make([]forbiddenOp, 0, len(c.Security.ForbiddenOperations))
	for _, op := range c.Security.ForbiddenOperations {
		forbidden = append(forbidden, forbiddenOp{
			keyword: strings.ToUpper(op),
			re:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(op) + `\b`),
		})
	}
	return &Validator{contract: c, forbidden: forbidden}
}

// Validate evaluates every policy rule and returns the complete list
// of violations, never short-circuiting, so callers see the full
// reason set. An empty slice means the statement passed.
func (v *Validator) Validate(sql string) []Violation {
	var violations []Violation
	trimmed := strings.TrimSpace(sql)

	// SELECT-only is the primary control: no DML, DDL or control
	// statements pass this gateway.
	if !hasSelectPrefix(trimmed) {
		violations = append(violations, Violation{
			Rule:    RuleSelectOnly,
			Message: "Only SELECT statements are permitted",
		})
	}

	for _, op := range v.forbidden {
		if op.re.MatchString(trimmed) {
			violations = append(violations, Violation{
				Rule:    RuleForbiddenOp,
				Message: fmt.Sprintf("Forbidden operation: %s", op.keyword),
			})
		}
	}

	violations = append(violations, checkInjectionPatterns(trimmed)...)

	for _, match := range reThreePartRef.FindAllStringSubmatch(trimmed, -1) {
		if !strings.EqualFold(match[1], v.contract.Database) {
			violations = append(violations, Violation{
				Rule:    RuleDatabaseScope,
				Message: fmt.Sprintf("Database %s is not allowed, only %s", match[1], v.contract.Database),
			})
		}
	}

	if m := reLimitClause.FindStringSubmatch(trimmed); m == nil {
		violations = append(violations, Violation{
			Rule:    RuleRowLimit,
			Message: "Query must include a LIMIT clause",
		})
	} else {
		limit, err := strconv.Atoi(m[1])
		if err != nil || limit > v.contract.Security.MaxRowsPerQuery {
			violations = append(violations, Violation{
				Rule:    RuleRowLimit,
				Message: fmt.Sprintf("Row limit %s exceeds maximum %d", m[1], v.contract.Security.MaxRowsPerQuery),
			})
		}
	}

	if reSystemRef.MatchString(trimmed) {
		violations = append(violations, Violation{
			Rule:    RuleSystemNamespace,
			Message: "Access to system namespaces is not permitted",
		})
	}

	return violations
}

func hasSelectPrefix(sql string) bool {
	upper := strings.ToUpper(sql)
	return strings.HasPrefix(upper, "SELECT ") || strings.HasPrefix(upper, "SELECT\n") ||
		strings.HasPrefix(upper, "SELECT\t") || upper == "SELECT"
}

func checkInjectionPatterns(sql string) []Violation {
	var violations []Violation

	if reStackedMutation.MatchString(sql) {
		violations = append(violations, Violation{
			Rule:    RuleInjection,
			Message: "Injection pattern: statement separator followed by a mutating keyword",
		})
	}
	if reLineComment.MatchString(sql) {
		violations = append(violations, Violation{
			Rule:    RuleInjection,
			Message: "Injection pattern: line comment",
		})
	}
	if reBlockComment.MatchString(sql) {
		violations = append(violations, Violation{
			Rule:    RuleInjection,
			Message: "Injection pattern: block comment",
		})
	}
	if reDynamicExec.MatchString(sql) {
		violations = append(violations, Violation{
			Rule:    RuleInjection,
			Message: "Injection pattern: dynamic execution call",
		})
	}

	return violations
}
