// Package query orchestrates the tool surface: plan compilation,
// security validation, budget enforcement, execution and auditing.
package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/contract"
	"github.com/dataplane/query-gateway/executor"
	"github.com/dataplane/query-gateway/internal/queryplan"
	"github.com/dataplane/query-gateway/internal/sqlguard"
	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/services"
	"github.com/dataplane/query-gateway/services/eventlog"
)

// Tool names used in audit events.
const (
	ToolRunQuery         = "run_query"
	ToolComposeQueryPlan = "compose_query_plan"
	ToolValidatePlan     = "validate_plan"
)

// QueryResult is the outcome of a successful run.
type QueryResult struct {
	QueryID        string          `json:"query_id"`
	Columns        []string        `json:"columns"`
	Rows           [][]interface{} `json:"rows"`
	RowCount       int64           `json:"row_count"`
	SQL            string          `json:"sql"`
	RuntimeSeconds float64         `json:"runtime_seconds"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// PlanValidation is the outcome of compiling and validating a plan
// without executing it.
type PlanValidation struct {
	SQL      string   `json:"sql"`
	Valid    bool     `json:"valid"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Service wires the compiler, validator and executor behind the
// policy checks every execution must pass.
type Service struct {
	contract  *contract.Contract
	compiler  *queryplan.Compiler
	validator *sqlguard.Validator
	exec      executor.Executor
	events    *eventlog.Service
	logger    *zap.Logger
}

// NewService creates the query orchestration service.
func NewService(c *contract.Contract, exec executor.Executor, events *eventlog.Service, logger *zap.Logger) *Service {
	return &Service{
		contract:  c,
		compiler:  queryplan.NewCompiler(c),
		validator: sqlguard.NewValidator(c),
		exec:      exec,
		events:    events,
		logger:    logger,
	}
}

// RunSQL validates and executes caller-supplied SQL on behalf of the
// principal.
func (s *Service) RunSQL(ctx context.Context, principal *models.PrincipalContext, sqlText string) (*QueryResult, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, services.ErrEmptyStatement
	}
	return s.run(ctx, principal, ToolRunQuery, sqlText, nil)
}

// RunPlan compiles a declarative plan, then validates and executes
// the rendered SQL.
func (s *Service) RunPlan(ctx context.Context, principal *models.PrincipalContext, plan *models.QueryPlan) (*QueryResult, error) {
	compiled, err := s.compiler.Compile(plan)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "failed to compile query plan", err)
	}

	var warnings []string
	if compiled.FallbackApplied {
		warnings = append(warnings, fmt.Sprintf("source %q resolved through the fallback schema", plan.Source))
	}
	return s.run(ctx, principal, ToolComposeQueryPlan, compiled.SQL, warnings)
}

// ValidatePlan compiles the plan and runs validation plus an
// executor-side compile check, without executing anything.
func (s *Service) ValidatePlan(ctx context.Context, plan *models.QueryPlan) (*PlanValidation, error) {
	compiled, err := s.compiler.Compile(plan)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "failed to compile query plan", err)
	}

	out := &PlanValidation{SQL: compiled.SQL, Valid: true}
	if compiled.FallbackApplied {
		out.Warnings = append(out.Warnings, fmt.Sprintf("source %q resolved through the fallback schema", plan.Source))
	}

	if violations := s.validator.Validate(compiled.SQL); len(violations) > 0 {
		out.Valid = false
		out.Reasons = sqlguard.Messages(violations)
		return out, nil
	}

	if err := s.exec.ExplainOnly(ctx, compiled.SQL); err != nil {
		out.Valid = false
		out.Reasons = append(out.Reasons, fmt.Sprintf("compile check failed: %v", err))
	}
	return out, nil
}

// ListSources enumerates the sources the contract allows plans to
// address.
func (s *Service) ListSources() []contract.SourceInfo {
	return s.contract.Sources()
}

// run is the shared enforcement and audit path behind RunSQL and
// RunPlan.
func (s *Service) run(ctx context.Context, principal *models.PrincipalContext, tool, sqlText string, warnings []string) (*QueryResult, error) {
	if violations := s.validator.Validate(sqlText); len(violations) > 0 {
		reasons := sqlguard.Messages(violations)
		s.events.RecordToolFailed(principal.Principal, models.ToolExecutedAttrs{
			Tool:  tool,
			SQL:   sqlText,
			Error: "security rejected: " + strings.Join(reasons, "; "),
		})
		return nil, services.NewDomainError(services.ErrorTypePolicyViolation,
			"statement rejected by security policy", nil).WithDetail("reasons", reasons)
	}

	// Budget enforcement happens here, not at authentication time:
	// the advisory usage snapshot is already on the principal.
	if principal.DailyRuntimeBudgetSeconds > 0 &&
		principal.Usage.DailyRuntimeUsedSeconds >= float64(principal.DailyRuntimeBudgetSeconds) {
		s.events.RecordToolFailed(principal.Principal, models.ToolExecutedAttrs{
			Tool:  tool,
			SQL:   sqlText,
			Error: "daily runtime budget exceeded",
		})
		return nil, services.NewDomainError(services.ErrorTypeQuotaExceeded,
			"daily runtime budget exceeded", nil).
			WithDetail("budget_seconds", principal.DailyRuntimeBudgetSeconds).
			WithDetail("used_seconds", principal.Usage.DailyRuntimeUsedSeconds)
	}

	if principal.MaxRows > 0 {
		if limit, ok := limitValue(sqlText); ok && limit > principal.MaxRows {
			s.events.RecordToolFailed(principal.Principal, models.ToolExecutedAttrs{
				Tool:  tool,
				SQL:   sqlText,
				Error: "row limit exceeds principal maximum",
			})
			return nil, services.NewDomainError(services.ErrorTypeQuotaExceeded,
				"row limit exceeds principal maximum", nil).
				WithDetail("limit", limit).
				WithDetail("max_rows", principal.MaxRows)
		}
	}

	result, err := s.exec.Execute(ctx, sqlText, s.contract.QueryTimeout())
	if err != nil {
		attrs := models.ToolExecutedAttrs{Tool: tool, SQL: sqlText, Error: err.Error()}
		s.events.RecordToolFailed(principal.Principal, attrs)

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.NewDomainError(services.ErrorTypeTimeout,
				"statement timed out", err).
				WithDetail("timeout_seconds", s.contract.Security.QueryTimeoutSeconds)
		}
		return nil, services.WrapExecution("statement execution failed", err)
	}

	runtime := result.Elapsed.Seconds()
	s.events.RecordToolExecuted(principal.Principal, models.ToolExecutedAttrs{
		Tool:           tool,
		SQL:            sqlText,
		QueryID:        result.QueryID,
		RowCount:       result.RowCount,
		RuntimeSeconds: runtime,
	})

	s.logger.Info("executed tool",
		zap.String("tool", tool),
		zap.String("principal", principal.Principal),
		zap.String("query_id", result.QueryID),
		zap.Int64("row_count", result.RowCount),
		zap.Float64("runtime_seconds", runtime))

	return &QueryResult{
		QueryID:        result.QueryID,
		Columns:        result.Columns,
		Rows:           result.Rows,
		RowCount:       result.RowCount,
		SQL:            sqlText,
		RuntimeSeconds: runtime,
		Warnings:       warnings,
	}, nil
}

var reLimit = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)

// limitValue extracts the numeric LIMIT of a statement the validator
// has already approved.
func limitValue(sqlText string) (int, bool) {
	m := reLimit.FindStringSubmatch(sqlText)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
