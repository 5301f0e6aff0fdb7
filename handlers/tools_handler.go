package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/contract"
	"github.com/dataplane/query-gateway/middleware"
	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/services/query"
	"github.com/dataplane/query-gateway/utils"
)

// RunQueryRequest is the body for POST /api/v1/tools/run_query
type RunQueryRequest struct {
	SQL string `json:"sql" validate:"required"`
}

// QueryService defines the interface for tool operations
type QueryService interface {
	// RunSQL validates and executes caller-supplied SQL
	RunSQL(ctx context.Context, principal *models.PrincipalContext, sqlText string) (*query.QueryResult, error)

	// RunPlan compiles, validates and executes a declarative plan
	RunPlan(ctx context.Context, principal *models.PrincipalContext, plan *models.QueryPlan) (*query.QueryResult, error)

	// ValidatePlan compiles and checks a plan without executing it
	ValidatePlan(ctx context.Context, plan *models.QueryPlan) (*query.PlanValidation, error)

	// ListSources enumerates the addressable sources
	ListSources() []contract.SourceInfo
}

// ToolsHandler handles the tool-surface HTTP requests
type ToolsHandler struct {
	svc    QueryService
	logger *zap.Logger
}

// NewToolsHandler creates a new ToolsHandler
func NewToolsHandler(svc QueryService, logger *zap.Logger) *ToolsHandler {
	return &ToolsHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleRunQuery handles POST /api/v1/tools/run_query
func (h *ToolsHandler) HandleRunQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req RunQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.svc.RunSQL(ctx, principal, req.SQL)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("run_query completed",
		zap.String("request_id", requestID),
		zap.String("principal", principal.Principal),
		zap.String("query_id", result.QueryID),
		zap.Int64("row_count", result.RowCount))

	_ = utils.WriteOK(w, result)
}

// HandleComposeQueryPlan handles POST /api/v1/tools/compose_query_plan
func (h *ToolsHandler) HandleComposeQueryPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	plan, ok := h.decodePlan(w, r)
	if !ok {
		return
	}

	result, err := h.svc.RunPlan(ctx, principal, plan)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("compose_query_plan completed",
		zap.String("request_id", requestID),
		zap.String("principal", principal.Principal),
		zap.String("query_id", result.QueryID),
		zap.Int64("row_count", result.RowCount))

	_ = utils.WriteOK(w, result)
}

// HandleValidatePlan handles POST /api/v1/tools/validate_plan
func (h *ToolsHandler) HandleValidatePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plan, ok := h.decodePlan(w, r)
	if !ok {
		return
	}

	result, err := h.svc.ValidatePlan(ctx, plan)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleListSources handles GET /api/v1/tools/list_sources
func (h *ToolsHandler) HandleListSources(w http.ResponseWriter, r *http.Request) {
	sources := h.svc.ListSources()
	_ = utils.WriteOK(w, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

// decodePlan parses and validates the plan body shared by the compose
// and validate endpoints.
func (h *ToolsHandler) decodePlan(w http.ResponseWriter, r *http.Request) (*models.QueryPlan, bool) {
	var plan models.QueryPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return nil, false
	}
	if err := utils.ValidateStruct(&plan); err != nil {
		HandleValidationError(w, err, h.logger)
		return nil, false
	}
	return &plan, true
}
