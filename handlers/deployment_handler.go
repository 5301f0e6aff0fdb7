package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/middleware"
	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/services/deploy"
	"github.com/dataplane/query-gateway/utils"
)

// DeploymentService defines the interface for deployment operations
type DeploymentService interface {
	// Deploy attempts a versioned deployment of a schema object
	Deploy(ctx context.Context, req deploy.DeployRequest) (*deploy.DeployResult, error)

	// CurrentVersion returns the latest deployment record for an object
	CurrentVersion(ctx context.Context, objectType, objectName string) (*models.SchemaObject, error)

	// ListObjects returns the latest deployment record per object
	ListObjects(ctx context.Context) ([]*models.SchemaObject, error)
}

// DeploymentHandler handles deployment-related HTTP requests
type DeploymentHandler struct {
	svc    DeploymentService
	logger *zap.Logger
}

// NewDeploymentHandler creates a new DeploymentHandler
func NewDeploymentHandler(svc DeploymentService, logger *zap.Logger) *DeploymentHandler {
	return &DeploymentHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleDeploy handles POST /api/v1/deployments
func (h *DeploymentHandler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req deploy.DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	// The actor is always the authenticated principal, regardless of
	// what the body claims.
	req.Actor = principal.Principal

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.svc.Deploy(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	switch result.Status {
	case deploy.StatusConflict:
		h.logger.Info("deployment conflict",
			zap.String("request_id", requestID),
			zap.String("object_name", req.ObjectName),
			zap.String("expected_version", req.ExpectedVersion),
			zap.String("current_version", result.CurrentVersion))
		_ = utils.WriteConflict(w, result.Message, map[string]interface{}{
			"current_version":  result.CurrentVersion,
			"expected_version": req.ExpectedVersion,
		})
		return
	case deploy.StatusFailed:
		h.logger.Error("deployment failed",
			zap.String("request_id", requestID),
			zap.String("object_name", req.ObjectName),
			zap.String("message", result.Message))
		_ = utils.WriteError(w, http.StatusBadGateway, result.Message, nil)
		return
	}

	h.logger.Info("deployment completed",
		zap.String("request_id", requestID),
		zap.String("object_type", req.ObjectType),
		zap.String("object_name", req.ObjectName),
		zap.String("version", result.Version),
		zap.Bool("checksum_validated", result.ChecksumValidated))

	_ = utils.WriteCreated(w, result)
}

// HandleGetCurrentVersion handles GET /api/v1/deployments/{type}/{name}
func (h *DeploymentHandler) HandleGetCurrentVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	objectType := strings.ToUpper(chi.URLParam(r, "type"))
	if !models.ValidObjectType(objectType) {
		_ = utils.WriteBadRequest(w, "Invalid object type", map[string]interface{}{
			"object_type": objectType,
		})
		return
	}
	objectName := chi.URLParam(r, "name")

	obj, err := h.svc.CurrentVersion(ctx, objectType, objectName)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if obj == nil {
		_ = utils.WriteNotFound(w, "Object has never been deployed")
		return
	}

	_ = utils.WriteOK(w, obj)
}

// HandleListObjects handles GET /api/v1/deployments
func (h *DeploymentHandler) HandleListObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := h.svc.ListObjects(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"objects": objects,
		"count":   len(objects),
	})
}
