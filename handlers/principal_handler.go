package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/middleware"
	"github.com/dataplane/query-gateway/utils"
)

// PrincipalHandler exposes the authenticated principal's own context
type PrincipalHandler struct {
	logger *zap.Logger
}

// NewPrincipalHandler creates a new PrincipalHandler
func NewPrincipalHandler(logger *zap.Logger) *PrincipalHandler {
	return &PrincipalHandler{logger: logger}
}

// HandleWhoAmI handles GET /api/v1/whoami. It echoes the capability
// set and advisory usage derived during authentication; it never
// touches the store.
func (h *PrincipalHandler) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}
	_ = utils.WriteOK(w, principal)
}
