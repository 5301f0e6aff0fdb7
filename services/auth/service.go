// Package auth authenticates opaque bearer tokens against the event
// log. There is no credential table: the current state of a credential
// is the most recent system.permission.granted event for its token
// hash, and revocation is a newer grant with an empty capability set.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/repositories"
	"github.com/dataplane/query-gateway/services"
	"github.com/dataplane/query-gateway/services/eventlog"
)

// Service authenticates tokens and manages permission grants.
type Service struct {
	eventRepo repositories.EventRepository
	events    *eventlog.Service
	logger    *zap.Logger
	pepper    []byte
	prefixLen int
}

// NewService creates an authentication service. The pepper is the
// server-side secret mixed into every token hash so stored hashes
// cannot be reproduced offline.
func NewService(eventRepo repositories.EventRepository, events *eventlog.Service, logger *zap.Logger, pepper string, prefixLen int) *Service {
	return &Service{
		eventRepo: eventRepo,
		events:    events,
		logger:    logger,
		pepper:    []byte(pepper),
		prefixLen: prefixLen,
	}
}

// HashToken derives the peppered HMAC-SHA256 hash of a raw token.
func (s *Service) HashToken(token string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) tokenPrefix(token string) string {
	if len(token) < s.prefixLen {
		return token
	}
	return token[:s.prefixLen]
}

// Authenticate resolves a raw bearer token to a PrincipalContext.
// Repeated calls for the same token are idempotent: the only side
// effect is a best-effort audit event.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.PrincipalContext, error) {
	if token == "" {
		return nil, services.ErrInvalidCredential
	}

	prefix := s.tokenPrefix(token)
	hash := s.HashToken(token)

	grant, err := s.eventRepo.Latest(ctx, repositories.EventFilter{
		Actions:    []models.Action{models.ActionPermissionGranted},
		ObjectType: models.ObjectTypeCredential,
		ObjectID:   hash,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to look up credential", err)
	}
	if grant == nil {
		s.events.RecordAuthFailure(prefix, "unknown credential")
		return nil, services.ErrInvalidCredential
	}

	attrs, err := grant.DecodeAttributes()
	if err != nil {
		return nil, services.WrapInternal("failed to decode grant attributes", err)
	}
	ga, ok := attrs.(*models.PermissionGrantAttrs)
	if !ok {
		return nil, services.WrapInternal("grant event has malformed attributes", nil)
	}

	// An empty capability set on the latest grant is a revocation.
	if len(ga.AllowedCapabilities) == 0 {
		s.events.RecordAuthFailure(prefix, "credential revoked")
		return nil, services.ErrCredentialRevoked
	}

	if !ga.ExpiresAt.IsZero() && ga.ExpiresAt.Before(time.Now().UTC()) {
		s.events.RecordAuthFailure(prefix, "credential expired")
		return nil, services.ErrCredentialExpired
	}

	// The prefix recomputed from the raw token must match what was
	// stored at grant time; a mismatch means the token or the stored
	// hash was tampered with.
	if ga.TokenPrefix != prefix {
		s.events.RecordAuthFailure(prefix, "token prefix mismatch")
		return nil, services.ErrCredentialTampered
	}

	used, err := s.DailyRuntimeUsed(ctx, ga.Principal, time.Now().UTC())
	if err != nil {
		return nil, services.WrapInternal("failed to compute daily usage", err)
	}

	s.events.RecordAuthSuccess(ga.Principal, prefix)

	return &models.PrincipalContext{
		Principal:                 ga.Principal,
		TokenPrefix:               ga.TokenPrefix,
		AllowedCapabilities:       ga.AllowedCapabilities,
		MaxRows:                   ga.MaxRows,
		DailyRuntimeBudgetSeconds: ga.DailyRuntimeBudgetSeconds,
		Usage: models.Usage{
			DailyRuntimeUsedSeconds: used,
			AsOf:                    time.Now().UTC(),
		},
	}, nil
}

// GrantRequest describes a new permission grant for a raw token.
type GrantRequest struct {
	Principal                 string    `json:"principal" validate:"required"`
	Token                     string    `json:"token" validate:"required,min=16"`
	AllowedCapabilities       []string  `json:"allowed_capabilities" validate:"required,min=1"`
	MaxRows                   int       `json:"max_rows" validate:"gte=0"`
	DailyRuntimeBudgetSeconds int       `json:"daily_runtime_budget_seconds" validate:"gte=0"`
	ExpiresAt                 time.Time `json:"expires_at"`
	GrantedBy                 string    `json:"granted_by" validate:"required"`
}

// Grant appends a permission grant for the request's token. The raw
// token itself is never stored, only its peppered hash and prefix.
func (s *Service) Grant(ctx context.Context, req GrantRequest) error {
	if req.Principal == "" || req.Token == "" {
		return services.ErrInvalidInput
	}
	if len(req.AllowedCapabilities) == 0 {
		return services.NewDomainError(services.ErrorTypeValidation,
			"a grant requires at least one capability; use Revoke to revoke", nil)
	}

	hash := s.HashToken(req.Token)
	event := models.NewEvent(models.ActionPermissionGranted, req.GrantedBy, "gateway").
		WithObject(models.ObjectTypeCredential, hash).
		WithAttributes(models.PermissionGrantAttrs{
			Principal:                 req.Principal,
			TokenHash:                 hash,
			TokenPrefix:               s.tokenPrefix(req.Token),
			AllowedCapabilities:       req.AllowedCapabilities,
			MaxRows:                   req.MaxRows,
			DailyRuntimeBudgetSeconds: req.DailyRuntimeBudgetSeconds,
			ExpiresAt:                 req.ExpiresAt,
		})

	if err := s.events.Append(ctx, event); err != nil {
		return services.WrapInternal("failed to append grant event", err)
	}

	s.logger.Info("granted credential",
		zap.String("principal", req.Principal),
		zap.String("token_prefix", s.tokenPrefix(req.Token)),
		zap.Strings("capabilities", req.AllowedCapabilities))
	return nil
}

// Revoke appends a grant with an empty capability set for the token,
// which the authenticator treats as a revocation.
func (s *Service) Revoke(ctx context.Context, token, revokedBy string) error {
	if token == "" {
		return services.ErrInvalidInput
	}

	hash := s.HashToken(token)
	grant, err := s.eventRepo.Latest(ctx, repositories.EventFilter{
		Actions:    []models.Action{models.ActionPermissionGranted},
		ObjectType: models.ObjectTypeCredential,
		ObjectID:   hash,
	})
	if err != nil {
		return services.WrapInternal("failed to look up credential", err)
	}
	if grant == nil {
		return services.ErrPrincipalNotFound
	}

	attrs, err := grant.DecodeAttributes()
	if err != nil {
		return services.WrapInternal("failed to decode grant attributes", err)
	}
	ga, ok := attrs.(*models.PermissionGrantAttrs)
	if !ok {
		return services.WrapInternal("grant event has malformed attributes", nil)
	}

	event := models.NewEvent(models.ActionPermissionGranted, revokedBy, "gateway").
		WithObject(models.ObjectTypeCredential, hash).
		WithAttributes(models.PermissionGrantAttrs{
			Principal:   ga.Principal,
			TokenHash:   hash,
			TokenPrefix: ga.TokenPrefix,
		})

	if err := s.events.Append(ctx, event); err != nil {
		return services.WrapInternal("failed to append revocation event", err)
	}

	s.logger.Info("revoked credential",
		zap.String("principal", ga.Principal),
		zap.String("token_prefix", ga.TokenPrefix))
	return nil
}

// DailyRuntimeUsed sums the runtime seconds of the principal's
// tool.executed events for the UTC calendar day containing now.
func (s *Service) DailyRuntimeUsed(ctx context.Context, principal string, now time.Time) (float64, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)

	events, err := s.eventRepo.List(ctx, repositories.EventFilter{
		Actions: []models.Action{models.ActionToolExecuted},
		ActorID: principal,
		Since:   &dayStart,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list usage events: %w", err)
	}

	var used float64
	for _, e := range events {
		attrs, err := e.DecodeAttributes()
		if err != nil {
			continue
		}
		if ta, ok := attrs.(*models.ToolExecutedAttrs); ok {
			used += ta.RuntimeSeconds
		}
	}
	return used, nil
}
