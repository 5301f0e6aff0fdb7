// Package deploy is the versioned gate for schema-object deployments.
// The current version of an object is the most recent
// ddl.object.deployed event for its (type, name) key; the gate
// serializes racing writers per key so exactly one of two conflicting
// deploys can win.
package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/repositories"
	"github.com/dataplane/query-gateway/services"
	"github.com/dataplane/query-gateway/services/eventlog"
)

// Deployment outcome statuses.
const (
	StatusOk       = "ok"
	StatusConflict = "conflict"
	StatusFailed   = "failed"
)

const lockStripes = 32

// versionLayout renders version tokens orderable as strings. The gate
// only compares them for equality; ordering is a convenience for
// humans reading the log.
const versionLayout = "20060102T150405.000000000Z"

// DDLRunner executes DDL under the gate's role.
type DDLRunner interface {
	ExecDDL(ctx context.Context, sqlText string, timeout time.Duration) error
}

// DeployRequest describes one deployment attempt.
type DeployRequest struct {
	ObjectType       string `json:"object_type" validate:"required"`
	ObjectName       string `json:"object_name" validate:"required"`
	DDLText          string `json:"ddl_text,omitempty"`
	StageReference   string `json:"stage_reference,omitempty"`
	Actor            string `json:"actor" validate:"required"`
	Reason           string `json:"reason" validate:"required"`
	ExpectedVersion  string `json:"expected_version,omitempty"`
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
}

// DeployResult is the outcome of a deployment attempt.
type DeployResult struct {
	Status            string `json:"status"`
	Version           string `json:"version,omitempty"`
	PreviousVersion   string `json:"previous_version,omitempty"`
	CurrentVersion    string `json:"current_version,omitempty"`
	ChecksumValidated bool   `json:"checksum_validated"`
	Message           string `json:"message,omitempty"`
}

// Service is the deployment gate.
type Service struct {
	eventRepo  repositories.EventRepository
	events     *eventlog.Service
	runner     DDLRunner
	logger     *zap.Logger
	ddlTimeout time.Duration
	locks      [lockStripes]sync.Mutex
	now        func() time.Time
}

// NewService creates the deployment gate.
func NewService(eventRepo repositories.EventRepository, events *eventlog.Service, runner DDLRunner, logger *zap.Logger, ddlTimeout time.Duration) *Service {
	return &Service{
		eventRepo:  eventRepo,
		events:     events,
		runner:     runner,
		logger:     logger,
		ddlTimeout: ddlTimeout,
		now:        time.Now,
	}
}

// Deploy attempts to deploy a schema object under optimistic
// concurrency. The version check, the DDL execution and the event
// append are serialized per object key, so two racing deploys on the
// same expected version resolve to exactly one winner.
func (s *Service) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	objectType := strings.ToUpper(strings.TrimSpace(req.ObjectType))
	if !models.ValidObjectType(objectType) {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("invalid object type: %s", req.ObjectType), nil)
	}

	objectName := strings.TrimSpace(req.ObjectName)
	if strings.Count(objectName, ".") != 2 {
		return nil, services.ErrInvalidObjectName
	}
	if req.DDLText == "" && req.StageReference == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			"either ddl_text or stage_reference is required", nil)
	}
	if req.Actor == "" || req.Reason == "" {
		return nil, services.ErrInvalidInput
	}

	// Checksum verification is best-effort: a stage reference's remote
	// checksum cannot be computed here, so deployment proceeds with
	// checksum_validated=false.
	checksumValidated := false
	if req.DDLText != "" && req.ExpectedChecksum != "" {
		sum := sha256.Sum256([]byte(req.DDLText))
		actual := hex.EncodeToString(sum[:])
		if !strings.EqualFold(actual, req.ExpectedChecksum) {
			return nil, services.NewDomainError(services.ErrorTypeValidation,
				"ddl checksum mismatch", nil).
				WithDetail("expected", req.ExpectedChecksum).
				WithDetail("actual", actual)
		}
		checksumValidated = true
	}

	lock := s.lockFor(objectType, objectName)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.CurrentVersion(ctx, objectType, objectName)
	if err != nil {
		return nil, err
	}
	currentVersion := ""
	if current != nil {
		currentVersion = current.Version
	}

	// Optimistic concurrency is advisory when the caller omits
	// expectedVersion: last writer wins. When it is present, a stale
	// value loses without the database being touched. An object that
	// has never been deployed cannot conflict: there is no version to
	// be stale against.
	if currentVersion != "" && req.ExpectedVersion != "" && req.ExpectedVersion != currentVersion {
		s.logger.Warn("deployment version conflict",
			zap.String("object_type", objectType),
			zap.String("object_name", objectName),
			zap.String("expected_version", req.ExpectedVersion),
			zap.String("current_version", currentVersion))
		return &DeployResult{
			Status:            StatusConflict,
			CurrentVersion:    currentVersion,
			ChecksumValidated: checksumValidated,
			Message:           "expected version is stale",
		}, nil
	}

	ddl := req.DDLText
	if ddl == "" {
		// Stage-reference deployments execute through the platform's
		// stage loader.
		ddl = fmt.Sprintf("CREATE OR REPLACE %s %s AS SELECT * FROM %s", objectType, objectName, req.StageReference)
	}

	if err := s.runner.ExecDDL(ctx, ddl, s.ddlTimeout); err != nil {
		// The object's version is not advanced on failure; the failure
		// event is best-effort audit context.
		s.events.Record(models.NewEvent(models.ActionObjectDeployFailed, req.Actor, "gateway").
			WithObject(objectType, objectName).
			WithAttributes(models.DeploymentAttrs{
				ObjectType:        objectType,
				ObjectName:        objectName,
				PreviousVersion:   currentVersion,
				Reason:            req.Reason,
				ChecksumValidated: checksumValidated,
				Error:             err.Error(),
			}))
		return &DeployResult{
			Status:            StatusFailed,
			CurrentVersion:    currentVersion,
			ChecksumValidated: checksumValidated,
			Message:           err.Error(),
		}, nil
	}

	newVersion := s.now().UTC().Format(versionLayout)

	// The deployed event is the commit record of the gate; its append
	// must succeed for the deployment to count.
	event := models.NewEvent(models.ActionObjectDeployed, req.Actor, "gateway").
		WithObject(objectType, objectName).
		WithAttributes(models.DeploymentAttrs{
			ObjectType:        objectType,
			ObjectName:        objectName,
			Version:           newVersion,
			PreviousVersion:   currentVersion,
			Reason:            req.Reason,
			ChecksumValidated: checksumValidated,
		})
	if err := s.events.Append(ctx, event); err != nil {
		return nil, services.WrapInternal("deployment executed but version record failed", err)
	}

	s.logger.Info("deployed schema object",
		zap.String("object_type", objectType),
		zap.String("object_name", objectName),
		zap.String("version", newVersion),
		zap.String("previous_version", currentVersion),
		zap.String("actor", req.Actor))

	return &DeployResult{
		Status:            StatusOk,
		Version:           newVersion,
		PreviousVersion:   currentVersion,
		ChecksumValidated: checksumValidated,
	}, nil
}

// CurrentVersion returns the derived state of one object, or nil when
// it has never been deployed.
func (s *Service) CurrentVersion(ctx context.Context, objectType, objectName string) (*models.SchemaObject, error) {
	event, err := s.eventRepo.Latest(ctx, repositories.EventFilter{
		Actions:    []models.Action{models.ActionObjectDeployed},
		ObjectType: strings.ToUpper(objectType),
		ObjectID:   objectName,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to read deployment history", err)
	}
	if event == nil {
		return nil, nil
	}
	return schemaObjectFrom(event)
}

// ListObjects returns the current version of every deployed object via
// the shared latest-per-key read path.
func (s *Service) ListObjects(ctx context.Context) ([]*models.SchemaObject, error) {
	events, err := s.eventRepo.LatestPerObject(ctx, models.ActionObjectDeployed)
	if err != nil {
		return nil, services.WrapInternal("failed to read deployment history", err)
	}

	objects := make([]*models.SchemaObject, 0, len(events))
	for _, e := range events {
		obj, err := schemaObjectFrom(e)
		if err != nil {
			s.logger.Warn("skipping malformed deployment event",
				zap.String("event_id", e.ID.String()), zap.Error(err))
			continue
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func schemaObjectFrom(event *models.Event) (*models.SchemaObject, error) {
	attrs, err := event.DecodeAttributes()
	if err != nil {
		return nil, fmt.Errorf("failed to decode deployment attributes: %w", err)
	}
	da, ok := attrs.(*models.DeploymentAttrs)
	if !ok {
		return nil, fmt.Errorf("deployment event has malformed attributes")
	}
	return &models.SchemaObject{
		ObjectType:     da.ObjectType,
		ObjectName:     da.ObjectName,
		Version:        da.Version,
		LastDeployedBy: event.ActorID,
		LastDeployedAt: event.OccurredAt,
	}, nil
}

func (s *Service) lockFor(objectType, objectName string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(objectType))
	h.Write([]byte{0})
	h.Write([]byte(objectName))
	return &s.locks[h.Sum32()%lockStripes]
}
