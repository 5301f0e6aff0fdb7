package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action is the dotted event taxonomy string (e.g. "auth.success").
type Action string

const (
	ActionPermissionGranted Action = "system.permission.granted"
	ActionAuthSuccess       Action = "auth.success"
	ActionAuthFailure       Action = "auth.failure"
	ActionToolExecuted      Action = "tool.executed"
	ActionToolFailed        Action = "tool.failed"
	ActionObjectDeployed    Action = "ddl.object.deployed"
	ActionObjectDeployFailed Action = "ddl.object.failed"
)

// Object types used in event object references.
const (
	ObjectTypeCredential = "credential"
	ObjectTypePrincipal  = "principal"
	ObjectTypeQuery      = "query"
)

// Event is the only persisted entity in the system. Events are
// immutable once appended; every derived fact (current credential,
// current object version, daily usage) is computed by querying the
// most recent matching events, never by mutating a row.
type Event struct {
	// Seq is assigned by storage at append time and breaks ties when
	// two events share an occurred_at timestamp.
	Seq        int64           `json:"seq" db:"seq"`
	ID         uuid.UUID       `json:"id" db:"id"`
	Action     Action          `json:"action" db:"action"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
	ActorID    string          `json:"actor_id" db:"actor_id"`
	Source     string          `json:"source" db:"source"`
	ObjectType string          `json:"object_type,omitempty" db:"object_type"`
	ObjectID   string          `json:"object_id,omitempty" db:"object_id"`
	Attributes json.RawMessage `json:"attributes,omitempty" db:"attributes"`
}

// TableName returns the table name for the Event model
func (Event) TableName() string {
	return "events"
}

// NewEvent creates a new Event instance
func NewEvent(action Action, actorID, source string) *Event {
	return &Event{
		ID:         uuid.New(),
		Action:     action,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		Source:     source,
	}
}

// WithObject sets the object reference
func (e *Event) WithObject(objectType, objectID string) *Event {
	e.ObjectType = objectType
	e.ObjectID = objectID
	return e
}

// WithOccurredAt overrides the event timestamp
func (e *Event) WithOccurredAt(t time.Time) *Event {
	e.OccurredAt = t.UTC()
	return e
}

// WithAttributes marshals the given attribute record onto the event
func (e *Event) WithAttributes(attrs interface{}) *Event {
	if data, err := json.Marshal(attrs); err == nil {
		e.Attributes = data
	}
	return e
}

// PermissionGrantAttrs carries the credential material of a
// system.permission.granted event. A later grant for the same
// credential with an empty capability set revokes it.
type PermissionGrantAttrs struct {
	Principal                 string    `json:"principal"`
	TokenHash                 string    `json:"token_hash"`
	TokenPrefix               string    `json:"token_prefix"`
	AllowedCapabilities       []string  `json:"allowed_capabilities"`
	MaxRows                   int       `json:"max_rows"`
	DailyRuntimeBudgetSeconds int       `json:"daily_runtime_budget_seconds"`
	ExpiresAt                 time.Time `json:"expires_at"`
}

// AuthAttrs carries the metadata of auth.success / auth.failure events.
type AuthAttrs struct {
	TokenPrefix string `json:"token_prefix,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ToolExecutedAttrs carries the metadata of tool.executed and
// tool.failed events. RuntimeSeconds feeds the daily quota view.
type ToolExecutedAttrs struct {
	Tool           string  `json:"tool"`
	SQL            string  `json:"sql,omitempty"`
	QueryID        string  `json:"query_id,omitempty"`
	RowCount       int64   `json:"row_count"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
	Error          string  `json:"error,omitempty"`
}

// DeploymentAttrs carries the metadata of ddl.object.deployed and
// ddl.object.failed events.
type DeploymentAttrs struct {
	ObjectType        string `json:"object_type"`
	ObjectName        string `json:"object_name"`
	Version           string `json:"version,omitempty"`
	PreviousVersion   string `json:"previous_version,omitempty"`
	Reason            string `json:"reason,omitempty"`
	ChecksumValidated bool   `json:"checksum_validated"`
	Error             string `json:"error,omitempty"`
}

// DecodeAttributes unmarshals the attribute bag into the typed record
// for the event's action. Events with an unknown action decode into a
// plain map so new actions can be appended before readers learn about
// them.
func (e *Event) DecodeAttributes() (interface{}, error) {
	if len(e.Attributes) == 0 {
		return nil, nil
	}
	var target interface{}
	switch e.Action {
	case ActionPermissionGranted:
		target = &PermissionGrantAttrs{}
	case ActionAuthSuccess, ActionAuthFailure:
		target = &AuthAttrs{}
	case ActionToolExecuted, ActionToolFailed:
		target = &ToolExecutedAttrs{}
	case ActionObjectDeployed, ActionObjectDeployFailed:
		target = &DeploymentAttrs{}
	default:
		target = &map[string]interface{}{}
	}
	if err := json.Unmarshal(e.Attributes, target); err != nil {
		return nil, err
	}
	return target, nil
}
