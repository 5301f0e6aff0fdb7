package models

import "time"

// Deployable object types accepted by the deployment gate.
const (
	ObjectTypeView      = "VIEW"
	ObjectTypeProcedure = "PROCEDURE"
	ObjectTypeFunction  = "FUNCTION"
)

// ValidObjectType reports whether t names a deployable object type.
func ValidObjectType(t string) bool {
	switch t {
	case ObjectTypeView, ObjectTypeProcedure, ObjectTypeFunction:
		return true
	}
	return false
}

// SchemaObject is the derived view over ddl.object.deployed events:
// the most recent deployment per (object type, object name). Version
// is an opaque token compared only for equality by the gate.
type SchemaObject struct {
	ObjectType     string    `json:"object_type"`
	ObjectName     string    `json:"object_name"`
	Version        string    `json:"version"`
	LastDeployedBy string    `json:"last_deployed_by"`
	LastDeployedAt time.Time `json:"last_deployed_at"`
}
