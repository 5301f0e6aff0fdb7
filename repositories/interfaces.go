package repositories

import (
	"context"
	"time"

	"github.com/dataplane/query-gateway/models"
)

// EventFilter selects events for a read-model query. Zero values mean
// "no constraint". Results are always ordered by (occurred_at, seq)
// descending: concurrent writers give no per-writer ordering
// guarantee, so readers sort explicitly.
type EventFilter struct {
	Actions    []models.Action
	ActorID    string
	ObjectType string
	ObjectID   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// EventRepository is the append-only event store contract. There is
// deliberately no update or delete operation: derived state is always
// recomputed from the most recent matching events.
type EventRepository interface {
	// Insert appends a single event. The store assigns Seq.
	Insert(ctx context.Context, event *models.Event) error

	// List returns events matching the filter, most recent first.
	List(ctx context.Context, filter EventFilter) ([]*models.Event, error)

	// Latest returns the most recent event matching the filter, or
	// nil when none exists.
	Latest(ctx context.Context, filter EventFilter) (*models.Event, error)

	// LatestPerObject deduplicates to the most recent event per
	// (object_type, object_id) key for the given action. This is the
	// shared "most recent wins" read pattern behind every derived
	// view.
	LatestPerObject(ctx context.Context, action models.Action) ([]*models.Event, error)
}
