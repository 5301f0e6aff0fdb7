package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const eventColumns = "seq, id, action, occurred_at, actor_id, source, object_type, object_id, attributes"

// EventRepository implements repositories.EventRepository on PostgreSQL
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a new event. Events are never updated or deleted.
func (r *EventRepository) Insert(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (
			id, action, occurred_at, actor_id, source, object_type, object_id, attributes
		) VALUES (
			$1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8
		)
		RETURNING seq
	`

	var attrs interface{}
	if len(event.Attributes) > 0 {
		attrs = []byte(event.Attributes)
	}

	err := r.db.QueryRowContext(ctx, query,
		event.ID,
		event.Action,
		event.OccurredAt,
		event.ActorID,
		event.Source,
		event.ObjectType,
		event.ObjectID,
		attrs,
	).Scan(&event.Seq)

	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	r.logger.Debug("event appended",
		zap.String("id", event.ID.String()),
		zap.String("action", string(event.Action)),
		zap.Int64("seq", event.Seq))
	return nil
}

// List returns events matching the filter ordered by
// (occurred_at, seq) descending.
func (r *EventRepository) List(ctx context.Context, filter repositories.EventFilter) ([]*models.Event, error) {
	where, args := buildWhere(filter)

	query := fmt.Sprintf("SELECT %s FROM events%s ORDER BY occurred_at DESC, seq DESC", eventColumns, where)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryEvents(ctx, query, args...)
}

// Latest returns the most recent event matching the filter, or nil.
func (r *EventRepository) Latest(ctx context.Context, filter repositories.EventFilter) (*models.Event, error) {
	filter.Limit = 1
	events, err := r.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// LatestPerObject deduplicates to the most recent event per
// (object_type, object_id) for the given action, using DISTINCT ON.
func (r *EventRepository) LatestPerObject(ctx context.Context, action models.Action) ([]*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (object_type, object_id) %s
		FROM events
		WHERE action = $1 AND object_type IS NOT NULL
		ORDER BY object_type, object_id, occurred_at DESC, seq DESC
	`, eventColumns)

	return r.queryEvents(ctx, query, action)
}

// buildWhere assembles the WHERE clause and argument list for a filter
func buildWhere(filter repositories.EventFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		conditions = append(conditions, fmt.Sprintf("action = ANY(%s)", arg(pq.Array(actions))))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = %s", arg(filter.ActorID)))
	}
	if filter.ObjectType != "" {
		conditions = append(conditions, fmt.Sprintf("object_type = %s", arg(filter.ObjectType)))
	}
	if filter.ObjectID != "" {
		conditions = append(conditions, fmt.Sprintf("object_id = %s", arg(filter.ObjectID)))
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= %s", arg(*filter.Since)))
	}
	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at <= %s", arg(*filter.Until)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// queryEvents is a helper method to query multiple events
func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (*models.Event, error) {
	event := &models.Event{}
	var objectType, objectID sql.NullString
	var attributes []byte

	err := rows.Scan(
		&event.Seq,
		&event.ID,
		&event.Action,
		&event.OccurredAt,
		&event.ActorID,
		&event.Source,
		&objectType,
		&objectID,
		&attributes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.ObjectType = objectType.String
	event.ObjectID = objectID.String
	if len(attributes) > 0 {
		event.Attributes = attributes
	}
	return event, nil
}
