// Package sqlite provides an embedded event store backend for local
// and development runs. It implements the same repository contract as
// the PostgreSQL backend; the "most recent wins" dedup uses a window
// function instead of DISTINCT ON.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/repositories"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

const eventColumns = "seq, id, action, occurred_at, actor_id, source, object_type, object_id, attributes"

// DB wraps the sqlite connection
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB opens (or creates) the sqlite event store at path. Use
// ":memory:" for an ephemeral store.
func NewDB(path string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// sqlite supports a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	logger.Info("sqlite event store opened", zap.String("path", path))
	return &DB{DB: db, logger: logger}, nil
}

// Close closes the database
func (db *DB) Close() error {
	db.logger.Info("closing sqlite event store")
	return db.DB.Close()
}

// HealthCheck verifies the store answers queries
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

// InitSchema initializes the append-only events table
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			actor_id TEXT NOT NULL,
			source TEXT NOT NULL,
			object_type TEXT,
			object_id TEXT,
			attributes TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_events_action ON events(action);
		CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_events_actor_id ON events(actor_id);
		CREATE INDEX IF NOT EXISTS idx_events_object ON events(object_type, object_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	db.logger.Info("sqlite event store schema initialized")
	return nil
}

// EventRepository implements repositories.EventRepository on SQLite
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.EventRepository {
	return &EventRepository{db: db, logger: logger}
}

// Insert appends a new event
func (r *EventRepository) Insert(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (
			id, action, occurred_at, actor_id, source, object_type, object_id, attributes
		) VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
	`

	var attrs interface{}
	if len(event.Attributes) > 0 {
		attrs = string(event.Attributes)
	}

	result, err := r.db.ExecContext(ctx, query,
		event.ID.String(),
		event.Action,
		event.OccurredAt,
		event.ActorID,
		event.Source,
		event.ObjectType,
		event.ObjectID,
		attrs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if seq, err := result.LastInsertId(); err == nil {
		event.Seq = seq
	}
	return nil
}

// List returns events matching the filter ordered by
// (occurred_at, seq) descending.
func (r *EventRepository) List(ctx context.Context, filter repositories.EventFilter) ([]*models.Event, error) {
	where, args := buildWhere(filter)

	query := fmt.Sprintf("SELECT %s FROM events%s ORDER BY occurred_at DESC, seq DESC", eventColumns, where)
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
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
// (object_type, object_id) for the given action.
func (r *EventRepository) LatestPerObject(ctx context.Context, action models.Action) ([]*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s, ROW_NUMBER() OVER (
				PARTITION BY object_type, object_id
				ORDER BY occurred_at DESC, seq DESC
			) AS rn
			FROM events
			WHERE action = ? AND object_type IS NOT NULL
		) WHERE rn = 1
		ORDER BY object_type, object_id
	`, eventColumns, eventColumns)

	return r.queryEvents(ctx, query, action)
}

func buildWhere(filter repositories.EventFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		conditions = append(conditions, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.ObjectType != "" {
		conditions = append(conditions, "object_type = ?")
		args = append(args, filter.ObjectType)
	}
	if filter.ObjectID != "" {
		conditions = append(conditions, "object_id = ?")
		args = append(args, filter.ObjectID)
	}
	if filter.Since != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conditions = append(conditions, "occurred_at <= ?")
		args = append(args, *filter.Until)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var id string
		var objectType, objectID, attributes sql.NullString

		err := rows.Scan(
			&event.Seq,
			&id,
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

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event id: %w", err)
		}
		event.ID = parsed
		event.ObjectType = objectType.String
		event.ObjectID = objectID.String
		if attributes.Valid && attributes.String != "" {
			event.Attributes = []byte(attributes.String)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}
