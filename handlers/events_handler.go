package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/middleware"
	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/repositories"
	"github.com/dataplane/query-gateway/utils"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventsHandler exposes the read-only audit view over the event log
type EventsHandler struct {
	eventRepo repositories.EventRepository
	logger    *zap.Logger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(eventRepo repositories.EventRepository, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		eventRepo: eventRepo,
		logger:    logger,
	}
}

// HandleListEvents handles GET /api/v1/events
func (h *EventsHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	filter := repositories.EventFilter{
		ActorID:    r.URL.Query().Get("actor_id"),
		ObjectType: r.URL.Query().Get("object_type"),
		ObjectID:   r.URL.Query().Get("object_id"),
		Limit:      defaultEventLimit,
	}

	if actions := r.URL.Query().Get("action"); actions != "" {
		for _, a := range strings.Split(actions, ",") {
			if a = strings.TrimSpace(a); a != "" {
				filter.Actions = append(filter.Actions, models.Action(a))
			}
		}
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid since timestamp, expected RFC3339", nil)
			return
		}
		filter.Since = &t
	}
	if until := r.URL.Query().Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid until timestamp, expected RFC3339", nil)
			return
		}
		filter.Until = &t
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			_ = utils.WriteBadRequest(w, "Invalid limit", nil)
			return
		}
		if limit > maxEventLimit {
			limit = maxEventLimit
		}
		filter.Limit = limit
	}

	events, err := h.eventRepo.List(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list events",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
