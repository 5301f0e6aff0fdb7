// Package eventlog provides the append side of the event log. Reads go
// straight to the repository; writes funnel through this service so
// callers get a non-blocking, failure-swallowing audit path for
// best-effort events and a synchronous path for events that are part of
// the operation's contract (deployments).
package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/repositories"
)

// Service handles asynchronous event appends
type Service struct {
	eventRepo   repositories.EventRepository
	logger      *zap.Logger
	eventChan   chan *models.Event
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the event log service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewService creates a new event log service
func NewService(eventRepo repositories.EventRepository, logger *zap.Logger, config Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		eventRepo:   eventRepo,
		logger:      logger,
		eventChan:   make(chan *models.Event, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
		started:     false,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("event log service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started event log service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the service, draining pending events.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("event log service not started")
	}
	// Flip the flag and close the channel under the same lock Record
	// holds across its send, so a late Record either sees the flag and
	// drops or completes its send before the close.
	s.started = false
	pending := len(s.eventChan)
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping event log service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("event log service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("event log service stop timeout after %v", timeout)
	}
}

// Record queues an event for background append. It never fails the
// caller: a full buffer or a stopped service is reported to the
// operational log and the event is dropped. Use Append for events the
// operation's result depends on.
func (s *Service) Record(event *models.Event) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.logger.Warn("event log service not started, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("actor_id", event.ActorID))
		return
	}
	// The send is non-blocking, so the lock is held only briefly. It
	// must cover the send: Stop closes the channel under this lock, and
	// a send racing the close would panic.
	defer s.mu.Unlock()

	select {
	case s.eventChan <- event:
	default:
		s.logger.Warn("event buffer full, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("actor_id", event.ActorID))
	}
}

// Append writes an event synchronously. Callers that must observe the
// append result (the deployment gate) use this path.
func (s *Service) Append(ctx context.Context, event *models.Event) error {
	if err := s.eventRepo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// worker processes events from the channel
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("event log worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to append event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Action)),
				zap.String("actor_id", event.ActorID))
		}
	}

	s.logger.Debug("event log worker stopped", zap.Int("worker_id", id))
}

func (s *Service) processEvent(event *models.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.eventRepo.Insert(ctx, event)
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents event log service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for recording common events

// RecordAuthSuccess records a successful authentication
func (s *Service) RecordAuthSuccess(principal, tokenPrefix string) {
	event := models.NewEvent(models.ActionAuthSuccess, principal, "gateway").
		WithObject(models.ObjectTypePrincipal, principal).
		WithAttributes(models.AuthAttrs{TokenPrefix: tokenPrefix})
	s.Record(event)
}

// RecordAuthFailure records a failed authentication attempt. The actor
// is the token prefix when no principal could be established.
func (s *Service) RecordAuthFailure(tokenPrefix, reason string) {
	event := models.NewEvent(models.ActionAuthFailure, tokenPrefix, "gateway").
		WithAttributes(models.AuthAttrs{TokenPrefix: tokenPrefix, Reason: reason})
	s.Record(event)
}

// RecordToolExecuted records a successful tool execution
func (s *Service) RecordToolExecuted(principal string, attrs models.ToolExecutedAttrs) {
	event := models.NewEvent(models.ActionToolExecuted, principal, "gateway").
		WithObject(models.ObjectTypeQuery, attrs.QueryID).
		WithAttributes(attrs)
	s.Record(event)
}

// RecordToolFailed records a failed tool execution
func (s *Service) RecordToolFailed(principal string, attrs models.ToolExecutedAttrs) {
	event := models.NewEvent(models.ActionToolFailed, principal, "gateway").
		WithObject(models.ObjectTypeQuery, attrs.QueryID).
		WithAttributes(attrs)
	s.Record(event)
}
