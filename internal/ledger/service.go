package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/monitoring"
	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Clock is the single time source for grant computation and evaluation
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC
func SystemClock() Clock { return systemClock{} }

// Publisher receives notifications after a successful commit. Publish must not block.
type Publisher interface {
	Publish(event types.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(types.Event) {}

// Service is the authorization and audit engine. Every state change runs under
// the write lock inside one store transaction; queries share the read lock.
type Service struct {
	mu        sync.RWMutex
	store     repository.LedgerStore
	clock     Clock
	publisher Publisher
	metrics   *monitoring.MetricsCollector
	tracer    trace.Tracer
	logger    *logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithPublisher sets the notification publisher
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates the engine over a ledger store
func NewService(store repository.LedgerStore, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		clock:     SystemClock(),
		publisher: noopPublisher{},
		tracer:    otel.Tracer(monitoring.TracerName),
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping reports whether the underlying store is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// update runs fn as one atomic state change. Events returned by fn are
// published only once the store has committed.
func (s *Service) update(ctx context.Context, operation, actorID string, fn func(tx repository.LedgerTx) ([]types.Event, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.startSpan(ctx, operation, actorID)
	defer span.End()
	start := time.Now()

	var events []types.Event
	err := s.store.Update(ctx, func(tx repository.LedgerTx) error {
		var ferr error
		events, ferr = fn(tx)
		return ferr
	})
	err = s.finish(ctx, span, operation, actorID, start, err)
	if err != nil {
		return err
	}

	details := make(map[string]interface{})
	for _, event := range events {
		for k, v := range event.Data {
			details[k] = v
		}
	}
	s.logger.Audit(ctx, actorID, operation, details)

	for _, event := range events {
		s.publisher.Publish(event)
		s.metrics.RecordEventPublished(string(event.Type))
	}
	return nil
}

// view runs fn against committed state
func (s *Service) view(ctx context.Context, operation, actorID string, fn func(r repository.LedgerReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, span := s.startSpan(ctx, operation, actorID)
	defer span.End()
	start := time.Now()

	err := s.store.View(ctx, fn)
	return s.finish(ctx, span, operation, actorID, start, err)
}

func (s *Service) startSpan(ctx context.Context, operation, actorID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ledger."+operation, trace.WithAttributes(
		attribute.String("ledger.operation", operation),
		attribute.String("ledger.actor", actorID),
	))
}

// finish classifies err, records it and returns what the caller should see.
// Anything that is not a ledger error kind is wrapped as an internal error.
func (s *Service) finish(ctx context.Context, span trace.Span, operation, actorID string, start time.Time, err error) error {
	var medErr *types.MedrexError
	switch {
	case err == nil:
		s.metrics.RecordOperation(operation, "ok", time.Since(start))
		return nil
	case errors.As(err, &medErr) && medErr.Type != types.ErrorTypeInternal:
		s.metrics.RecordOperation(operation, strings.ToLower(medErr.Code), time.Since(start))
		span.SetAttributes(attribute.String("ledger.error", medErr.Code))
		s.logger.Security(ctx, actorID, operation, err)
		return err
	default:
		s.metrics.RecordOperation(operation, strings.ToLower(types.ErrCodeInternalError), time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithContext(ctx).
			WithField("operation", operation).
			WithField("actor", actorID).
			WithError(err).
			Error("Ledger operation failed")
		if errors.As(err, &medErr) {
			return err
		}
		return types.NewInternalError(types.ErrCodeInternalError, "ledger store failure", err)
	}
}

// loadUser returns the stored user or the unregistered snapshot
func loadUser(ctx context.Context, r repository.LedgerReader, userID string) (types.User, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return types.User{}, err
	}
	if u == nil {
		return types.UnregisteredUser(userID), nil
	}
	return *u, nil
}
