// Package service runs the gated weather flow: validate the caller's access,
// fetch the observation, then consume a credential use. Each request walks a
// fixed state progression and every denial carries a machine-readable reason.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wxpass/internal/events"
	"wxpass/internal/platform/metrics"
	"wxpass/internal/provider"
	"wxpass/internal/validator"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
	"wxpass/pkg/platform/circuit"
)

// State names a point in the request's progression. Used in spans and logs.
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateGranted    State = "granted"
	StateFetching   State = "fetching"
	StateResponded  State = "responded"
	StateDenied     State = "denied"
)

// Validator is the access decision collaborator.
type Validator interface {
	CheckAccess(ctx context.Context, identity domain.Address) (*validator.Grant, error)
	Consume(ctx context.Context, identity domain.Address, id domain.CredentialID) error
}

// Result is a granted, served weather request.
type Result struct {
	Observation *provider.Observation
	Grant       *validator.Grant
	Provider    string
}

// probeInterval bounds how often an open breaker lets a request through to
// test whether the upstream has recovered.
const probeInterval = 10 * time.Second

// Service coordinates validation, fetching, and consumption.
type Service struct {
	validator Validator
	provider  provider.Provider
	breaker   *circuit.Breaker
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	mu        sync.Mutex
	lastProbe time.Time
}

// New builds a gateway service. publisher and m may be nil.
func New(v Validator, p provider.Provider, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		validator: v,
		provider:  p,
		breaker:   circuit.New("weather-provider", circuit.WithFailureThreshold(3)),
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("wxpass/internal/gateway"),
	}
}

// Fetch serves one weather request for identity. Order is fixed: access is
// decided before the provider is called, and the credential use is consumed
// only after the fetch succeeds.
func (s *Service) Fetch(ctx context.Context, identity domain.Address, city string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.fetch", trace.WithAttributes(
		attribute.String("city", city),
		attribute.String("identity", identity.Short()),
	))
	defer span.End()

	state := StateReceived
	defer func() { span.SetAttributes(attribute.String("state", string(state))) }()

	state = StateValidating
	grant, err := s.validator.CheckAccess(ctx, identity)
	if err != nil {
		state = StateDenied
		s.recordDenial(ctx, identity, city, err)
		return nil, err
	}

	state = StateGranted
	state = StateFetching
	obs, err := s.fetchObservation(ctx, city)
	if err != nil {
		// The credential stays intact: a failed fetch must not cost a use.
		return nil, err
	}

	if !grant.CredentialID.IsNil() {
		if err := s.validator.Consume(ctx, identity, grant.CredentialID); err != nil {
			// The caller already got their grant; losing the decrement is the
			// lesser failure. Log loudly and serve the response.
			s.logger.ErrorContext(ctx, "failed to consume credential use",
				"identity", identity.Short(),
				"credential_id", grant.CredentialID.String(),
				"error", err,
			)
		}
	}

	state = StateResponded
	if s.metrics != nil {
		s.metrics.RequestsGranted.Inc()
	}
	s.publisher.Emit(ctx, events.Event{
		Action:        events.ActionAccessGranted,
		Identity:      identity,
		CredentialIDs: []domain.CredentialID{grant.CredentialID},
		City:          city,
	})
	s.logger.InfoContext(ctx, "weather request served",
		"identity", identity.Short(),
		"city", city,
		"provider", s.provider.Name(),
	)

	return &Result{
		Observation: obs,
		Grant:       grant,
		Provider:    s.provider.Name(),
	}, nil
}

// fetchObservation calls the provider behind the circuit breaker. Unknown
// cities are the caller's mistake, not provider trouble, and never count
// against the breaker.
func (s *Service) fetchObservation(ctx context.Context, city string) (*provider.Observation, error) {
	if s.breaker.IsOpen() && !s.probeDue() {
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("circuit_open").Inc()
		}
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "weather provider temporarily unavailable")
	}

	obs, err := s.provider.Current(ctx, city)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "weather provider circuit opened", "provider", s.provider.Name())
		}
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("upstream").Inc()
		}
		return nil, err
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "weather provider circuit closed", "provider", s.provider.Name())
	}
	return obs, nil
}

// probeDue rations recovery attempts while the breaker is open.
func (s *Service) probeDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastProbe) < probeInterval {
		return false
	}
	s.lastProbe = time.Now()
	return true
}

func (s *Service) recordDenial(ctx context.Context, identity domain.Address, city string, err error) {
	code := string(dErrors.CodeOf(err))
	if s.metrics != nil {
		s.metrics.RequestsDenied.WithLabelValues(code).Inc()
	}
	s.publisher.Emit(ctx, events.Event{
		Action:   events.ActionAccessDenied,
		Identity: identity,
		City:     city,
		Reason:   code,
	})
	s.logger.InfoContext(ctx, "weather request denied",
		"identity", identity.Short(),
		"city", city,
		"reason", code,
	)
}
