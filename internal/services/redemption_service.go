package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/internal/claims"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/models"
	"example.com/backstage/services/rewards/internal/tracing"
)

// Redeemer runs a single redemption attempt
type Redeemer interface {
	AttemptRedemption(ctx context.Context, raw []byte, identityID, sourceContext string, now time.Time) *claims.Result
}

// Dispatcher delivers outbox notifications
type Dispatcher interface {
	Dispatch(ctx context.Context, notifications []models.Notification)
}

// RedemptionRequest is one inbound scan
type RedemptionRequest struct {
	Payload       []byte
	IdentityID    string
	SourceContext string
}

// RedemptionService handles redemption attempts end to end: it runs the
// claim engine, records metrics and traces, and hands committed
// notifications to the dispatcher in the background.
type RedemptionService struct {
	engine     Redeemer
	dispatcher Dispatcher
	tracer     tracing.Tracer
	metrics    *metrics.Metrics
	now        func() time.Time
	inflight   sync.WaitGroup
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(engine Redeemer, dispatcher Dispatcher, tracer tracing.Tracer, m *metrics.Metrics) *RedemptionService {
	if tracer == nil {
		tracer = tracing.Disabled()
	}
	return &RedemptionService{
		engine:     engine,
		dispatcher: dispatcher,
		tracer:     tracer,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Redeem processes one scan
func (s *RedemptionService) Redeem(ctx context.Context, req RedemptionRequest) *claims.Result {
	txn := s.tracer.StartTransaction("attempt-redemption")
	defer s.tracer.EndTransaction(txn)

	s.metrics.IncrementCounter(metrics.CounterRedemptionAttempts)
	start := time.Now()

	segment := s.tracer.StartSegment("claim-engine", txn)
	result := s.engine.AttemptRedemption(ctx, req.Payload, req.IdentityID, req.SourceContext, s.now())
	segment.End()

	s.metrics.RecordTimer(metrics.TimerRedemption, time.Since(start))
	s.metrics.IncrementCounter(metrics.OutcomeCounter(string(result.Outcome)))
	s.metrics.RecordResult("redemption", result.Outcome == claims.OutcomeTransientError)

	s.tracer.AddAttribute(txn, "outcome", string(result.Outcome))
	s.tracer.AddAttribute(txn, "item_id", result.ItemID)
	if result.Outcome == claims.OutcomeTransientError {
		s.tracer.RecordError(txn, result.Err)
	}

	log.Info().
		Str("identity_id", req.IdentityID).
		Str("item_id", result.ItemID).
		Str("outcome", string(result.Outcome)).
		Int("mint_number", result.MintNumber).
		Msg("Redemption attempt processed")

	if len(result.Notifications) > 0 && s.dispatcher != nil {
		notifications := result.Notifications
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.dispatcher.Dispatch(context.WithoutCancel(ctx), notifications)
		}()
	}

	return result
}

// Wait blocks until background deliveries started by Redeem have finished
func (s *RedemptionService) Wait() {
	s.inflight.Wait()
}
