package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/rewards/internal/messaging"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/models"
	"example.com/backstage/services/rewards/internal/repositories"
	"example.com/backstage/services/rewards/internal/search"
)

const (
	defaultBackoff   = 15 * time.Second
	maxBackoff       = time.Hour
	drainParallelism = 4
	deliveryTimeout  = 30 * time.Second
)

// ErrUnknownKind is returned for outbox rows of an unsupported kind
var ErrUnknownKind = errors.New("unknown notification kind")

// Options configures a Dispatcher
type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// DrainStats summarises one outbox drain
type DrainStats struct {
	Delivered int
	Failed    int
}

// Dispatcher delivers outbox notifications to the point-award and activity
// collaborators. A failed delivery is rescheduled and never affects the claim.
type Dispatcher struct {
	repo     repositories.NotificationRepository
	awards   messaging.AwardPublisher
	activity search.ActivitySink
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	repo repositories.NotificationRepository,
	awards messaging.AwardPublisher,
	activity search.ActivitySink,
	m *metrics.Metrics,
	opts Options,
) *Dispatcher {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultBackoff
	}
	return &Dispatcher{
		repo:     repo,
		awards:   awards,
		activity: activity,
		metrics:  m,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch delivers freshly written notifications. Failures are logged and
// left for DrainPending.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []models.Notification) {
	for _, n := range notifications {
		if err := d.Deliver(ctx, n); err != nil {
			log.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Str("kind", n.Kind).
				Msg("Immediate delivery failed, will retry")
		}
	}
}

// Deliver sends one notification and records the attempt
func (d *Dispatcher) Deliver(ctx context.Context, n models.Notification) error {
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	sendErr := d.send(deliverCtx, n)
	if sendErr == nil {
		if err := d.repo.MarkDelivered(deliverCtx, n.ID, d.now()); err != nil {
			return errors.Wrap(err, "delivered but failed to record delivery")
		}
		d.countDelivered(n.Kind)
		return nil
	}

	d.metrics.IncrementCounter(metrics.CounterDeliveryFailures)
	next := d.now().Add(d.backoff(n.Attempts))
	if err := d.repo.MarkFailed(deliverCtx, n.ID, sendErr, next); err != nil {
		log.Error().Err(err).Str("notification_id", n.ID.String()).Msg("Failed to record delivery failure")
	}
	return sendErr
}

// DrainPending delivers due notifications until none are left or limit is
// reached.
func (d *Dispatcher) DrainPending(ctx context.Context, limit int) (DrainStats, error) {
	pending, err := d.repo.DuePending(ctx, d.now(), limit, d.opts.MaxAttempts)
	if err != nil {
		return DrainStats{}, err
	}

	var delivered, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(drainParallelism)
	for _, n := range pending {
		n := n
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := d.Deliver(gctx, n); err != nil {
				failed.Add(1)
				log.Warn().Err(err).
					Str("notification_id", n.ID.String()).
					Int("attempts", n.Attempts+1).
					Msg("Redelivery failed")
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DrainStats{Delivered: int(delivered.Load()), Failed: int(failed.Load())}, err
	}

	if count, err := d.repo.CountPending(ctx); err == nil {
		d.metrics.SetGauge(metrics.GaugePendingNotifications, count)
	}

	return DrainStats{Delivered: int(delivered.Load()), Failed: int(failed.Load())}, nil
}

func (d *Dispatcher) send(ctx context.Context, n models.Notification) error {
	switch n.Kind {
	case models.NotificationPointAward:
		var award models.PointAward
		if err := json.Unmarshal([]byte(n.Payload), &award); err != nil {
			return errors.Wrap(err, "failed to decode point award")
		}
		return d.awards.PublishAward(ctx, award)
	case models.NotificationActivity:
		var record models.ActivityRecord
		if err := json.Unmarshal([]byte(n.Payload), &record); err != nil {
			return errors.Wrap(err, "failed to decode activity record")
		}
		return d.activity.IndexActivity(ctx, n.ID.String(), record)
	default:
		return errors.Wrap(ErrUnknownKind, n.Kind)
	}
}

func (d *Dispatcher) countDelivered(kind string) {
	switch kind {
	case models.NotificationPointAward:
		d.metrics.IncrementCounter(metrics.CounterAwardsDelivered)
	case models.NotificationActivity:
		d.metrics.IncrementCounter(metrics.CounterActivityDelivered)
	}
}

// backoff doubles per previous attempt up to maxBackoff
func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.opts.RetryBackoff
	for i := 0; i < attempts && b < maxBackoff; i++ {
		b *= 2
	}
	if b > maxBackoff {
		b = maxBackoff
	}
	return b
}
