package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/rewards/internal/database"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/models"
	"example.com/backstage/services/rewards/internal/repositories"
)

type MockAwardPublisher struct {
	mock.Mock
}

func (m *MockAwardPublisher) PublishAward(ctx context.Context, award models.PointAward) error {
	args := m.Called(ctx, award)
	return args.Error(0)
}

func (m *MockAwardPublisher) Close() error { return nil }

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) IndexActivity(ctx context.Context, docID string, record models.ActivityRecord) error {
	args := m.Called(ctx, docID, record)
	return args.Error(0)
}

var now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	repo          repositories.NotificationRepository
	awards        *MockAwardPublisher
	activity      *MockActivitySink
	metrics       *metrics.Metrics
	dispatcher    *Dispatcher
	notifications []models.Notification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := database.NewTestDB(t)
	ctx := context.Background()

	items := repositories.NewScarceItemRepository(db, nil)
	require.NoError(t, items.Create(ctx, &models.ScarceItem{ItemID: "cap-gold", TotalSupply: 5, WindowStart: now.Add(-time.Hour)}))

	allocation, err := repositories.NewClaimRepository(db, nil).Allocate(ctx, repositories.ClaimRequest{
		ItemID:     "cap-gold",
		ItemName:   "Golden Cap",
		IdentityID: "alice",
		PointValue: 100,
		Now:        now,
	})
	require.NoError(t, err)

	f := &fixture{
		repo:          repositories.NewNotificationRepository(db),
		awards:        new(MockAwardPublisher),
		activity:      new(MockActivitySink),
		metrics:       metrics.NewMetrics(),
		notifications: allocation.Notifications,
	}
	f.dispatcher = NewDispatcher(f.repo, f.awards, f.activity, f.metrics, Options{MaxAttempts: 3, RetryBackoff: time.Minute})
	f.dispatcher.now = func() time.Time { return now }
	return f
}

func TestDispatch_DeliversBothKinds(t *testing.T) {
	f := newFixture(t)

	f.awards.On("PublishAward", mock.Anything, mock.MatchedBy(func(a models.PointAward) bool {
		return a.IdentityID == "alice" && a.MintNumber == 1 && a.PointValue == 100
	})).Return(nil).Once()
	f.activity.On("IndexActivity", mock.Anything, f.notifications[1].ID.String(), mock.MatchedBy(func(r models.ActivityRecord) bool {
		return r.Outcome == "success" && r.ItemName == "Golden Cap"
	})).Return(nil).Once()

	f.dispatcher.Dispatch(context.Background(), f.notifications)

	f.awards.AssertExpectations(t)
	f.activity.AssertExpectations(t)
	assert.Equal(t, int64(1), f.metrics.Counter(metrics.CounterAwardsDelivered))
	assert.Equal(t, int64(1), f.metrics.Counter(metrics.CounterActivityDelivered))

	pending, err := f.repo.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDispatch_FailureIsRescheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.awards.On("PublishAward", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	f.activity.On("IndexActivity", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	f.dispatcher.Dispatch(ctx, f.notifications)
	assert.Equal(t, int64(1), f.metrics.Counter(metrics.CounterDeliveryFailures))

	stats, err := f.dispatcher.DrainPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Delivered+stats.Failed, "retry is not due yet")

	f.dispatcher.now = func() time.Time { return now.Add(2 * time.Minute) }
	f.awards.On("PublishAward", mock.Anything, mock.Anything).Return(nil).Once()

	stats, err = f.dispatcher.DrainPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, int64(0), f.metrics.GetGauges()[metrics.GaugePendingNotifications])
	f.awards.AssertExpectations(t)
}

func TestDrainPending_StopsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.awards.On("PublishAward", mock.Anything, mock.Anything).Return(assert.AnError)
	f.activity.On("IndexActivity", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	later := now
	for i := 0; i < 5; i++ {
		later = later.Add(2 * time.Hour)
		at := later
		f.dispatcher.now = func() time.Time { return at }
		_, err := f.dispatcher.DrainPending(ctx, 10)
		require.NoError(t, err)
	}

	f.awards.AssertNumberOfCalls(t, "PublishAward", 3)
	pending, err := f.repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestDeliver_UnknownKind(t *testing.T) {
	f := newFixture(t)
	n := f.notifications[0]
	n.Kind = "carrier_pigeon"

	err := f.dispatcher.Deliver(context.Background(), n)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestBackoff(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil, Options{RetryBackoff: time.Minute})
	assert.Equal(t, time.Minute, d.backoff(0))
	assert.Equal(t, 4*time.Minute, d.backoff(2))
	assert.Equal(t, maxBackoff, d.backoff(30))
}
