package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/rewards/config"
	"example.com/backstage/services/rewards/internal/api/handlers"
	"example.com/backstage/services/rewards/internal/catalog"
	"example.com/backstage/services/rewards/internal/claims"
	"example.com/backstage/services/rewards/internal/database"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/payload"
	"example.com/backstage/services/rewards/internal/repositories"
	"example.com/backstage/services/rewards/internal/services"
	"example.com/backstage/services/rewards/internal/tracing"
)

const adminKey = "s3cret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	engine *claims.Engine
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			AdminKey:       adminKey,
			RatePerMinute:  6000,
			RateBurst:      100,
			MetricsEnabled: true,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	cat, err := catalog.New([]catalog.Entry{
		{ItemID: "cap-gold", Name: "Golden Cap", PointValue: 100, Scarcity: &catalog.Scarcity{TotalSupply: 1, WindowStart: time.Now().Add(-time.Hour)}},
		{ItemID: "sticker", Name: "Sticker", PointValue: 5},
	})
	require.NoError(t, err)

	db := database.NewTestDB(t)
	m := metrics.NewMetrics()
	engine := claims.NewEngine(
		payload.NewValidator(cat, 0),
		repositories.NewScarceItemRepository(db, nil),
		repositories.NewClaimRepository(db, nil),
		repositories.NewNotificationRepository(db),
		nil,
		m,
		claims.Options{Production: cfg.IsProduction()},
	)
	svc := services.NewRedemptionService(engine, nil, tracing.Disabled(), m)

	server := NewServer(cfg, Dependencies{
		Redeemer: svc,
		Items:    engine,
		Metrics:  m,
		Tracer:   tracing.Disabled(),
		HealthChecks: map[string]handlers.HealthCheck{
			"database": func(context.Context) error { return database.Ping(db) },
		},
	})
	return &testServer{router: server.Router(), engine: engine}
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) redeem(itemID, identityID string, issuedAt time.Time) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/v1/redemptions", map[string]string{
		"payload":        fmt.Sprintf(`{"fmt":"rwd","v":1,"item":%q,"iat":%d}`, itemID, issuedAt.Unix()),
		"identity_id":    identityID,
		"source_context": "kiosk-1",
	}, nil)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func admin() map[string]string {
	return map[string]string{adminKeyHeader: adminKey}
}

func TestRedemptionFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/admin/items", map[string]interface{}{
		"item_id":      "cap-gold",
		"total_supply": 1,
		"window_start": time.Now().Add(-time.Hour),
	}, admin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.redeem("cap-gold", "alice", time.Now())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp handlers.RedemptionResponse
	decode(t, rec, &resp)
	assert.Equal(t, claims.OutcomeSuccess, resp.Outcome)
	assert.Equal(t, 1, resp.MintNumber)
	require.NotNil(t, resp.ClaimID)
	assert.False(t, resp.Retryable)

	rec = s.redeem("cap-gold", "alice", time.Now())
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, claims.OutcomeAlreadyClaimed, resp.Outcome)
	assert.Equal(t, 1, resp.MintNumber)

	rec = s.redeem("cap-gold", "bob", time.Now())
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp = handlers.RedemptionResponse{}
	decode(t, rec, &resp)
	assert.Equal(t, claims.OutcomeSoldOut, resp.Outcome)
	assert.Nil(t, resp.ClaimID)

	rec = s.do(http.MethodGet, "/api/v1/items/cap-gold/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	decode(t, rec, &status)
	assert.EqualValues(t, 1, status["claimed_count"])
	assert.EqualValues(t, 0, status["available"])

	rec = s.do(http.MethodGet, "/api/v1/items/cap-gold/claims/alice", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/items/cap-gold/claims/bob", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedemptionInputErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.redeem("cap-gold", "alice", time.Now().Add(-25*time.Hour))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.redeem("ghost", "alice", time.Now())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/redemptions", map[string]string{"payload": "garbage", "identity_id": "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp handlers.RedemptionResponse
	decode(t, rec, &resp)
	assert.Equal(t, claims.OutcomeMalformedPayload, resp.Outcome)

	rec = s.do(http.MethodPost, "/api/v1/redemptions", map[string]string{"payload": "{}"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr handlers.ErrorResponse
	decode(t, rec, &apiErr)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)

	rec = s.redeem("cap-gold", "alice", time.Now())
	assert.Equal(t, http.StatusConflict, rec.Code, "scarce item without ledger row is not available")

	rec = s.redeem("sticker", "alice", time.Now())
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RatePerMinute = 1
		cfg.Server.RateBurst = 2
	})

	assert.Equal(t, http.StatusCreated, s.redeem("sticker", "alice", time.Now()).Code)
	assert.Equal(t, http.StatusOK, s.redeem("sticker", "alice", time.Now()).Code)

	rec := s.redeem("sticker", "alice", time.Now())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiterSweep(t *testing.T) {
	r := NewRateLimiter(60, 1)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	assert.True(t, r.allow("10.0.0.1"))
	assert.False(t, r.allow("10.0.0.1"))

	current = current.Add(visitorIdleTTL + time.Minute)
	r.Sweep()
	assert.Empty(t, r.visitors)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/admin/items", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/items", nil, map[string]string{adminKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/items", nil, admin())
	assert.Equal(t, http.StatusOK, rec.Code)

	disabled := newTestServer(t, func(cfg *config.Config) { cfg.Server.AdminKey = "" })
	rec = disabled.do(http.MethodGet, "/api/v1/admin/items", nil, admin())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminItemLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	start := time.Now().Add(-time.Hour)

	body := map[string]interface{}{"item_id": "cap-gold", "total_supply": 1, "window_start": start}
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/admin/items", body, admin()).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/admin/items", body, admin()).Code)

	invalid := map[string]interface{}{"item_id": "cap-bad", "total_supply": 0, "window_start": start}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/admin/items", invalid, admin()).Code)

	require.Equal(t, http.StatusCreated, s.redeem("cap-gold", "alice", time.Now()).Code)

	rec := s.do(http.MethodGet, "/api/v1/admin/items/cap-gold/claims", nil, admin())
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Claims []map[string]interface{} `json:"claims"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Claims, 1)
	assert.EqualValues(t, 1, list.Claims[0]["mint_number"])

	rec = s.do(http.MethodGet, "/api/v1/admin/items/cap-gold/verify", nil, admin())
	require.Equal(t, http.StatusOK, rec.Code)
	var v claims.Verification
	decode(t, rec, &v)
	assert.True(t, v.Consistent)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/v1/admin/items/cap-gold/reset", nil, admin()).Code)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/v1/admin/items/cap-gold/deactivate", nil, admin()).Code)

	rec = s.redeem("cap-gold", "alice", time.Now())
	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp handlers.RedemptionResponse
	decode(t, rec, &resp)
	assert.Equal(t, claims.OutcomeNotAvailable, resp.Outcome)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/admin/items/missing/deactivate", nil, admin()).Code)
}

func TestAdminResetRefusedInProduction(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Environment = "production" })
	_, err := s.engine.CreateScarceItem(context.Background(), "cap-gold", 1, time.Now(), nil)
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/api/v1/admin/items/cap-gold/reset", nil, admin())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	gin.SetMode(gin.TestMode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.redeem("sticker", "alice", time.Now())
	rec = s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Contains(t, body, "counters")

	hidden := newTestServer(t, func(cfg *config.Config) { cfg.Server.MetricsEnabled = false })
	assert.Equal(t, http.StatusNotFound, hidden.do(http.MethodGet, "/metrics", nil, nil).Code)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/health", nil, map[string]string{requestIDKey: "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get(requestIDKey))

	rec = s.do(http.MethodGet, "/health", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(requestIDKey))
}
