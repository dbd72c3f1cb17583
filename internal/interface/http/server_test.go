package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/command"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/pipeline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/query"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/persistence/projections"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/interface/http/handlers"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type stubAlertRepo struct {
	byID     map[string]alert.AlertEvent
	lastOpts alert.ListOptions
}

func newStubAlertRepo() *stubAlertRepo {
	return &stubAlertRepo{byID: map[string]alert.AlertEvent{}}
}

func (s *stubAlertRepo) Upsert(_ context.Context, e *alert.AlertEvent) error {
	s.byID[e.ID] = *e
	return nil
}

func (s *stubAlertRepo) GetByID(_ context.Context, id string) (*alert.AlertEvent, error) {
	if e, ok := s.byID[id]; ok {
		copied := e
		return &copied, nil
	}
	return nil, alert.ErrAlertNotFound
}

func (s *stubAlertRepo) ListByStudent(_ context.Context, studentID observation.StudentID, opts alert.ListOptions) ([]alert.AlertEvent, error) {
	s.lastOpts = opts
	out := make([]alert.AlertEvent, 0)
	for _, e := range s.byID {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubAlertRepo) ListSnoozedExpired(_ context.Context, _ time.Time) ([]alert.AlertEvent, error) {
	return nil, nil
}

func (s *stubAlertRepo) Update(_ context.Context, e *alert.AlertEvent) error {
	if _, ok := s.byID[e.ID]; !ok {
		return alert.ErrAlertNotFound
	}
	s.byID[e.ID] = *e
	return nil
}

func (s *stubAlertRepo) DeleteTerminalBefore(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

type stubBaselineRepo struct {
	byStudent map[observation.StudentID]*baseline.StudentBaseline
}

func (s *stubBaselineRepo) Get(_ context.Context, id observation.StudentID) (*baseline.StudentBaseline, error) {
	if b, ok := s.byStudent[id]; ok {
		return b, nil
	}
	return nil, baseline.ErrBaselineNotFound
}

func (s *stubBaselineRepo) Save(_ context.Context, b *baseline.StudentBaseline) error {
	s.byStudent[b.StudentID] = b
	return nil
}

type stubObservationRepo struct{}

func (stubObservationRepo) GetEmotions(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.EmotionObservation, error) {
	return nil, nil
}

func (stubObservationRepo) GetSensory(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.SensoryObservation, error) {
	return nil, nil
}

func (stubObservationRepo) GetSessions(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.TrackingSession, error) {
	return nil, nil
}

func (stubObservationRepo) GetInterventions(_ context.Context, _ observation.StudentID) ([]observation.Intervention, error) {
	return nil, nil
}

func (stubObservationRepo) GetGoals(_ context.Context, _ observation.StudentID) ([]observation.Goal, error) {
	return nil, nil
}

func (stubObservationRepo) ListStudentIDs(_ context.Context, _ time.Time) ([]observation.StudentID, error) {
	return nil, nil
}

type stubOverrideRepo struct {
	byType map[detection.Type]experiment.ThresholdOverride
}

func newStubOverrideRepo() *stubOverrideRepo {
	return &stubOverrideRepo{byType: map[detection.Type]experiment.ThresholdOverride{}}
}

func (s *stubOverrideRepo) Get(_ context.Context, t detection.Type) (*experiment.ThresholdOverride, error) {
	if o, ok := s.byType[t]; ok {
		return &o, nil
	}
	return nil, experiment.ErrOverrideNotFound
}

func (s *stubOverrideRepo) GetAll(_ context.Context) ([]experiment.ThresholdOverride, error) {
	out := make([]experiment.ThresholdOverride, 0, len(s.byType))
	for _, o := range s.byType {
		out = append(out, o)
	}
	return out, nil
}

func (s *stubOverrideRepo) Save(_ context.Context, o experiment.ThresholdOverride) error {
	s.byType[o.DetectorType] = o
	return nil
}

type stubRequestMetrics struct {
	routes   []string
	statuses []int
}

func (s *stubRequestMetrics) RecordHTTPRequest(_ string, route string, status int, _ time.Duration) {
	s.routes = append(s.routes, route)
	s.statuses = append(s.statuses, status)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EnableCORS = false
	cfg.EnableMetrics = false
	cfg.RateLimitPerMinute = 0
	return cfg
}

func fullDeps(alerts *stubAlertRepo, baselines *stubBaselineRepo) Dependencies {
	engine := pipeline.NewService(nil, nil, nil, stats.TauU, nil, nil, pipeline.DefaultConfig())
	return Dependencies{
		GetAlertsHandler:       query.NewGetAlertsHandler(alerts),
		GetBaselineHandler:     query.NewGetBaselineHandler(baselines, nil, nil),
		TransitionAlertHandler: command.NewTransitionAlertHandler(alerts, nil, nil),
		RecordFeedbackHandler:  command.NewRecordFeedbackHandler(alerts, newStubOverrideRepo(), nil, nil),
		RunDetectionHandler:    command.NewRunDetectionHandler(stubObservationRepo{}, alerts, engine, nil, nil, command.RunDetectionHandlerConfig{}),
	}
}

func seedServerAlert(repo *stubAlertRepo, status alert.Status) {
	repo.byID["a1"] = alert.AlertEvent{
		ID:        "a1",
		StudentID: "s1",
		Kind:      alert.KindBehaviorSpike,
		Label:     "anxious",
		Severity:  alert.SeverityHigh,
		Status:    status,
		Sources: []alert.Source{
			{Detector: detection.TypeTrend, Score: 0.9, Confidence: 0.8, Rank: 1},
		},
	}
}

// serve runs a request through the full middleware chain.
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

// ─── health & root ───────────────────────────────────────────────────────────

func TestHandleRootServesAPIInfo(t *testing.T) {
	s := NewServer(testConfig(), Dependencies{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Kreativium Insights Hub API")
}

func TestHealthEndpoints(t *testing.T) {
	s := NewServer(testConfig(), Dependencies{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestHealthReflectsChecker(t *testing.T) {
	hc := handlers.NewCompositeHealthChecker("v1")
	hc.AddCheck("database", func(context.Context) error { return assert.AnError })

	s := NewServer(testConfig(), Dependencies{HealthChecker: hc})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

// ─── alert routes ────────────────────────────────────────────────────────────

func TestListAlertsRoute(t *testing.T) {
	alerts := newStubAlertRepo()
	seedServerAlert(alerts, alert.StatusNew)
	s := NewServer(testConfig(), fullDeps(alerts, &stubBaselineRepo{}))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/s1/alerts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a1")
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestListAlertsPassesFilterAndPagination(t *testing.T) {
	alerts := newStubAlertRepo()
	s := NewServer(testConfig(), fullDeps(alerts, &stubBaselineRepo{}))

	rec := serve(s, httptest.NewRequest(http.MethodGet,
		"/api/v1/students/s1/alerts?status=new,snoozed&page=3&page_size=20", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []alert.Status{alert.StatusNew, alert.StatusSnoozed}, alerts.lastOpts.Statuses)
	assert.Equal(t, 20, alerts.lastOpts.Limit)
	assert.Equal(t, 40, alerts.lastOpts.Offset)
}

func TestListAlertsRejectsUnknownStatus(t *testing.T) {
	s := NewServer(testConfig(), fullDeps(newStubAlertRepo(), &stubBaselineRepo{}))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/s1/alerts?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestTransitionAlertRoute(t *testing.T) {
	alerts := newStubAlertRepo()
	seedServerAlert(alerts, alert.StatusNew)
	s := NewServer(testConfig(), fullDeps(alerts, &stubBaselineRepo{}))

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a1/transition",
		strings.NewReader(`{"status":"acknowledged","actor":"teacher-1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := alerts.GetByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, stored.Status)
}

func TestTransitionAlertRouteErrors(t *testing.T) {
	alerts := newStubAlertRepo()
	seedServerAlert(alerts, alert.StatusNew)
	s := NewServer(testConfig(), fullDeps(alerts, &stubBaselineRepo{}))

	// Malformed body.
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a1/transition",
		strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown alert.
	rec = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/missing/transition",
		strings.NewReader(`{"status":"acknowledged"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")

	// Illegal state machine jump.
	rec = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a1/transition",
		strings.NewReader(`{"status":"resolved"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_transition")
}

func TestRecordFeedbackRoute(t *testing.T) {
	alerts := newStubAlertRepo()
	seedServerAlert(alerts, alert.StatusNew)
	s := NewServer(testConfig(), fullDeps(alerts, &stubBaselineRepo{}))

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a1/feedback",
		strings.NewReader(`{"outcome":"dismissed","actor":"teacher-1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := alerts.GetByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusDismissed, stored.Status)
}

func TestRecordFeedbackRouteRejectsUnknownOutcome(t *testing.T) {
	alerts := newStubAlertRepo()
	seedServerAlert(alerts, alert.StatusNew)
	s := NewServer(testConfig(), fullDeps(alerts, &stubBaselineRepo{}))

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a1/feedback",
		strings.NewReader(`{"outcome":"maybe"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─── baseline, detection & summaries ─────────────────────────────────────────

func TestGetBaselineRoute(t *testing.T) {
	baselines := &stubBaselineRepo{byStudent: map[observation.StudentID]*baseline.StudentBaseline{
		"s1": {StudentID: "s1", SessionCount: 15},
	}}
	s := NewServer(testConfig(), fullDeps(newStubAlertRepo(), baselines))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/s1/baseline", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/unknown/baseline", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestRunDetectionRoute(t *testing.T) {
	s := NewServer(testConfig(), fullDeps(newStubAlertRepo(), &stubBaselineRepo{}))

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/students/s1/detect", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestSummaryRoutes(t *testing.T) {
	view := projections.NewInsightCardView()
	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "behavior_spike", "anxious", "high", 0.9, 0.8))

	deps := fullDeps(newStubAlertRepo(), &stubBaselineRepo{})
	deps.InsightCards = view
	s := NewServer(testConfig(), deps)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/s1/summary", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "s1")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/unknown/summary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/summaries", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnconfiguredHandlersReturnNotImplemented(t *testing.T) {
	s := NewServer(testConfig(), Dependencies{})

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/students/s1/alerts"},
		{http.MethodGet, "/api/v1/students/s1/baseline"},
		{http.MethodGet, "/api/v1/students/s1/summary"},
		{http.MethodGet, "/api/v1/students/summaries"},
		{http.MethodPost, "/api/v1/students/s1/detect"},
		{http.MethodPost, "/api/v1/alerts/a1/transition"},
		{http.MethodPost, "/api/v1/alerts/a1/feedback"},
	} {
		rec := serve(s, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, tc.path)
	}
}

// ─── middleware chain ────────────────────────────────────────────────────────

func TestAPIKeyProtectsOnlyAPIRoutes(t *testing.T) {
	hash, err := handlers.HashKey("secret")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.APIKeyHashes = []string{hash}
	s := NewServer(cfg, fullDeps(newStubAlertRepo(), &stubBaselineRepo{}))

	// Health stays open.
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/s1/alerts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/students/s1/alerts", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = serve(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.EnableCORS = true
	cfg.AllowedOrigins = []string{"https://app.kreativium.no"}
	s := NewServer(cfg, Dependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/students/s1/alerts", nil)
	req.Header.Set("Origin", "https://app.kreativium.no")
	rec := serve(s, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.kreativium.no", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unknown origins get no CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/students/s1/alerts", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	s := NewServer(cfg, Dependencies{})

	for i := 0; i < 2; i++ {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRequestIDPropagation(t *testing.T) {
	s := NewServer(testConfig(), Dependencies{})

	// Generated when absent.
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// Echoed when supplied.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = serve(s, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddlewareReturns500(t *testing.T) {
	s := NewServer(testConfig(), Dependencies{})
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	s.buildMiddlewareChain(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_server_error")
}

func TestRequestMetricsRecording(t *testing.T) {
	metrics := &stubRequestMetrics{}
	deps := fullDeps(newStubAlertRepo(), &stubBaselineRepo{})
	deps.RequestMetrics = metrics
	s := NewServer(testConfig(), deps)

	serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/students/s1/alerts", nil))

	require.Len(t, metrics.routes, 1)
	assert.Equal(t, "GET /api/v1/students/{id}/alerts", metrics.routes[0])
	assert.Equal(t, http.StatusOK, metrics.statuses[0])
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.EnableMetrics = true
	s := NewServer(cfg, Dependencies{
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	assert.True(t, rl.Allow("ip1"))
	assert.True(t, rl.Allow("ip1"))
	assert.False(t, rl.Allow("ip1"))

	// Separate keys have separate budgets.
	assert.True(t, rl.Allow("ip2"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.3")
	assert.Equal(t, "10.0.0.3", getClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:12345"
	assert.Equal(t, "192.168.1.5", getClientIP(req))
}

func TestGetQueryParamInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&bad=x", nil)
	assert.Equal(t, 3, getQueryParamInt(req, "page", 1))
	assert.Equal(t, 1, getQueryParamInt(req, "bad", 1))
	assert.Equal(t, 1, getQueryParamInt(req, "missing", 1))
}
