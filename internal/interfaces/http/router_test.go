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

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/config"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/keyip-renewals/internal/interfaces/http/handlers"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

type actorWorkflow struct {
	appRenewal.WorkflowService
	actor string
}

func (w *actorWorkflow) Abandon(ctx context.Context, ids []int64) (*commontypes.BatchResult, error) {
	w.actor = appRenewal.ActorFromContext(ctx)
	return commontypes.Succeeded(len(ids), "abandoned"), nil
}

func (w *actorWorkflow) GetNextStep(s domainRenewal.Step) (domainRenewal.Step, bool) {
	return domainRenewal.GetNextStep(s)
}

func newTestRouter(t *testing.T, wf appRenewal.WorkflowService) (http.Handler, prometheus.MetricsCollector) {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "router_test"}, logging.NewNopLogger())
	require.NoError(t, err)
	metrics := prometheus.NewRenewalMetrics(collector)

	rh := handlers.NewRenewalHandler(nil, wf, nil, nil, logging.NewNopLogger())
	return NewRouter(RouterConfig{
		RenewalHandler:   rh,
		HealthHandler:    handlers.NewHealthHandler("test"),
		Logger:           logging.NewNopLogger(),
		Metrics:          metrics,
		MetricsCollector: collector,
	}), collector
}

func TestRouter_ResolvesActorFromHeader(t *testing.T) {
	wf := &actorWorkflow{}
	router, _ := newTestRouter(t, wf)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/renewals/abandon", strings.NewReader(`{"ids":[1]}`))
	req.Header.Set("X-User-ID", "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", wf.actor)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/renewals/abandon", strings.NewReader(`{"ids":[1]}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, appRenewal.SystemActor, wf.actor)
}

func TestRouter_ProbesAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, &actorWorkflow{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/renewals/workflow/next?step=OPEN", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `router_test_http_requests_total{method="GET",path="/api/v1/renewals/workflow/next",status_code="200"} 1`)
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, &actorWorkflow{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/patents", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(config.ServerConfig{Port: 8089}, http.NewServeMux(), nil)
	assert.Equal(t, ":8089", s.Addr())
	assert.Equal(t, 30*time.Second, s.shutdownTimeout)
	assert.Equal(t, 15*time.Second, s.srv.ReadTimeout)
	assert.NoError(t, s.Stop(context.Background()))
}
