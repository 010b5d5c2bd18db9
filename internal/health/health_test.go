package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/health"
)

type probeBody struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Checks  map[string]struct {
		Status     string `json:"status"`
		Error      string `json:"error"`
		DurationMs int64  `json:"duration_ms"`
	} `json:"checks"`
}

func doProbe(t *testing.T, handler http.HandlerFunc, path string) (int, probeBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body probeBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return rr.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := health.New()
	code, body := doProbe(t, h.Healthz, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "aidm", body.Service)
	require.Equal(t, "ok", body.Status)
}

func TestReadyz_AllChecksPass(t *testing.T) {
	t.Parallel()
	h := health.New(
		health.Checker{Name: "database", Check: func(ctx context.Context) error { return nil }},
		health.Checker{Name: "profiles", Check: func(ctx context.Context) error { return nil }},
	)
	code, body := doProbe(t, h.Readyz, "/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body.Status)
	require.Len(t, body.Checks, 2)
	require.Equal(t, "ok", body.Checks["database"].Status)
}

func TestReadyz_NamesFailingDependency(t *testing.T) {
	t.Parallel()
	h := health.New(
		health.Checker{Name: "database", Check: func(ctx context.Context) error { return nil }},
		health.Checker{Name: "providers", Check: func(ctx context.Context) error {
			return errors.New("openai suspended")
		}},
	)
	code, body := doProbe(t, h.Readyz, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "ok", body.Checks["database"].Status)
	require.Equal(t, "fail", body.Checks["providers"].Status)
	require.Contains(t, body.Checks["providers"].Error, "openai suspended")
}

func TestReadyz_ChecksRespectContext(t *testing.T) {
	t.Parallel()
	h := health.New(health.Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	// A cancelled request context propagates into the check.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
