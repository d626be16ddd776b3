package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarelabs/snare/internal/config"
	"github.com/snarelabs/snare/internal/gate"
)

const humanUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:                     "0",
		Env:                      "test",
		LogLevel:                 "error",
		DecoyMinDelay:            time.Millisecond,
		DecoyMaxDelay:            2 * time.Millisecond,
		EscalationPolicy:         "flag",
		ProfileSamplesPerChannel: 100,
		ProfileIdleTimeout:       time.Minute,
		ProfileMaxEntries:        100,
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func evaluateBody(sourceID, path, userAgent string) map[string]interface{} {
	return map[string]interface{}{
		"telemetry": map[string]interface{}{"userAgent": userAgent},
		"request":   map[string]interface{}{"sourceId": sourceID, "path": path, "method": "GET"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestLivenessEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessEndpoint_NotReadyBeforeRun(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "snare_http_requests_total")
}

func TestEvaluate_CleanBrowserAllowed(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/evaluate", evaluateBody("1.2.3.4", "/products", humanUA))
	require.Equal(t, http.StatusOK, w.Code)

	var d gate.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, gate.ActionAllow, d.Action)
	assert.Less(t, d.RiskScore, uint8(40))
}

func TestEvaluate_ScriptedClientFlagged(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/evaluate", evaluateBody("1.2.3.5", "/products", "curl/7.68.0"))
	require.Equal(t, http.StatusOK, w.Code)

	var d gate.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, gate.ActionAllow, d.Action, "default policy flags, never blocks")
	assert.GreaterOrEqual(t, d.RiskScore, uint8(50))
	assert.Contains(t, d.Flags, gate.FlagSuspicionExceeded)
}

func TestEvaluate_DecoyPathReturnsDeceive(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/evaluate", evaluateBody("1.2.3.6", "/.env", "curl/7.68.0"))
	require.Equal(t, http.StatusOK, w.Code)

	var d gate.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, gate.ActionDeceive, d.Action)
	assert.Equal(t, "/.env", d.DecoyKey)
	assert.Contains(t, d.Flags, gate.FlagDecoyAccess)
}

func TestEvaluate_InvalidBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluate_InvalidSourceID(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/evaluate", evaluateBody("bad id with spaces", "/", humanUA))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecoyServedEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/.env", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "DB_PASSWORD")
	assert.NotEmpty(t, w.Header().Get("X-Artificial-Delay"))

	// The hit must show up in the attacker profile for the test client IP.
	p := doJSON(t, srv, http.MethodGet, "/v1/profiles/192.0.2.1", nil)
	require.Equal(t, http.StatusOK, p.Code)
	assert.Contains(t, p.Body.String(), `"/.env"`)
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/no/such/page", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRepeatedDecoyHitsEscalateToBlock(t *testing.T) {
	srv := newTestServer(t)

	// Critical-trap weight accumulates per attempt, so repeated /.env hits
	// push the source over the blacklist threshold; after that every path
	// is refused.
	for i := 0; i < 6; i++ {
		doJSON(t, srv, http.MethodGet, "/.env", nil)
	}

	w := doJSON(t, srv, http.MethodGet, "/products", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProfileNotFound(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/profiles/9.9.9.9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListProfiles(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, srv, http.MethodGet, "/admin", nil)

	w := doJSON(t, srv, http.MethodGet, "/v1/profiles", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Profiles []json.RawMessage `json:"profiles"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestListAttempts_Paginated(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 5; i++ {
		doJSON(t, srv, http.MethodGet, "/backup.zip", nil)
	}

	w := doJSON(t, srv, http.MethodGet, "/v1/profiles/192.0.2.1/attempts?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Attempts   []json.RawMessage `json:"attempts"`
		NextCursor string            `json:"nextCursor"`
		HasMore    bool              `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Attempts, 3)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	w = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/v1/profiles/192.0.2.1/attempts?limit=3&cursor=%s", page.NextCursor), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Attempts, 2)
	assert.False(t, page.HasMore)
}

func TestListDecoys(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/decoys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/.env")
	assert.NotContains(t, w.Body.String(), "DB_PASSWORD", "payloads must not leak")
}

func TestNotFoundHasRequestID(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/nope", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
