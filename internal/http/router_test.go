package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/internal/pairing"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

const testAdminToken = "s3cret"

type testServer struct {
	handler http.Handler
	pairing *pairing.Service
	gateway *gateway.Server
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Security.AdminToken = testAdminToken
	if mutate != nil {
		mutate(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := pairing.NewService(pairing.Config{})
	m := metrics.New()
	traces := tracing.NewCollector()
	gw := gateway.NewServer(svc, gateway.Config{InvokeTimeout: time.Second, Metrics: m, Traces: traces})
	svc.SetPresence(gw)
	t.Cleanup(func() {
		gw.Shutdown()
		cancel()
	})

	h := NewRouter(ctx, Deps{Config: cfg, Pairing: svc, Gateway: gw, Metrics: m, Traces: traces})
	return &testServer{handler: h, pairing: svc, gateway: gw, metrics: m}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PingAndSecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		OK bool  `json:"ok"`
		TS int64 `json:"ts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.OK)
	assert.InDelta(t, time.Now().UnixMilli(), out.TS, 5000)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
}

func TestRouter_CORS(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/respond", nil)
	req.Header.Set("Origin", "https://voiceclaw.io")
	rec := s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://voiceclaw.io", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_AdminAuth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	bearer := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	bearer.Header.Set("Authorization", "Bearer "+testAdminToken)
	header := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	header.Header.Set("X-Admin-Token", testAdminToken)
	query := httptest.NewRequest(http.MethodGet, "/api/admin/metrics?token="+testAdminToken, nil)

	for _, req := range []*http.Request{bearer, header, query} {
		assert.Equal(t, http.StatusOK, s.do(req).Code)
	}

	wrong := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	wrong.Header.Set("Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, s.do(wrong).Code)
}

func TestRouter_AdminTokenUnset(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Security.AdminToken = "" })

	req := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := s.do(req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"VOICECLAW_ADMIN_TOKEN not configured"}`, rec.Body.String())
}

func TestRouter_AdminSummaryAndPrometheus(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		rec := s.do(httptest.NewRequest(http.MethodPost, "/api/bridge/pair/start", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum metrics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.PairStarted)
	assert.Equal(t, 0, sum.PairCompleted)
	assert.Equal(t, 0.0, sum.ConversionPct)
	assert.Equal(t, 2, sum.PendingPairsNow)
	assert.Equal(t, 0, sum.OnlineNow)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "voiceclaw_pairing_started_total 2")
	assert.Contains(t, body, `voiceclaw_http_requests_total{code="2xx",route="/api/bridge/pair/start"} 2`)
}

func TestRouter_AdminTraces(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/traces?limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"spans":[],"stats":{"bridgesOnline":0,"pendingInvocations":0}}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/admin/traces?limit=abc", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	assert.Equal(t, http.StatusBadRequest, s.do(req).Code)
}

func TestRouter_RespondBridgeOffline(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(jsonRequest(http.MethodPost, "/api/respond", map[string]any{"text": "hello", "bridgeId": "br_nobody"}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"Bridge offline"}`, rec.Body.String())
}

func TestRouter_TrustProxyKeysOnForwardedFor(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Server.TrustProxy = true
		c.Security.PairStart = config.RateLimitConfig{RPM: 1, Burst: 1}
	})

	start := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/bridge/pair/start", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return s.do(req).Code
	}
	assert.Equal(t, http.StatusOK, start("203.0.113.5"))
	assert.Equal(t, http.StatusTooManyRequests, start("203.0.113.5"))
	assert.Equal(t, http.StatusOK, start("203.0.113.6"))
}

// End to end: pair over HTTP, connect a bridge over the mounted WebSocket,
// and run a voice turn through it.
func TestRouter_PairConnectRespond(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.handler)
	t.Cleanup(ts.Close)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/bridge/pair/start", nil))
	var start pairing.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = s.do(jsonRequest(http.MethodPost, "/api/bridge/pair/complete", map[string]any{"pairCode": start.PairCode}))
	require.Equal(t, http.StatusOK, rec.Code)
	var id pairing.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + protocol.BridgePath + "?bridgeId=" + id.BridgeID + "&token=" + id.WSToken
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.gateway.IsConnected(id.BridgeID) }, time.Second, 5*time.Millisecond)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := protocol.ParseInvoke(data)
			if err != nil {
				continue
			}
			payload := json.RawMessage(`{"audioBase64":"QUJD"}`)
			if f.Payload.Kind == string(protocol.KindChatCompletions) {
				payload = json.RawMessage(`{"choices":[{"message":{"content":"Sure thing."}}]}`)
			}
			b, _ := json.Marshal(protocol.NewOKResult(f.ID, payload))
			if conn.WriteMessage(websocket.TextMessage, b) != nil {
				return
			}
		}
	}()

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/bridge/pair/status/"+start.PairID, nil))
	assert.Contains(t, rec.Body.String(), `"connected":true`)

	rec = s.do(jsonRequest(http.MethodPost, "/api/respond", map[string]any{"text": "hello", "bridgeId": id.BridgeID}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"text":"Sure thing.","audio":"QUJD"}`, rec.Body.String())

	sum := s.metrics.Summary(s.gateway.Stats().BridgesOnline, s.pairing.Counts().Pending)
	assert.Equal(t, 1, sum.UniqueBridges)
	assert.Equal(t, 1, sum.OnlineNow)
	assert.Equal(t, 100.0, sum.ConversionPct)
}

func TestRouter_GatewayCheckBlocksPrivateURL(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(jsonRequest(http.MethodPost, "/api/gateway-test",
		map[string]string{"url": "http://192.168.1.2:18789", "token": "t"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid gateway URL", decodeBody(t, rec)["error"])
}
