package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.PairStarted()
	m.PairStarted()
	m.PairCompleted()
	m.PairFailed("expired")
	m.BridgeConnected("br_1", 1)
	m.Invocation("tts", OutcomeOK, 0.2)
	m.Invocation("tts", OutcomeTimeout, 15)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pairStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pairCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pairFailed.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgesOnline))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("tts", OutcomeTimeout)))

	m.BridgeDisconnected("closed", 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.bridgesOnline))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PairStarted()
		m.BridgeConnected("br_1", 3)
		m.Invocation("tts", OutcomeOK, 1)
		m.HTTPRequest("/ping", "2xx")
		m.TranscriptSkipped()
	})
	assert.Nil(t, m.Registry())
	assert.Equal(t, Summary{OnlineNow: 2, PendingPairsNow: 1}, m.Summary(2, 1))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.PairStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "voiceclaw_pairing_started_total 1"))
}

func TestMetrics_Summary(t *testing.T) {
	m := New()
	for i := 0; i < 3; i++ {
		m.PairStarted()
	}
	m.PairCompleted()
	m.BridgeConnected("br_a", 1)
	m.BridgeDisconnected("closed", 0)
	m.BridgeConnected("br_a", 1)
	m.BridgeConnected("br_b", 2)
	m.BridgeDisconnected("invalid_token", 2)

	s := m.Summary(2, 4)
	assert.Equal(t, 3, s.PairStarted)
	assert.Equal(t, 1, s.PairCompleted)
	assert.Equal(t, 33.3, s.ConversionPct)
	assert.Equal(t, 2, s.UniqueBridges)
	assert.Equal(t, 3, s.BridgeConnectedEvents)
	assert.Equal(t, 1, s.BridgeDisconnectedEvents)
	assert.Equal(t, 2, s.OnlineNow)
	assert.Equal(t, 4, s.PendingPairsNow)
	assert.False(t, s.UpdatedAt.IsZero())
}
