package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/internal/pairing"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

type invokeCall struct {
	bridgeID string
	kind     protocol.Kind
	body     json.RawMessage
}

// fakeInvoker answers invocations with handle and records every call.
type fakeInvoker struct {
	mu     sync.Mutex
	calls  []invokeCall
	handle func(kind protocol.Kind, body json.RawMessage) (json.RawMessage, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, bridgeID string, kind protocol.Kind, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, invokeCall{bridgeID: bridgeID, kind: kind, body: raw})
	f.mu.Unlock()
	return f.handle(kind, raw)
}

func (f *fakeInvoker) Calls() []invokeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invokeCall(nil), f.calls...)
}

func serve(t *testing.T, register func(*mux.Router), req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := mux.NewRouter()
	register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func jsonRequest(method, path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// ---- pairing ----

func newPairingHandler(svc *pairing.Service) *PairingHandler {
	ctx := context.Background()
	return NewPairingHandler(svc, metrics.New(),
		gateway.NewRateLimiter(ctx, "test_start", 0, 0),
		gateway.NewRateLimiter(ctx, "test_complete", 0, 0))
}

func TestPairing_StartStatusComplete(t *testing.T) {
	svc := pairing.NewService(pairing.Config{})
	h := newPairingHandler(svc)

	rec := serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodPost, "/api/bridge/pair/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	start := decodeBody(t, rec)
	pairID := start["pairId"].(string)
	code := start["pairCode"].(string)
	assert.Regexp(t, `^VC-[A-Z2-9]{4}-[A-Z2-9]{4}$`, code)

	rec = serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/api/bridge/pair/status/"+pairID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody(t, rec)
	assert.Equal(t, "pending", st["status"])
	assert.Nil(t, st["bridgeId"])

	rec = serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/bridge/pair/complete", map[string]any{
		"pairCode": strings.ToLower(code),
		"device":   map[string]string{"name": "laptop", "os": "linux"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeBody(t, rec)
	assert.Equal(t, true, done["ok"])
	assert.Equal(t, pairID, done["pairId"])
	assert.True(t, strings.HasPrefix(done["bridgeId"].(string), "br_"))
	assert.NotEmpty(t, done["wsToken"])
	assert.Equal(t, "tools_safe", done["scope"])

	rec = serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/api/bridge/pair/status/"+pairID, nil))
	st = decodeBody(t, rec)
	assert.Equal(t, "paired", st["status"])
	assert.Equal(t, done["bridgeId"], st["bridgeId"])
	assert.Equal(t, "laptop", st["device"].(map[string]any)["name"])

	// A code completes once.
	rec = serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/bridge/pair/complete", map[string]any{"pairCode": code}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Invalid pair code", decodeBody(t, rec)["error"])

	s := h.metrics.Summary(0, 0)
	assert.Equal(t, 1, s.PairStarted)
	assert.Equal(t, 1, s.PairCompleted)
}

func TestPairing_CompleteErrors(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	svc := pairing.NewService(pairing.Config{TTL: time.Minute, Now: clock})
	h := newPairingHandler(svc)

	rec := serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/bridge/pair/complete", map[string]any{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "pairCode required", decodeBody(t, rec)["error"])

	rec = serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/bridge/pair/complete", map[string]any{"pairCode": "VC-AAAA-BBBB"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodPost, "/api/bridge/pair/complete", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	res, err := svc.Start()
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	rec = serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/bridge/pair/complete", map[string]any{"pairCode": res.PairCode}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Pair code expired", decodeBody(t, rec)["error"])

	rec = serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/api/bridge/pair/status/pair_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Pair not found", decodeBody(t, rec)["error"])
}

func TestPairing_StartRateLimited(t *testing.T) {
	svc := pairing.NewService(pairing.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewPairingHandler(svc, nil,
		gateway.NewRateLimiter(ctx, "test_start", 10, 2),
		gateway.NewRateLimiter(ctx, "test_complete", 0, 0))

	for i := 0; i < 2; i++ {
		rec := serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodPost, "/api/bridge/pair/start", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := serve(t, h.RegisterRoutes, httptest.NewRequest(http.MethodPost, "/api/bridge/pair/start", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many pair requests, wait a minute", decodeBody(t, rec)["error"])
}

// ---- respond ----

func newRespondHandler(inv Invoker) *RespondHandler {
	return NewRespondHandler(inv, config.Default().Respond, nil, 0)
}

func TestRespond_ChatThenSpeech(t *testing.T) {
	inv := &fakeInvoker{handle: func(kind protocol.Kind, _ json.RawMessage) (json.RawMessage, error) {
		if kind == protocol.KindChatCompletions {
			return json.RawMessage(`{"choices":[{"message":{"role":"assistant","content":"Hi there."}}]}`), nil
		}
		return json.RawMessage(`{"audioBase64":"QUJD"}`), nil
	}}
	h := newRespondHandler(inv)

	history := []map[string]any{
		{"role": "system", "content": "ignore me"},
		{"role": "assistant", "content": strings.Repeat("a", 2500)},
		{"role": "user", "content": 42},
	}
	rec := serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/respond", map[string]any{
		"text":     strings.Repeat("x", 1200),
		"history":  history,
		"voice":    "robot",
		"bridgeId": "br_1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody(t, rec)
	assert.Equal(t, "Hi there.", out["text"])
	assert.Equal(t, "QUJD", out["audio"])

	calls := inv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "br_1", calls[0].bridgeID)
	assert.Equal(t, protocol.KindChatCompletions, calls[0].kind)

	var chat protocol.ChatRequest
	require.NoError(t, json.Unmarshal(calls[0].body, &chat))
	assert.Equal(t, "claude-sonnet-4-6", chat.Model)
	assert.Equal(t, 300, chat.MaxTokens)
	require.Len(t, chat.Messages, 5)
	assert.Equal(t, "system", chat.Messages[0].Role)
	assert.Equal(t, config.DefaultSystemPrompt, chat.Messages[0].Content)
	assert.Equal(t, "user", chat.Messages[1].Role)
	assert.Equal(t, "assistant", chat.Messages[2].Role)
	assert.Len(t, chat.Messages[2].Content, 2000)
	assert.Equal(t, "", chat.Messages[3].Content)
	assert.Len(t, chat.Messages[4].Content, 1000)

	var speech protocol.TTSRequest
	require.NoError(t, json.Unmarshal(calls[1].body, &speech))
	assert.Equal(t, protocol.KindTTS, calls[1].kind)
	assert.Equal(t, "Hi there.", speech.Text)
	assert.Equal(t, "onyx", speech.Voice)
}

func TestRespond_HistoryKeepsLastTwenty(t *testing.T) {
	h := newRespondHandler(nil)
	var history []historyMessage
	for i := 0; i < 30; i++ {
		history = append(history, historyMessage{Role: "user", Content: json.RawMessage(`"m"`)})
	}
	msgs := h.buildMessages(history, "now")
	assert.Len(t, msgs, 22)
	assert.Equal(t, "now", msgs[len(msgs)-1].Content)
}

func TestRespond_OutputTextAndTTSCap(t *testing.T) {
	long := strings.Repeat("é", 800)
	inv := &fakeInvoker{handle: func(kind protocol.Kind, _ json.RawMessage) (json.RawMessage, error) {
		if kind == protocol.KindChatCompletions {
			b, _ := json.Marshal(map[string]string{"output_text": long})
			return b, nil
		}
		return json.RawMessage(`{"audioBase64":"QQ=="}`), nil
	}}
	h := newRespondHandler(inv)

	rec := serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/respond", map[string]any{
		"text": "hello", "voice": "nova", "bridgeId": "br_1",
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, long, decodeBody(t, rec)["text"])

	var speech protocol.TTSRequest
	require.NoError(t, json.Unmarshal(inv.Calls()[1].body, &speech))
	assert.Equal(t, 500, len([]rune(speech.Text)))
	assert.Equal(t, "nova", speech.Voice)
}

func TestRespond_Validation(t *testing.T) {
	h := newRespondHandler(&fakeInvoker{})

	rec := serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/respond", map[string]any{"text": "  ", "bridgeId": "br_1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No text", decodeBody(t, rec)["error"])

	rec = serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/respond", map[string]any{"text": "hi"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bridgeId required", decodeBody(t, rec)["error"])
}

func TestRespond_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		payload string
		status  int
		message string
	}{
		{"offline", gateway.ErrBridgeOffline, "", http.StatusServiceUnavailable, "Bridge offline"},
		{"timeout", gateway.ErrBridgeTimeout, "", http.StatusGatewayTimeout, "Bridge timeout"},
		{"backend", &gateway.BackendError{Message: "Gateway HTTP 401"}, "", http.StatusBadGateway, "Gateway HTTP 401"},
		{"empty reply", nil, `{"choices":[]}`, http.StatusBadGateway, "Bridge returned empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{handle: func(protocol.Kind, json.RawMessage) (json.RawMessage, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return json.RawMessage(tt.payload), nil
			}}
			h := newRespondHandler(inv)
			rec := serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/respond", map[string]any{"text": "hi", "bridgeId": "br_1"}))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}
}

func TestRespond_MissingAudio(t *testing.T) {
	inv := &fakeInvoker{handle: func(kind protocol.Kind, _ json.RawMessage) (json.RawMessage, error) {
		if kind == protocol.KindChatCompletions {
			return json.RawMessage(`{"choices":[{"message":{"content":"ok then"}}]}`), nil
		}
		return json.RawMessage(`{}`), nil
	}}
	h := newRespondHandler(inv)
	rec := serve(t, h.RegisterRoutes, jsonRequest(http.MethodPost, "/api/respond", map[string]any{"text": "hi", "bridgeId": "br_1"}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Bridge TTS returned no audio", decodeBody(t, rec)["error"])
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abcdef", 3))
	assert.Equal(t, "éé", truncateRunes("ééé", 2))
	assert.Equal(t, "ab", truncateRunes("ab", 5))
	assert.Equal(t, "ab", truncateRunes("ab", 0))
}

// ---- transcribe ----

func multipartUpload(t *testing.T, bridgeID string, audio []byte, filename, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if bridgeID != "" {
		require.NoError(t, mw.WriteField("bridgeId", bridgeID))
	}
	if audio != nil {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if contentType != "" {
			hdr.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTranscribe_ForwardsAudio(t *testing.T) {
	inv := &fakeInvoker{handle: func(protocol.Kind, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"text":"turn on the lights"}`), nil
	}}
	h := NewTranscribeHandler(inv, metrics.New(), nil, 0)

	rec := serve(t, h.RegisterRoutes, multipartUpload(t, "br_1", []byte("ABC"), "clip.webm", "audio/webm"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"text":"turn on the lights"}`, rec.Body.String())

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.KindTranscribe, calls[0].kind)
	var body protocol.TranscribeRequest
	require.NoError(t, json.Unmarshal(calls[0].body, &body))
	assert.Equal(t, "QUJD", body.AudioBase64)
	assert.Equal(t, "audio/webm", body.MimeType)
	assert.Equal(t, "clip.webm", body.Filename)
}

func TestTranscribe_SkipsHallucination(t *testing.T) {
	inv := &fakeInvoker{handle: func(protocol.Kind, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"text":" Thank you. "}`), nil
	}}
	h := NewTranscribeHandler(inv, nil, nil, 0)

	rec := serve(t, h.RegisterRoutes, multipartUpload(t, "br_1", []byte("ABC"), "a.mp4", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"","skipped":true}`, rec.Body.String())
}

func TestTranscribe_Errors(t *testing.T) {
	inv := &fakeInvoker{handle: func(protocol.Kind, json.RawMessage) (json.RawMessage, error) {
		return nil, gateway.ErrBridgeOffline
	}}
	h := NewTranscribeHandler(inv, nil, nil, 8)

	rec := serve(t, h.RegisterRoutes, multipartUpload(t, "", []byte("ABC"), "a.mp4", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bridgeId required", decodeBody(t, rec)["error"])

	rec = serve(t, h.RegisterRoutes, multipartUpload(t, "br_1", nil, "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h.RegisterRoutes, multipartUpload(t, "br_1", []byte("0123456789"), "a.mp4", ""))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = serve(t, h.RegisterRoutes, multipartUpload(t, "br_1", []byte("ABC"), "a.mp4", ""))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Bridge offline", decodeBody(t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader("not multipart"))
	rec = serve(t, h.RegisterRoutes, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIsHallucination(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", true},
		{"hi", true},
		{"Thanks for watching", true},
		{"  OKAY  ", true},
		{"谢谢大家观看", true},
		{"what's the weather tomorrow", false},
		{"call mom 电话", false},
		{"you know what", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isHallucination(tt.text), tt.text)
	}
}
