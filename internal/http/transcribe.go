package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

const (
	defaultUploadSize = 10 << 20 // 10MB
	defaultAudioName  = "audio.mp4"
	defaultAudioType  = "audio/mp4"
	maxFieldSize      = 1 << 10
)

var errUploadTooLarge = errors.New("Audio file too large")

// TranscribeHandler handles POST /api/transcribe: a multipart upload with the
// recording in "file" and the target bridge in "bridgeId".
type TranscribeHandler struct {
	invoker   Invoker
	metrics   *metrics.Metrics
	limit     *gateway.RateLimiter
	maxUpload int64
}

func NewTranscribeHandler(invoker Invoker, m *metrics.Metrics, limit *gateway.RateLimiter, maxUpload int64) *TranscribeHandler {
	if maxUpload <= 0 {
		maxUpload = defaultUploadSize
	}
	return &TranscribeHandler{invoker: invoker, metrics: m, limit: limit, maxUpload: maxUpload}
}

func (h *TranscribeHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/transcribe", rateLimited(h.limit, "Too many requests, slow down", h.handleTranscribe)).
		Methods(http.MethodPost)
}

type upload struct {
	bridgeID string
	audio    []byte
	filename string
	mimeType string
}

type transcribeResponse struct {
	Text    string `json:"text"`
	Skipped bool   `json:"skipped,omitempty"`
}

func (h *TranscribeHandler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r)
	switch {
	case errors.Is(err, errUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	if up.bridgeID == "" {
		writeError(w, http.StatusBadRequest, "bridgeId required")
		return
	}
	if len(up.audio) == 0 {
		writeError(w, http.StatusBadRequest, "No audio")
		return
	}

	raw, err := h.invoker.Invoke(r.Context(), up.bridgeID, protocol.KindTranscribe, protocol.TranscribeRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(up.audio),
		MimeType:    up.mimeType,
		Filename:    up.filename,
	})
	if err != nil {
		slog.Warn("transcribe.failed", "bridge_id", up.bridgeID, "error", err)
		writeInvokeError(w, err)
		return
	}

	var res protocol.TranscribeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		writeInvokeError(w, &gateway.BackendError{Message: "Bridge returned invalid JSON"})
		return
	}

	if isHallucination(res.Text) {
		h.metrics.TranscriptSkipped()
		slog.Debug("transcribe.skipped", "bridge_id", up.bridgeID, "chars", len(res.Text))
		writeJSON(w, http.StatusOK, transcribeResponse{Text: "", Skipped: true})
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: res.Text})
}

// readUpload streams the multipart body, keeping the first file part and the
// bridgeId field. Other parts are discarded.
func (h *TranscribeHandler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	// Leave room for the multipart framing and form fields around the file.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+maxRequestBodySize)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	up := &upload{filename: defaultAudioName, mimeType: defaultAudioType}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return up, nil
		}
		if err != nil {
			return nil, uploadError(err)
		}

		switch part.FormName() {
		case "file":
			if up.audio != nil {
				break
			}
			data, err := io.ReadAll(io.LimitReader(part, h.maxUpload+1))
			if err != nil {
				return nil, uploadError(err)
			}
			if int64(len(data)) > h.maxUpload {
				return nil, errUploadTooLarge
			}
			up.audio = data
			if name := part.FileName(); name != "" {
				up.filename = name
			}
			if ct := part.Header.Get("Content-Type"); ct != "" {
				up.mimeType = ct
			}
		case "bridgeId":
			v, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			if err != nil {
				return nil, uploadError(err)
			}
			up.bridgeID = strings.TrimSpace(string(v))
		}
		part.Close()
	}
}

func uploadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errUploadTooLarge
	}
	return err
}
