package backends

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, p, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestDetector_FindsAliveBackends(t *testing.T) {
	// Any status counts, including 401 from a gateway that wants a token.
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ollama.Close()

	d := &Detector{
		Home: t.TempDir(),
		probes: []localProbe{
			{typ: config.BackendOpenClaw, label: "OpenClaw", port: closedPort(t), path: "/v1/models", needsToken: true},
			{typ: config.BackendOllama, label: "Ollama", port: serverPort(t, ollama), path: "/api/tags"},
		},
	}
	found := d.Detect(context.Background())
	require.Len(t, found, 1)
	assert.Equal(t, config.BackendOllama, found[0].Type)
	assert.Equal(t, ollama.URL, found[0].URL)
	assert.False(t, found[0].NeedsToken)
}

func TestDetector_OpenClawAutoConfig(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".openclaw"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".openclaw", "openclaw.json"), []byte(`{
		// JSON5, as OpenClaw writes it
		gateway: { port: `+strconv.Itoa(serverPort(t, gw))+`, auth: { token: "oc-secret" } },
	}`), 0o600))

	d := &Detector{
		Home:   home,
		probes: []localProbe{{typ: config.BackendOpenClaw, label: "OpenClaw", port: 18789, path: "/v1/models", needsToken: true}},
	}
	found := d.Detect(context.Background())
	require.Len(t, found, 1)
	assert.Equal(t, "oc-secret", found[0].Token)
	assert.True(t, found[0].AutoConfigured)
	assert.Equal(t, gw.URL, found[0].URL)
}

func TestLoadOpenClawConfig_DefaultPort(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".openclaw"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".openclaw", "openclaw.json"), []byte(`{"gateway":{}}`), 0o600))

	cfg, err := LoadOpenClawConfig(home)
	require.NoError(t, err)
	assert.Equal(t, 18789, cfg.Port)
	assert.Empty(t, cfg.Token)

	_, err = LoadOpenClawConfig(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalBackends(t *testing.T) {
	local := LocalBackends()
	require.Len(t, local, 3)

	assert.Equal(t, config.BackendOpenClaw, local[0].Type)
	assert.Equal(t, "http://127.0.0.1:18789", local[0].URL)
	assert.True(t, local[0].NeedsToken)
	assert.Equal(t, "OpenClaw gateway token", local[0].TokenPrompt)

	assert.Equal(t, config.BackendOllama, local[1].Type)
	assert.False(t, local[1].NeedsToken)
	assert.Empty(t, local[1].TokenPrompt)
}
