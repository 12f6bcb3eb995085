package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBackendType(t *testing.T) {
	v, err := NormalizeBackendType(" Ollama ")
	require.NoError(t, err)
	assert.Equal(t, BackendOllama, v)

	_, err = NormalizeBackendType("gemini")
	assert.Error(t, err)
}

func TestNormalizeBackendURL(t *testing.T) {
	v, err := NormalizeBackendURL("http://127.0.0.1:18789///")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:18789", v)

	for _, bad := range []string{"", "ftp://host", "localhost:1234", "http://"} {
		_, err := NormalizeBackendURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalizeAPIBase(t *testing.T) {
	v, err := NormalizeAPIBase("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIBase, v)

	v, err = NormalizeAPIBase("http://localhost:3000/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", v)
}

func TestBridgeWSURL(t *testing.T) {
	u, err := BridgeWSURL("https://www.voiceclaw.io/", "/api/bridge/ws", "br_1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "wss://www.voiceclaw.io/api/bridge/ws?bridgeId=br_1&token=tok", u)

	u, err = BridgeWSURL("http://localhost:3000", "/api/bridge/ws", "br_1", "a+b")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3000/api/bridge/ws?bridgeId=br_1&token=a%2Bb", u)

	_, err = BridgeWSURL("ftp://x", "/api/bridge/ws", "b", "t")
	assert.Error(t, err)
}
