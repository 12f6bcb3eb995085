package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/voiceclaw/internal/crypto"
)

const (
	// HomeEnv relocates the bridge state directory (default ~/.voiceclaw).
	HomeEnv = "VOICECLAW_HOME"

	bridgeFile = "bridge.json"
	pidFile    = "bridge.pid"
	logFile    = "bridge.log"
)

// ErrNotPaired is returned when no bridge config has been saved yet.
var ErrNotPaired = errors.New("not paired. Run: voiceclaw bridge pair VC-XXXX-XXXX")

// BridgeConfig is the persisted identity and backend settings of a paired bridge.
type BridgeConfig struct {
	APIBase  string `json:"apiBase"`
	BridgeID string `json:"bridgeId"`
	WSToken  string `json:"wsToken"`
	Scope    string `json:"scope,omitempty"`

	BackendType  string `json:"backendType"`
	BackendURL   string `json:"backendUrl,omitempty"`
	BackendToken string `json:"backendToken,omitempty"`

	AnthropicKey  string `json:"anthropicKey,omitempty"`
	OpenAIKey     string `json:"openaiKey,omitempty"`
	GroqKey       string `json:"groqKey,omitempty"`
	ElevenLabsKey string `json:"elevenLabsKey,omitempty"`
	TTSProvider   string `json:"ttsProvider,omitempty"`

	PairedAt time.Time `json:"pairedAt"`
	Version  string    `json:"version,omitempty"`
}

// HasVoiceKeys reports whether both speech-to-text and text-to-speech can run.
func (c *BridgeConfig) HasVoiceKeys() (stt, tts bool) {
	stt = c.GroqKey != ""
	switch c.TTSProvider {
	case TTSElevenLabs:
		tts = c.ElevenLabsKey != ""
	default:
		tts = c.OpenAIKey != ""
	}
	return stt, tts
}

// secrets lists the fields sealed at rest.
func (c *BridgeConfig) secrets() []*string {
	return []*string{&c.WSToken, &c.BackendToken, &c.AnthropicKey, &c.OpenAIKey, &c.GroqKey, &c.ElevenLabsKey}
}

// Home returns the bridge state directory.
func Home() string {
	if v := os.Getenv(HomeEnv); v != "" {
		return ExpandHome(v)
	}
	return ExpandHome("~/.voiceclaw")
}

// BridgeStore reads and writes bridge.json, the pid file and the log path
// under one directory.
type BridgeStore struct {
	dir    string
	sealer *crypto.Sealer
}

// NewBridgeStore returns a store rooted at dir. A nil sealer stores secrets in plain text.
func NewBridgeStore(dir string, sealer *crypto.Sealer) *BridgeStore {
	return &BridgeStore{dir: dir, sealer: sealer}
}

func (s *BridgeStore) Dir() string     { return s.dir }
func (s *BridgeStore) Path() string    { return filepath.Join(s.dir, bridgeFile) }
func (s *BridgeStore) PIDPath() string { return filepath.Join(s.dir, pidFile) }
func (s *BridgeStore) LogPath() string { return filepath.Join(s.dir, logFile) }

// Load reads the saved config, opening sealed secrets.
func (s *BridgeStore) Load() (*BridgeConfig, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotPaired
	}
	if err != nil {
		return nil, fmt.Errorf("read bridge config: %w", err)
	}
	return s.decode(data)
}

func (s *BridgeStore) decode(data []byte) (*BridgeConfig, error) {
	var cfg BridgeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse bridge config: %w", err)
	}
	for _, f := range cfg.secrets() {
		v, err := s.sealer.Open(*f)
		if err != nil {
			return nil, fmt.Errorf("bridge config secrets: %w", err)
		}
		*f = v
	}
	if cfg.BridgeID == "" || cfg.WSToken == "" {
		return nil, ErrNotPaired
	}
	return &cfg, nil
}

// Save writes cfg with owner-only permissions. Secrets are sealed when a key is available.
func (s *BridgeStore) Save(cfg *BridgeConfig) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}

	out := *cfg
	for _, f := range out.secrets() {
		v, err := s.sealer.Seal(*f)
		if err != nil {
			return fmt.Errorf("seal bridge config: %w", err)
		}
		*f = v
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically so a watcher never sees a half-written file.
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write bridge config: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write bridge config: %w", err)
	}
	return nil
}

// Delete removes the saved config. Deleting a missing config is not an error.
func (s *BridgeStore) Delete() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SavePID records the daemon's process id.
func (s *BridgeStore) SavePID(pid int) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.PIDPath(), []byte(strconv.Itoa(pid)), 0o600)
}

// LoadPID returns the recorded daemon pid, or 0 when none is recorded.
func (s *BridgeStore) LoadPID() (int, error) {
	data, err := os.ReadFile(s.PIDPath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file %s: %w", s.PIDPath(), err)
	}
	return pid, nil
}

// ClearPID removes the pid file.
func (s *BridgeStore) ClearPID() error {
	if err := os.Remove(s.PIDPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
