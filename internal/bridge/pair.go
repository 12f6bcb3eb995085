package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// DefaultScope is assumed when the server does not return one.
const DefaultScope = "tools_safe"

var (
	ErrPairExpired  = errors.New("Pair code expired, codes last 10 minutes. Get a new one from your phone and try again.")
	ErrPairNotFound = errors.New("Pair code not found, check you typed it correctly (format: VC-XXXX-XXXX).")
)

var pairCodeRe = regexp.MustCompile(`^VC-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// NormalizePairCode uppercases and trims code and checks the VC-XXXX-XXXX shape.
func NormalizePairCode(code string) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	return c, pairCodeRe.MatchString(c)
}

// Device is how this machine introduces itself when pairing.
type Device struct {
	Name          string `json:"name"`
	OS            string `json:"os"`
	BridgeVersion string `json:"bridgeVersion"`
}

// LocalDevice describes the current host.
func LocalDevice(version string) Device {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "Unknown device"
	}
	return Device{Name: name, OS: runtime.GOOS, BridgeVersion: version}
}

// Pairing is the identity returned by a successful pair/complete.
type Pairing struct {
	BridgeID string `json:"bridgeId"`
	WSToken  string `json:"wsToken"`
	Scope    string `json:"scope"`
}

// CompletePairing redeems code at apiBase and returns the bridge identity.
// Server errors are mapped to messages that tell the user what to do next.
func CompletePairing(ctx context.Context, client *http.Client, apiBase, code string, device Device) (*Pairing, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	body, err := json.Marshal(map[string]any{"pairCode": code, "device": device})
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(apiBase, "/") + "/api/bridge/pair/complete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create pair request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Pairing failed: %w", err)
	}
	defer resp.Body.Close()

	var data struct {
		Pairing
		Error string `json:"error"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := data.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "expired"):
			return nil, ErrPairExpired
		case strings.Contains(lower, "invalid") || resp.StatusCode == http.StatusNotFound:
			return nil, ErrPairNotFound
		default:
			return nil, fmt.Errorf("Pairing failed: %s", msg)
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("Pairing failed: invalid response: %w", decodeErr)
	}
	if data.BridgeID == "" || data.WSToken == "" {
		return nil, errors.New("Pairing failed: server returned no credentials")
	}
	p := data.Pairing
	if p.Scope == "" {
		p.Scope = DefaultScope
	}
	return &p, nil
}
