// Package pairing implements the bridge pairing lifecycle.
//
// A browser asks the server for a pairing code, the user types that code into
// the bridge on their own machine, and the bridge exchanges it for a durable
// bridge identity:
//  1. Start generates a code like "VC-7M2K-91Q4" valid for 10 minutes
//  2. Complete matches the code (case-insensitive) and issues bridgeId + wsToken
//  3. Authenticate resolves a wsToken presented on the bridge WebSocket
//
// Pairing codes use the alphabet ABCDEFGHJKLMNPQRSTUVWXYZ23456789
// (no ambiguous characters: 0, O, 1, I, L).
// State is in-memory only; a server restart invalidates every wsToken.
package pairing

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// CodeAlphabet excludes ambiguous characters (0, O, 1, I, L).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodePrefix starts every pairing code.
	CodePrefix = "VC"
	// CodeGroupLength is the number of characters in each of the two code groups.
	CodeGroupLength = 4
	// CodeTTL is how long a pairing code remains valid.
	CodeTTL = 10 * time.Minute
	// SweepInterval is how often expired pending sessions are purged.
	SweepInterval = 15 * time.Minute
	// DefaultScope is attached to every identity unless configured otherwise.
	DefaultScope = "tools_safe"

	maxCodeAttempts = 16
)

var (
	// ErrNotFound means no pending session matches the code.
	ErrNotFound = errors.New("Invalid pair code")
	// ErrExpired means the matched session is past its expiry.
	ErrExpired = errors.New("Pair code expired")
	// ErrSessionNotFound means the pairId is unknown.
	ErrSessionNotFound = errors.New("Pair not found")
	// ErrMissingToken is returned by Authenticate for an empty token.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned by Authenticate when no paired session holds the token.
	ErrInvalidToken = errors.New("invalid token")
)

// Status of a pairing session.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaired  Status = "paired"
	StatusExpired Status = "expired"
)

// Device describes the machine that completed a pairing.
type Device struct {
	Name          string `json:"name"`
	OS            string `json:"os,omitempty"`
	BridgeVersion string `json:"bridgeVersion,omitempty"`
}

// Identity is issued on a successful Complete.
type Identity struct {
	PairID   string `json:"pairId"`
	BridgeID string `json:"bridgeId"`
	WSToken  string `json:"wsToken"`
	Scope    string `json:"scope"`
}

// StartResult is returned by Start.
type StartResult struct {
	PairID    string `json:"pairId"`
	PairCode  string `json:"pairCode"`
	ExpiresAt int64  `json:"expiresAt"` // unix millis
}

// StatusResult is returned by Status.
type StatusResult struct {
	PairID    string  `json:"pairId"`
	Status    Status  `json:"status"`
	Connected bool    `json:"connected"`
	ExpiresAt int64   `json:"expiresAt"` // unix millis
	BridgeID  *string `json:"bridgeId"`
	Device    *Device `json:"device"`
}

// Presence reports whether a bridge currently holds a live connection.
type Presence interface {
	IsConnected(bridgeID string) bool
}

// Config tunes a Service. Zero values select the defaults.
type Config struct {
	TTL   time.Duration
	Scope string
	Now   func() time.Time // test hook
}

type session struct {
	pairCode  string
	status    Status
	createdAt time.Time
	expiresAt time.Time
	device    *Device
	bridgeID  string
	wsToken   string
}

// Service manages pairing sessions and the identities they issue.
type Service struct {
	ttl      time.Duration
	scope    string
	now      func() time.Time
	presence Presence

	mu       sync.Mutex
	sessions map[string]*session // pairId → session
}

// NewService creates a new pairing service.
func NewService(cfg Config) *Service {
	s := &Service{
		ttl:      cfg.TTL,
		scope:    cfg.Scope,
		now:      cfg.Now,
		sessions: make(map[string]*session),
	}
	if s.ttl <= 0 {
		s.ttl = CodeTTL
	}
	if s.scope == "" {
		s.scope = DefaultScope
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetPresence wires the connection registry used to fill StatusResult.Connected.
func (s *Service) SetPresence(p Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = p
}

// Start opens a new pending pairing session.
func (s *Service) Start() (*StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.uniqueCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	pairID := "pair_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	sess := &session{
		pairCode:  code,
		status:    StatusPending,
		createdAt: now,
		expiresAt: now.Add(s.ttl),
	}
	s.sessions[pairID] = sess

	slog.Info("pairing started", "pair_id", pairID, "expires_at", sess.expiresAt)

	return &StartResult{
		PairID:    pairID,
		PairCode:  code,
		ExpiresAt: sess.expiresAt.UnixMilli(),
	}, nil
}

// Status reports a session's state, expiring it lazily if its TTL has passed.
func (s *Service) Status(pairID string) (*StatusResult, error) {
	s.mu.Lock()
	sess, ok := s.sessions[pairID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	s.expireIfDue(pairID, sess)

	res := &StatusResult{
		PairID:    pairID,
		Status:    sess.status,
		ExpiresAt: sess.expiresAt.UnixMilli(),
	}
	if sess.bridgeID != "" {
		id := sess.bridgeID
		res.BridgeID = &id
	}
	if sess.device != nil {
		d := *sess.device
		res.Device = &d
	}
	presence := s.presence
	s.mu.Unlock()

	// Presence lives behind its own lock; query it without holding ours.
	if presence != nil && res.BridgeID != nil {
		res.Connected = presence.IsConnected(*res.BridgeID)
	}
	return res, nil
}

// Complete exchanges a pending code for a bridge identity.
// A code can be completed at most once.
func (s *Service) Complete(pairCode string, device *Device) (*Identity, error) {
	code := strings.ToUpper(strings.TrimSpace(pairCode))
	if code == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for pairID, sess := range s.sessions {
		if sess.status != StatusPending || sess.pairCode != code {
			continue
		}

		if s.expireIfDue(pairID, sess) {
			return nil, ErrExpired
		}

		bridgeID, err := randomHex(6)
		if err != nil {
			return nil, fmt.Errorf("generate bridge id: %w", err)
		}
		wsToken, err := randomHex(24)
		if err != nil {
			return nil, fmt.Errorf("generate ws token: %w", err)
		}

		if device == nil || strings.TrimSpace(device.Name) == "" {
			d := Device{Name: "Unknown device"}
			if device != nil {
				d.OS = device.OS
				d.BridgeVersion = device.BridgeVersion
			}
			device = &d
		}

		sess.status = StatusPaired
		sess.device = device
		sess.bridgeID = "br_" + bridgeID
		sess.wsToken = wsToken

		slog.Info("pairing completed",
			"pair_id", pairID,
			"bridge_id", sess.bridgeID,
			"device", device.Name,
		)

		return &Identity{
			PairID:   pairID,
			BridgeID: sess.bridgeID,
			WSToken:  wsToken,
			Scope:    s.scope,
		}, nil
	}

	return nil, ErrNotFound
}

// Authenticate resolves the identity owning a wsToken.
func (s *Service) Authenticate(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for pairID, sess := range s.sessions {
		if sess.status != StatusPaired || sess.wsToken == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(sess.wsToken)) == 1 {
			return &Identity{
				PairID:   pairID,
				BridgeID: sess.bridgeID,
				WSToken:  sess.wsToken,
				Scope:    s.scope,
			}, nil
		}
	}
	return nil, ErrInvalidToken
}

// Counts summarizes the sessions currently held.
type Counts struct {
	Pending int `json:"pending"` // unexpired only
	Paired  int `json:"paired"`
}

// Counts returns session totals for admin reporting.
func (s *Service) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var c Counts
	for _, sess := range s.sessions {
		switch {
		case sess.status == StatusPaired:
			c.Paired++
		case sess.status == StatusPending && !now.After(sess.expiresAt):
			c.Pending++
		}
	}
	return c
}

// Sweep deletes pending sessions whose TTL has passed. It returns how many were removed.
// Reads expire lazily, so this only bounds memory.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for pairID, sess := range s.sessions {
		if sess.status == StatusPending && now.After(sess.expiresAt) {
			delete(s.sessions, pairID)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("pairing sweep", "removed", removed)
	}
	return removed
}

// StartSweeper runs Sweep every SweepInterval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// --- Internal ---

// expireIfDue flips a pending session to expired once its TTL has passed.
// Caller must hold s.mu.
func (s *Service) expireIfDue(pairID string, sess *session) bool {
	if sess.status == StatusPending && s.now().After(sess.expiresAt) {
		sess.status = StatusExpired
		slog.Debug("pairing expired", "pair_id", pairID)
	}
	return sess.status == StatusExpired
}

// uniqueCode generates a code not held by any pending session. Caller must hold s.mu.
func (s *Service) uniqueCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		taken := false
		for _, sess := range s.sessions {
			if sess.status == StatusPending && sess.pairCode == code {
				taken = true
				break
			}
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique pairing code")
}

func generateCode() (string, error) {
	b := make([]byte, 2*CodeGroupLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	code := make([]byte, len(b))
	for i := range code {
		// 256 is a multiple of 32, so the modulo is unbiased.
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", CodePrefix, code[:CodeGroupLength], code[CodeGroupLength:]), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
