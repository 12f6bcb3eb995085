package crypto

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyEnv overrides the keyring lookup, mainly for headless hosts.
	KeyEnv = "VOICECLAW_ENCRYPTION_KEY"

	keyringService = "voiceclaw"
	keyringUser    = "bridge-config-key"
)

// keyStore is the subset of the OS keyring the bridge uses.
type keyStore interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
}

type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Set(service, user, pw string) error       { return keyring.Set(service, user, pw) }

// ResolveSealer returns the Sealer for the bridge config. The key comes from
// VOICECLAW_ENCRYPTION_KEY, else the OS keyring, generating and storing one on
// first use. When no keyring is reachable it returns a nil Sealer and secrets
// are stored in plain text (the file itself stays 0600).
func ResolveSealer() (*Sealer, error) {
	return resolveSealer(os.Getenv(KeyEnv), osKeyring{})
}

func resolveSealer(envKey string, ks keyStore) (*Sealer, error) {
	if envKey != "" {
		s, err := NewSealer(envKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeyEnv, err)
		}
		return s, nil
	}

	key, err := ks.Get(keyringService, keyringUser)
	switch {
	case err == nil:
	case errors.Is(err, keyring.ErrNotFound):
		key, err = GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := ks.Set(keyringService, keyringUser, key); err != nil {
			slog.Warn("security.keyring_unavailable", "error", err)
			return nil, nil
		}
		slog.Debug("security.keyring_key_created", "service", keyringService)
	default:
		slog.Warn("security.keyring_unavailable", "error", err)
		return nil, nil
	}

	s, err := NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("keyring key: %w", err)
	}
	return s, nil
}
