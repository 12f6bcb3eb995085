package crypto

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)
	return s
}

func TestSealer_SealOpen(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.Seal("sk-ant-secret")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "sk-ant-secret")

	again, err := s.Seal(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again, "already sealed values are left alone")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-secret", plain)
}

func TestSealer_PlainTextPassesThrough(t *testing.T) {
	s := newTestSealer(t)
	v, err := s.Open("gsk_plain")
	require.NoError(t, err)
	assert.Equal(t, "gsk_plain", v)

	empty, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSealer_WrongKey(t *testing.T) {
	sealed, err := newTestSealer(t).Seal("token")
	require.NoError(t, err)

	_, err = newTestSealer(t).Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	var nilSealer *Sealer
	_, err = nilSealer.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDeriveKey(t *testing.T) {
	_, err := DeriveKey(strings.Repeat("ab", 32))
	assert.NoError(t, err)
	_, err = DeriveKey(strings.Repeat("k", 32))
	assert.NoError(t, err)
	_, err = DeriveKey("short")
	assert.Error(t, err)
}

type memKeyring struct {
	data   map[string]string
	getErr error
	setErr error
}

func (m *memKeyring) Get(service, user string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[service+"/"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (m *memKeyring) Set(service, user, pw string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[service+"/"+user] = pw
	return nil
}

func TestResolveSealer_GeneratesAndReusesKey(t *testing.T) {
	ks := &memKeyring{data: map[string]string{}}

	first, err := resolveSealer("", ks)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Len(t, ks.data, 1)

	sealed, err := first.Seal("secret")
	require.NoError(t, err)

	second, err := resolveSealer("", ks)
	require.NoError(t, err)
	plain, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)
}

func TestResolveSealer_EnvWins(t *testing.T) {
	ks := &memKeyring{data: map[string]string{}}
	s, err := resolveSealer(strings.Repeat("0", 64), ks)
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Empty(t, ks.data)

	_, err = resolveSealer("bad", ks)
	assert.Error(t, err)
}

func TestResolveSealer_NoKeyring(t *testing.T) {
	s, err := resolveSealer("", &memKeyring{getErr: errors.New("dbus unavailable")})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = resolveSealer("", &memKeyring{data: map[string]string{}, setErr: errors.New("locked")})
	require.NoError(t, err)
	assert.Nil(t, s)
}
