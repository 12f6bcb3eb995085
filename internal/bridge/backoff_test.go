package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectBackoff_Sequence(t *testing.T) {
	b := newReconnectBackoff(0, 0)
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		3 * time.Second, 6 * time.Second, 12 * time.Second,
		24 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 3*time.Second, b.Next())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped_fatal", StateStoppedFatal.String())
	assert.True(t, StateStopped.Terminal())
	assert.False(t, StateReconnecting.Terminal())
}
