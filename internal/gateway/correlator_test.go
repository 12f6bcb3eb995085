package gateway

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

func TestCorrelator_ResolveOK(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("req_1", nil, time.Minute)

	assert.True(t, c.Resolve(protocol.NewOKResult("req_1", json.RawMessage(`{"x":1}`))))

	o := <-ch
	require.NoError(t, o.err)
	assert.JSONEq(t, `{"x":1}`, string(o.payload))
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_ResolveError(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("req_1", nil, time.Minute)

	c.Resolve(protocol.NewErrorResult("req_1", "No Groq API key configured. Run: voiceclaw config"))

	o := <-ch
	var be *BackendError
	require.ErrorAs(t, o.err, &be)
	assert.Equal(t, "No Groq API key configured. Run: voiceclaw config", be.Message)
}

func TestCorrelator_UnknownIDDiscarded(t *testing.T) {
	c := NewCorrelator()
	assert.False(t, c.Resolve(protocol.NewOKResult("req_nope", nil)))
}

func TestCorrelator_Timeout(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("req_1", nil, 20*time.Millisecond)

	select {
	case o := <-ch:
		assert.ErrorIs(t, o.err, ErrBridgeTimeout)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// A late result is dropped.
	assert.False(t, c.Resolve(protocol.NewOKResult("req_1", nil)))
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_FailClient(t *testing.T) {
	c := NewCorrelator()
	a, b := &Client{}, &Client{}
	chA1 := c.Register("a1", a, time.Minute)
	chA2 := c.Register("a2", a, time.Minute)
	c.Register("b1", b, time.Minute)

	assert.Equal(t, 2, c.FailClient(a))
	assert.ErrorIs(t, (<-chA1).err, ErrBridgeOffline)
	assert.ErrorIs(t, (<-chA2).err, ErrBridgeOffline)
	assert.Equal(t, 1, c.Len())
}

func TestCorrelator_Cancel(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("req_1", nil, time.Minute)

	assert.True(t, c.Cancel("req_1"))
	assert.False(t, c.Cancel("req_1"))
	assert.False(t, c.Resolve(protocol.NewOKResult("req_1", nil)))

	select {
	case <-ch:
		t.Fatal("cancelled call must not receive an outcome")
	default:
	}
}

// Result, timeout and disconnect racing for the same id deliver exactly one outcome.
func TestCorrelator_ExactlyOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := NewCorrelator()
		client := &Client{}
		ch := c.Register("req", client, time.Millisecond)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); c.Resolve(protocol.NewOKResult("req", nil)) }()
		go func() { defer wg.Done(); c.FailClient(client) }()
		wg.Wait()

		<-ch
		time.Sleep(2 * time.Millisecond)
		select {
		case <-ch:
			t.Fatal("second outcome delivered")
		default:
		}
	}
}
