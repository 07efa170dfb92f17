package gateway

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "queue closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func assertEmpty(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message %+v", msg)
		}
	default:
	}
}

func TestHubBroadcastToGroup(t *testing.T) {
	h := NewHub(quietLogger(), nil)
	a := h.Register("a", 4)
	b := h.Register("b", 4)
	c := h.Register("c", 4)
	h.Attach(1, "a")
	h.Attach(1, "b")
	h.Attach(2, "c")

	h.Broadcast(1, ResyncMessage(1, 5))
	assert.Equal(t, TypeResync, recv(t, a).Type)
	assert.Equal(t, TypeResync, recv(t, b).Type)
	assertEmpty(t, c)

	h.Detach(1, "b")
	h.Broadcast(1, ResyncMessage(1, 6))
	assert.Equal(t, 6, *recv(t, a).Version)
	assertEmpty(t, b)
	assert.ElementsMatch(t, []string{"a"}, h.Members(1))
}

func TestHubSendAndUnregister(t *testing.T) {
	h := NewHub(quietLogger(), nil)
	a := h.Register("a", 1)
	h.Attach(3, "a")
	h.Send("a", ErrorMessage(3, "x"))
	assert.Equal(t, "x", recv(t, a).Message)

	h.Unregister("a")
	_, ok := <-a
	assert.False(t, ok)
	assert.Empty(t, h.Members(3))

	// unknown connections are ignored
	h.Send("a", ErrorMessage(3, "y"))
	h.Attach(3, "a")
	assert.Empty(t, h.Members(3))
	h.Unregister("a")
}

func TestHubDropsSlowConnection(t *testing.T) {
	h := NewHub(quietLogger(), nil)
	slow := h.Register("slow", 2)
	fast := h.Register("fast", 8)
	h.Attach(1, "slow")
	h.Attach(1, "fast")

	for v := 1; v <= 3; v++ {
		h.Broadcast(1, ResyncMessage(1, v))
	}
	for v := 1; v <= 3; v++ {
		assert.Equal(t, v, *recv(t, fast).Version)
	}

	// the two buffered messages drain, then the queue reports closed
	assert.Equal(t, 1, *recv(t, slow).Version)
	assert.Equal(t, 2, *recv(t, slow).Version)
	_, ok := <-slow
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"fast"}, h.Members(1))
}
