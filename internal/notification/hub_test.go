package notification

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medifusion/triage-api/internal/model"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	failWith error
	closed   bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestHub() *Hub {
	logger := zerolog.Nop()
	return NewHub(&logger, nil)
}

func TestNotifyDeliversToAllConnections(t *testing.T) {
	hub := newTestHub()
	user := uuid.New()
	c1, c2 := &fakeConn{}, &fakeConn{}
	hub.Register(user, c1)
	hub.Register(user, c2)

	hub.Notify(user, model.NotificationEvent{Type: "case_update", Message: "accepted"})

	require.Equal(t, 1, c1.received())
	require.Equal(t, 1, c2.received())

	var event model.NotificationEvent
	require.NoError(t, json.Unmarshal(c1.messages[0], &event))
	assert.Equal(t, "case_update", event.Type)
	assert.Equal(t, "accepted", event.Message)
}

func TestNotifyUnknownRecipientIsNoop(t *testing.T) {
	hub := newTestHub()
	hub.Notify(uuid.New(), model.NotificationEvent{Type: "case_update"})
}

func TestNotifyDropsDeadConnections(t *testing.T) {
	hub := newTestHub()
	user := uuid.New()
	live := &fakeConn{}
	dead := &fakeConn{failWith: errors.New("broken pipe")}
	hub.Register(user, live)
	hub.Register(user, dead)

	hub.Notify(user, model.NotificationEvent{Type: "case_update", Message: "x"})

	assert.Equal(t, 1, live.received())
	assert.True(t, dead.closed)
	assert.Equal(t, 1, hub.Connections(user))

	// Subsequent notify only reaches the live conn.
	hub.Notify(user, model.NotificationEvent{Type: "case_update", Message: "y"})
	assert.Equal(t, 2, live.received())
}

func TestUnregisterLastConnectionRemovesRecipient(t *testing.T) {
	hub := newTestHub()
	user := uuid.New()
	conn := &fakeConn{}
	hub.Register(user, conn)
	require.Equal(t, 1, hub.Connections(user))

	hub.Unregister(user, conn)
	assert.Equal(t, 0, hub.Connections(user))
	assert.True(t, conn.closed)
}

func TestConcurrentNotifyAndUnregister(t *testing.T) {
	hub := newTestHub()
	user := uuid.New()

	conns := make([]*fakeConn, 16)
	for i := range conns {
		conns[i] = &fakeConn{}
		hub.Register(user, conns[i])
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Notify(user, model.NotificationEvent{Type: "case_update", Message: "tick"})
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			hub.Unregister(user, c)
		}(conns[i])
	}
	wg.Wait()

	assert.LessOrEqual(t, hub.Connections(user), 8)
}

func TestBroadcast(t *testing.T) {
	hub := newTestHub()
	a, b := uuid.New(), uuid.New()
	ca, cb := &fakeConn{}, &fakeConn{}
	hub.Register(a, ca)
	hub.Register(b, cb)

	hub.Broadcast(model.NotificationEvent{Type: "announcement", Message: "maintenance"})

	assert.Equal(t, 1, ca.received())
	assert.Equal(t, 1, cb.received())
}
