package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBus is a process-local stand-in for the Redis pub/sub channel: every
// publication is delivered to every other attached bridge.
type memoryBus struct {
	mutex   sync.Mutex
	bridges []*memoryBridge
}

func (bus *memoryBus) attach(b *memoryBridge) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.bridges = append(bus.bridges, b)
}

func (bus *memoryBus) fanOut(origin *memoryBridge, sessionID string, raw []byte) {
	bus.mutex.Lock()
	targets := make([]*memoryBridge, 0, len(bus.bridges))
	for _, b := range bus.bridges {
		if b != origin {
			targets = append(targets, b)
		}
	}
	bus.mutex.Unlock()

	for _, b := range targets {
		b.deliver(sessionID, raw)
	}
}

type memoryBridge struct {
	bus     *memoryBus
	mutex   sync.Mutex
	handler BridgeHandler
	closed  bool
}

func (b *memoryBridge) Start(_ context.Context, handler BridgeHandler) error {
	b.mutex.Lock()
	b.handler = handler
	b.mutex.Unlock()
	b.bus.attach(b)
	return nil
}

func (b *memoryBridge) Publish(_ context.Context, sessionID string, raw []byte) error {
	b.bus.fanOut(b, sessionID, raw)
	return nil
}

func (b *memoryBridge) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	return nil
}

func (b *memoryBridge) deliver(sessionID string, raw []byte) {
	b.mutex.Lock()
	handler := b.handler
	closed := b.closed
	b.mutex.Unlock()

	if handler != nil && !closed {
		handler(sessionID, raw)
	}
}

// newBridgedRelay starts a hub on the shared bus with its own node id.
func newBridgedRelay(t *testing.T, bus *memoryBus, nodeID int64) (*Hub, string) {
	t.Helper()

	options := testOptions()
	options.NodeID = nodeID

	hub, err := NewHub(options, &memoryBridge{bus: bus}, nil)
	require.NoError(t, err)

	server := newRelayServer(t, hub)
	return hub, server
}

func TestBridgedUpdateReachesOtherInstance(t *testing.T) {
	bus := &memoryBus{}
	_, urlA := newBridgedRelay(t, bus, 1)
	_, urlB := newBridgedRelay(t, bus, 2)

	// Same session, different relay instances
	sender, _ := dialSession(t, urlA, "doc-1")
	receiver, _ := dialSession(t, urlB, "doc-1")

	sendUpdate(t, sender, ChannelContent, []byte("cross-instance"))

	msg := readEnvelope(t, receiver)
	assert.Equal(t, MessageTypeUpdate, msg.Type)
	assert.Equal(t, []byte("cross-instance"), msg.Payload)
}

func TestBridgedUpdateIsRetainedForLateJoiners(t *testing.T) {
	bus := &memoryBus{}
	_, urlA := newBridgedRelay(t, bus, 1)
	hubB, urlB := newBridgedRelay(t, bus, 2)

	sender, _ := dialSession(t, urlA, "doc-1")

	// Instance B must already know the session for the bridge to retain
	// into it; a subscriber on B creates it.
	dialSession(t, urlB, "doc-1")
	require.Eventually(t, func() bool {
		return hubB.GetStats().PerSession["doc-1"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	sendUpdate(t, sender, ChannelContent, []byte("bridged"))

	require.Eventually(t, func() bool {
		_, snapshot := dialSession(t, urlB, "doc-1")
		return len(snapshot.Updates) == 1 && string(snapshot.Updates[0]) == "bridged"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBridgeIgnoresSessionsWithNoLocalSubscribers(t *testing.T) {
	bus := &memoryBus{}
	_, urlA := newBridgedRelay(t, bus, 1)
	hubB, _ := newBridgedRelay(t, bus, 2)

	sender, _ := dialSession(t, urlA, "doc-1")
	sendUpdate(t, sender, ChannelContent, []byte("nobody home"))

	// B never materializes a session it has no subscribers for
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, hubB.GetStats().Sessions)
}

// newRelayServer serves the hub's router and returns a ws:// base URL.
func newRelayServer(t *testing.T, hub *Hub) string {
	t.Helper()

	server := httptest.NewServer(NewRouter(hub))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http")
}
