package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Options configures a Hub.
type Options struct {
	// GCInterval is how often sessions with no subscribers are swept.
	GCInterval time.Duration

	// SendBuffer is the per-subscriber outbound queue length. A subscriber
	// that cannot drain its queue is disconnected rather than blocking the
	// session.
	SendBuffer int

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration

	// PingInterval is how often keep-alive pings are sent.
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong before dropping the
	// connection.
	PongTimeout time.Duration

	// MaxMessageSize bounds inbound websocket messages.
	MaxMessageSize int64

	// NodeID is the snowflake node id for this relay instance.
	NodeID int64
}

// DefaultOptions returns the default hub options.
func DefaultOptions() *Options {
	return &Options{
		GCInterval:     time.Minute,
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 4 << 20,
		NodeID:         1,
	}
}

// docSession is one document session: its subscriber set and the retained
// content updates replayed to late joiners.
type docSession struct {
	// id is the document-session identifier.
	id string

	// subscribers maps subscriber id to connection.
	subscribers map[snowflake.ID]*subscriber

	// retained is the log of content payloads accumulated so far. The
	// payloads are opaque; replaying them in any order converges a joiner
	// to the present state because the patch model is commutative and
	// idempotent.
	retained [][]byte

	// mutex protects subscribers and retained.
	mutex sync.RWMutex
}

// Hub owns all active document sessions of one relay instance.
type Hub struct {
	// options contains the configuration options.
	options *Options

	// logger is the structured logger.
	logger *zap.Logger

	// node generates subscriber ids.
	node *snowflake.Node

	// bridge fans updates to other relay instances. Nil when running
	// single-instance.
	bridge Bridge

	// sessions maps session id to its state.
	sessions map[string]*docSession

	// mutex protects the sessions map.
	mutex sync.RWMutex

	// ctx is the hub's lifetime context.
	ctx context.Context

	// cancel is the context cancel function.
	cancel context.CancelFunc

	// closed indicates the hub has been shut down.
	closed bool
}

// NewHub creates a hub. A nil bridge disables cross-instance fan-out.
func NewHub(options *Options, bridge Bridge, logger *zap.Logger) (*Hub, error) {
	if options == nil {
		options = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	node, err := snowflake.NewNode(options.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		options:  options,
		logger:   logger,
		node:     node,
		bridge:   bridge,
		sessions: make(map[string]*docSession),
		ctx:      ctx,
		cancel:   cancel,
	}

	if bridge != nil {
		if err := bridge.Start(ctx, h.deliverBridged); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start bridge: %w", err)
		}
	}

	return h, nil
}

// Run blocks running the periodic empty-session sweep until the context or
// the hub is closed.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.options.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep discards sessions with zero subscribers, including their retained
// state. A session transiently empty between reconnects may be collected
// and lose retained state; this bounds memory from abandoned sessions.
func (h *Hub) sweep() {
	h.mutex.Lock()
	var active int
	for id, sess := range h.sessions {
		sess.mutex.RLock()
		empty := len(sess.subscribers) == 0
		sess.mutex.RUnlock()
		if empty {
			delete(h.sessions, id)
		} else {
			active++
		}
	}
	h.mutex.Unlock()

	h.logger.Info("session sweep complete", zap.Int("active_sessions", active))
}

// getOrCreateSession returns the session with the given id, creating it if
// needed.
func (h *Hub) getOrCreateSession(sessionID string) *docSession {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sess, ok := h.sessions[sessionID]
	if !ok {
		sess = &docSession{
			id:          sessionID,
			subscribers: make(map[snowflake.ID]*subscriber),
		}
		h.sessions[sessionID] = sess
	}
	return sess
}

// subscribe adds a subscriber and returns a copy of the retained payloads
// for the join snapshot.
func (h *Hub) subscribe(sessionID string, sub *subscriber) [][]byte {
	sess := h.getOrCreateSession(sessionID)

	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	sess.subscribers[sub.id] = sub
	sub.session = sess

	snapshot := make([][]byte, len(sess.retained))
	copy(snapshot, sess.retained)
	return snapshot
}

// unsubscribe removes a subscriber from its session. The session itself is
// left for the sweep to collect.
func (h *Hub) unsubscribe(sub *subscriber) {
	sess := sub.session
	if sess == nil {
		return
	}

	sess.mutex.Lock()
	delete(sess.subscribers, sub.id)
	remaining := len(sess.subscribers)
	sess.mutex.Unlock()

	h.logger.Debug("subscriber left",
		zap.String("session_id", sess.id),
		zap.String("subscriber_id", sub.id.String()),
		zap.Int("remaining", remaining))
}

// broadcast forwards a raw update envelope verbatim to every other
// subscriber of the session, retains content payloads, and hands the
// envelope to the bridge when one is configured.
func (h *Hub) broadcast(sender *subscriber, raw []byte, msg *Message) {
	sess := sender.session

	sess.mutex.Lock()
	if msg.Channel == ChannelContent {
		sess.retained = append(sess.retained, msg.Payload)
	}
	targets := make([]*subscriber, 0, len(sess.subscribers))
	for id, sub := range sess.subscribers {
		if id == sender.id {
			continue
		}
		targets = append(targets, sub)
	}
	sess.mutex.Unlock()

	for _, sub := range targets {
		sub.enqueue(raw)
	}

	if h.bridge != nil {
		if err := h.bridge.Publish(h.ctx, sess.id, raw); err != nil {
			h.logger.Warn("bridge publish failed",
				zap.String("session_id", sess.id),
				zap.Error(err))
		}
	}
}

// deliverBridged handles an envelope published by another relay instance:
// it is retained and fanned out to every local subscriber of the session.
func (h *Hub) deliverBridged(sessionID string, raw []byte) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		h.logger.Warn("discarding malformed bridged message",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	if msg.Type != MessageTypeUpdate {
		return
	}

	h.mutex.RLock()
	sess, ok := h.sessions[sessionID]
	h.mutex.RUnlock()
	if !ok {
		// No local subscribers; nothing to converge here.
		return
	}

	sess.mutex.Lock()
	if msg.Channel == ChannelContent {
		sess.retained = append(sess.retained, msg.Payload)
	}
	targets := make([]*subscriber, 0, len(sess.subscribers))
	for _, sub := range sess.subscribers {
		targets = append(targets, sub)
	}
	sess.mutex.Unlock()

	for _, sub := range targets {
		sub.enqueue(raw)
	}
}

// Stats describes the hub's current load.
type Stats struct {
	Sessions    int            `json:"sessions"`
	Subscribers int            `json:"subscribers"`
	PerSession  map[string]int `json:"perSession"`
}

// GetStats returns a snapshot of active sessions and subscriber counts.
func (h *Hub) GetStats() Stats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	stats := Stats{PerSession: make(map[string]int, len(h.sessions))}
	for id, sess := range h.sessions {
		sess.mutex.RLock()
		n := len(sess.subscribers)
		sess.mutex.RUnlock()
		stats.Sessions++
		stats.Subscribers += n
		stats.PerSession[id] = n
	}
	return stats
}

// Close shuts the hub down: the bridge is closed and every subscriber
// connection is dropped. Close is idempotent.
func (h *Hub) Close() error {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil
	}
	h.closed = true
	sessions := make([]*docSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.sessions = make(map[string]*docSession)
	h.mutex.Unlock()

	h.cancel()

	for _, sess := range sessions {
		sess.mutex.Lock()
		for _, sub := range sess.subscribers {
			sub.close()
		}
		sess.subscribers = make(map[snowflake.ID]*subscriber)
		sess.mutex.Unlock()
	}

	if h.bridge != nil {
		if err := h.bridge.Close(); err != nil {
			return fmt.Errorf("failed to close bridge: %w", err)
		}
	}
	return nil
}
