package collab

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pdfcollab/relay"
)

// Receiver consumes inbound replication traffic from the session.
type Receiver interface {
	// ReceiveUpdate applies one forwarded update payload.
	ReceiveUpdate(payload []byte)

	// ReceiveSnapshot applies the retained payloads sent on (re)join.
	ReceiveSnapshot(payloads [][]byte)
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	// WriteTimeout bounds one websocket write.
	WriteTimeout time.Duration

	// MinBackoff is the reconnect delay after the first failure.
	MinBackoff time.Duration

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration
}

// DefaultProviderOptions returns the default provider options.
func DefaultProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MinBackoff:   time.Second,
		MaxBackoff:   30 * time.Second,
	}
}

// Provider is the websocket connection to the relay for one document
// session. Sends never block on the network: while disconnected, content
// updates accumulate in a queue (and only the latest presence update is
// kept) and are flushed after the next successful reconnect. Reconnection
// is transparent; no error surfaces for a transient disconnect.
type Provider struct {
	// endpoint is the fully-resolved websocket URL for the session.
	endpoint string

	// receiver consumes inbound traffic.
	receiver Receiver

	// options contains the configuration options.
	options *ProviderOptions

	// logger is the structured logger.
	logger *zap.Logger

	// conn is the live connection; nil while disconnected.
	conn *websocket.Conn

	// pendingContent holds encoded content envelopes awaiting a
	// connection, in issue order.
	pendingContent [][]byte

	// pendingPresence holds only the newest encoded presence envelope;
	// stale cursor positions are worthless after reconnect.
	pendingPresence []byte

	// mutex protects conn and the pending queues.
	mutex sync.Mutex

	// ctx is the provider's lifetime context.
	ctx context.Context

	// cancel is the context cancel function.
	cancel context.CancelFunc

	// closed indicates the provider has been closed.
	closed bool
}

// NewProvider creates a provider and starts its connection loop. serverURL
// is the relay base URL (ws:// or wss://); documentID selects the session.
func NewProvider(ctx context.Context, serverURL, documentID string, receiver Receiver, options *ProviderOptions, logger *zap.Logger) (*Provider, error) {
	if options == nil {
		options = DefaultProviderOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("relay URL must use ws or wss scheme, got %q", base.Scheme)
	}
	endpoint := base.JoinPath("collab", documentID).String()

	runCtx, cancel := context.WithCancel(ctx)
	p := &Provider{
		endpoint: endpoint,
		receiver: receiver,
		options:  options,
		logger:   logger,
		ctx:      runCtx,
		cancel:   cancel,
	}

	go p.run()
	return p, nil
}

// run dials the relay and reads until the connection drops, reconnecting
// with exponential backoff until the provider is closed.
func (p *Provider) run() {
	backoff := p.options.MinBackoff

	for {
		if p.ctx.Err() != nil {
			return
		}

		conn, err := p.dial()
		if err != nil {
			p.logger.Debug("relay dial failed, retrying",
				zap.String("endpoint", p.endpoint),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > p.options.MaxBackoff {
				backoff = p.options.MaxBackoff
			}
			continue
		}

		backoff = p.options.MinBackoff
		p.attach(conn)
		p.flushPending()
		p.readLoop(conn)
		p.detach(conn)
	}
}

// dial performs one connection attempt.
func (p *Provider) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(p.ctx, p.options.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, p.endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs the live connection.
func (p *Provider) attach(conn *websocket.Conn) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.conn = conn
}

// detach clears the connection if it is still current.
func (p *Provider) detach(conn *websocket.Conn) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.conn == conn {
		p.conn = nil
	}
	conn.Close()
}

// readLoop dispatches inbound messages until the connection fails.
func (p *Provider) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if p.ctx.Err() == nil {
				p.logger.Debug("relay connection lost", zap.Error(err))
			}
			return
		}

		msg, err := relay.DecodeMessage(raw)
		if err != nil {
			p.logger.Warn("discarding malformed relay message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case relay.MessageTypeSnapshot:
			p.receiver.ReceiveSnapshot(msg.Updates)
		case relay.MessageTypeUpdate:
			p.receiver.ReceiveUpdate(msg.Payload)
		case relay.MessageTypeError:
			p.logger.Warn("relay reported error", zap.String("error", msg.Error))
		}
	}
}

// Send queues an update for the session. While disconnected the update is
// held for the next reconnect; the call never blocks on the network.
func (p *Provider) Send(channel relay.Channel, payload []byte) error {
	msg := relay.Message{
		Type:    relay.MessageTypeUpdate,
		Channel: channel,
		Payload: payload,
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode update envelope: %w", err)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return fmt.Errorf("provider is closed")
	}

	if p.conn == nil {
		p.queueLocked(channel, data)
		return nil
	}

	p.conn.SetWriteDeadline(time.Now().Add(p.options.WriteTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// The read loop will notice the failure and reconnect; keep the
		// update for the flush.
		p.queueLocked(channel, data)
		return nil
	}
	return nil
}

// queueLocked stores an envelope for the next flush. Called with the
// mutex held.
func (p *Provider) queueLocked(channel relay.Channel, data []byte) {
	if channel == relay.ChannelPresence {
		p.pendingPresence = data
		return
	}
	p.pendingContent = append(p.pendingContent, data)
}

// flushPending writes queued envelopes after a reconnect, in issue order.
func (p *Provider) flushPending() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.conn == nil {
		return
	}

	pending := p.pendingContent
	if p.pendingPresence != nil {
		pending = append(pending, p.pendingPresence)
	}
	p.pendingContent = nil
	p.pendingPresence = nil

	for i, data := range pending {
		p.conn.SetWriteDeadline(time.Now().Add(p.options.WriteTimeout))
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Keep the unflushed remainder for the next reconnect.
			p.pendingContent = pending[i:]
			return
		}
	}
}

// Close stops the connection loop and closes the connection. Close is
// idempotent.
func (p *Provider) Close() error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.mutex.Unlock()

	p.cancel()
	if conn != nil {
		conn.Close()
	}
	return nil
}
