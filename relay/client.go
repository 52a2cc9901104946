package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay carries no credentials and no browser-sensitive state;
	// session ids are capability-style identifiers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber is one websocket connection subscribed to one session.
type subscriber struct {
	// id is the relay-assigned subscriber id.
	id snowflake.ID

	// hub is the owning hub.
	hub *Hub

	// session is the subscribed session; set by Hub.subscribe.
	session *docSession

	// conn is the websocket connection.
	conn *websocket.Conn

	// send is the outbound queue drained by writePump.
	send chan []byte

	// closeOnce guards connection teardown.
	closeOnce sync.Once
}

// HandleCollab is the websocket endpoint for /collab/{session}. Connecting
// joins the session's subscriber set and immediately receives a snapshot
// of the retained content updates.
func (h *Hub) HandleCollab(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	sub := &subscriber{
		id:   h.node.Generate(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.options.SendBuffer),
	}

	snapshot := h.subscribe(sessionID, sub)

	h.logger.Info("subscriber joined",
		zap.String("session_id", sessionID),
		zap.String("subscriber_id", sub.id.String()),
		zap.Int("snapshot_updates", len(snapshot)))

	// Queue the snapshot before any forwarded update so the joiner
	// converges to present state first.
	snapMsg := Message{Type: MessageTypeSnapshot, Updates: snapshot}
	if data, err := snapMsg.Encode(); err == nil {
		sub.send <- data
	}

	go sub.writePump()
	go sub.readPump()
}

// readPump reads update envelopes from the connection and hands them to
// the hub for broadcast. Malformed envelopes are reported back to the
// sender and dropped; they never terminate the connection.
func (s *subscriber) readPump() {
	defer s.close()

	s.conn.SetReadLimit(s.hub.options.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.options.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.options.PongTimeout))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("websocket read error",
					zap.String("subscriber_id", s.id.String()),
					zap.Error(err))
			}
			return
		}

		msg, err := DecodeMessage(raw)
		if err != nil {
			s.hub.logger.Warn("discarding malformed message",
				zap.String("subscriber_id", s.id.String()),
				zap.Error(err))
			errMsg := Message{Type: MessageTypeError, Error: err.Error()}
			if data, encErr := errMsg.Encode(); encErr == nil {
				s.enqueue(data)
			}
			continue
		}
		if msg.Type != MessageTypeUpdate {
			continue
		}

		s.hub.broadcast(s, raw, msg)
	}
}

// writePump drains the outbound queue and sends keep-alive pings.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(s.hub.options.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.options.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.options.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues data for delivery. A subscriber whose queue is full is
// dropped so one slow consumer cannot stall the session.
func (s *subscriber) enqueue(data []byte) {
	select {
	case s.send <- data:
	default:
		s.hub.logger.Warn("dropping slow subscriber",
			zap.String("subscriber_id", s.id.String()))
		s.close()
	}
}

// close tears the connection down and leaves the session. Safe to call
// multiple times.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
		s.conn.Close()
	})
}
