package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ackFrame is the only message a client sends upstream: the highest event
// sequence number it has processed.
type ackFrame struct {
	Ack uint64 `json:"ack"`
}

// WebSocketSink adapts a gorilla websocket connection to the Sink interface,
// writing each event as one JSON frame.
type WebSocketSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// WebSocketSinkOptions configures a WebSocketSink.
type WebSocketSinkOptions struct {
	// WriteTimeout bounds each frame write so a stalled client cannot
	// block the session's publish path.
	WriteTimeout time.Duration
}

// NewWebSocketSink wraps an upgraded websocket connection.
func NewWebSocketSink(conn *websocket.Conn, optFns ...func(o *WebSocketSinkOptions)) *WebSocketSink {
	opts := WebSocketSinkOptions{
		WriteTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &WebSocketSink{conn: conn, writeTimeout: opts.WriteTimeout}
}

// Send writes one event frame. An error marks the connection broken; the
// caller's channel detaches the sink on the first failure.
func (s *WebSocketSink) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(event)
}

// ReadAcks consumes ack frames from the client until the connection closes,
// forwarding each cursor to the session. It blocks and is meant to run on
// the connection's reader goroutine.
func ReadAcks(conn *websocket.Conn, sess *Session) {
	for {
		var frame ackFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		sess.Ack(frame.Ack)
	}
}
