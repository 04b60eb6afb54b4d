package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteJSON sends an event with its data over the WebSocket.
func WriteJSON(conn *websocket.Conn, event Event, data interface{}) error {
	return WriteTyped(conn, ResponsePayload{Event: event, Data: data})
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends an error event over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ResponsePayload{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}

// Writer serialises writes to one connection. gorilla/websocket allows only
// one concurrent writer.
type Writer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWriter wraps conn.
func NewWriter(conn *websocket.Conn) *Writer {
	return &Writer{conn: conn}
}

// Send writes an event with its data.
func (w *Writer) Send(event Event, data interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriteJSON(w.conn, event, data)
}

// Error writes an error event.
func (w *Writer) Error(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriteError(w.conn, msg)
}
