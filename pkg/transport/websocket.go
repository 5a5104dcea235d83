package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beachterm/viewer/internal/logx"
)

var log = logx.New("transport")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024
	sendQueueDepth = 256
)

// WebSocketTransport is a reference Transport implementation over a plain
// WebSocket connection, standing in for the production WebRTC data channel
// (spec.md §1 lists the real data channel as an external collaborator). Its
// read/write-pump shape is grounded on the teacher's
// `RawTerminalWebSocketHandler` (ping ticker, writer goroutine draining a
// buffered send channel, read/write deadlines refreshed on pong).
type WebSocketTransport struct {
	*Emitter

	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// DialWebSocket connects to url and returns an open WebSocketTransport.
func DialWebSocket(url string, header http.Header) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return newWebSocketTransport(conn), nil
}

// NewWebSocketTransport wraps an already-established connection, e.g. one
// accepted server-side by an http.Handler via websocket.Upgrader.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return newWebSocketTransport(conn)
}

func newWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		Emitter: NewEmitter(),
		conn:    conn,
		send:    make(chan []byte, sendQueueDepth),
		done:    make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.writePump()
	go t.readPump()

	t.Emit(Event{Kind: EventOpen})
	return t
}

func (t *WebSocketTransport) Send(frame []byte) error {
	if !t.IsOpen() {
		return ErrClosed
	}
	select {
	case t.send <- frame:
		return nil
	default:
		log.Printf("send queue full, dropping frame (%d bytes)", len(frame))
		return ErrClosed
	}
}

func (t *WebSocketTransport) SendText(s string) error {
	if !t.IsOpen() {
		return ErrClosed
	}
	// Text sentinels ("__ready__") bypass the send queue and are written
	// directly on the connection, so they are not ordered after binary
	// frames still waiting in the queue.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (t *WebSocketTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
	err := t.conn.Close()
	t.Emit(Event{Kind: EventClose})
	return err
}

func (t *WebSocketTransport) readPump() {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.Emit(Event{Kind: EventError, Err: err})
			}
			_ = t.Close()
			return
		}
		if kind == websocket.BinaryMessage {
			t.Emit(Event{Kind: EventFrame, Frame: data})
		} else if kind == websocket.TextMessage {
			t.Emit(Event{Kind: EventStatus, Status: string(data)})
		}
	}
}

func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			return
		}
	}
}
