package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkeep-io/sentinel-agent/internal/protocol"
)

// The agent is the dialing side, so it drives the ping side of the
// keepalive handshake instead of waiting on it.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // command results/logs can be larger than the server's client-push limit
)

var errTransportClosed = errors.New("session: transport closed")

// transport wraps a single dialed WebSocket connection and turns it into
// a channel of inbound protocol.Envelope values plus a send method.
//
// writePump is the only goroutine that writes to conn; gorilla/websocket
// connections are not safe for concurrent writes, so application sends,
// keepalive pings, and the close frame are all funneled through its
// select. send only enqueues.
type transport struct {
	conn   *websocket.Conn
	logger *zap.Logger

	inbound  chan protocol.Envelope
	outbound chan protocol.Envelope

	shutdown  chan struct{} // close() requests an orderly close frame + teardown
	closed    chan struct{} // closed when readPump exits; the connection is unusable
	closeOnce sync.Once
}

// dial opens the WebSocket connection, sends the identification handshake as
// the first frame, and starts the read/write pumps. serverURL must be a
// ws:// or wss:// URL.
func dial(ctx context.Context, serverURL string, ident protocol.Identification, logger *zap.Logger) (*transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("session: dial failed: %w", err)
	}

	// The pumps are not running yet, so this write is single-threaded.
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(ident); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: identification handshake failed: %w", err)
	}

	t := &transport{
		conn:     conn,
		logger:   logger,
		inbound:  make(chan protocol.Envelope, 64),
		outbound: make(chan protocol.Envelope, 64),
		shutdown: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t, nil
}

// readPump decodes inbound Envelope frames and forwards them on t.inbound
// until the connection closes.
func (t *transport) readPump() {
	defer close(t.closed)
	defer close(t.inbound)
	defer t.conn.Close()

	t.conn.SetReadLimit(maxMessageSize)
	if err := t.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env protocol.Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				t.logger.Warn("session: unexpected close", zap.Error(err))
			}
			return
		}
		t.inbound <- env
	}
}

// writePump drains outbound envelopes and sends keepalive pings. On a
// write error it closes the connection, which unblocks readPump and tears
// the transport down.
func (t *transport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-t.outbound:
			if err := t.writeJSON(env); err != nil {
				t.logger.Warn("session: outbound send failed", zap.String("event", env.Event), zap.Error(err))
				t.conn.Close()
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.conn.Close()
				return
			}
		case <-t.shutdown:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			t.conn.Close()
			return
		case <-t.closed:
			return
		}
	}
}

func (t *transport) writeJSON(env protocol.Envelope) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(env)
}

// send enqueues an Envelope for the write pump. It fails only once the
// transport is shutting down; write errors surface in writePump's log and
// through the connection teardown.
func (t *transport) send(env protocol.Envelope) error {
	select {
	case t.outbound <- env:
		return nil
	case <-t.shutdown:
		return errTransportClosed
	case <-t.closed:
		return errTransportClosed
	}
}

// close asks the write pump to send a close frame and tear the connection
// down. Idempotent and safe to call from any goroutine.
func (t *transport) close() {
	t.closeOnce.Do(func() { close(t.shutdown) })
}
