package eventsink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const maxRemoteReconnectAttempts = 3

// remoteConn abstracts over the two wire transports the remote sink can use,
// so RemoteSink itself does not branch on useSocket beyond choosing which
// dialer to call.
type remoteConn interface {
	writeFrame(ctx context.Context, payload []byte) error
	close()
}

type wsConn struct{ c *websocket.Conn }

func (w *wsConn) writeFrame(ctx context.Context, payload []byte) error {
	return w.c.Write(ctx, websocket.MessageText, payload)
}
func (w *wsConn) close() { _ = w.c.Close(websocket.StatusNormalClosure, "session ended") }

type tcpConn struct{ c net.Conn }

func (t *tcpConn) writeFrame(ctx context.Context, payload []byte) error {
	_, err := t.c.Write(append(payload, '\n'))
	return err
}
func (t *tcpConn) close() { _ = t.c.Close() }

// RemoteSink delivers events to a caller-supplied URL over a WebSocket
// (default) or a raw TCP socket, reconnecting a bounded number of times
// before degrading to a no-op and reporting the degradation once via onDegrade.
type RemoteSink struct {
	log       *slog.Logger
	addr      string
	useSocket bool

	mu       sync.Mutex
	conn     remoteConn
	attempts int
	degraded bool

	onDegrade func(reason string)
}

// NewRemoteSink dials addr immediately. If the first dial fails it still
// returns a usable RemoteSink (further Send calls will retry per the
// reconnect policy) unless attempts are already exhausted, in which case it
// returns the degraded sink and the caller should still register it as a
// harmless no-op Sink.
func NewRemoteSink(ctx context.Context, addr string, useSocket bool, log *slog.Logger, onDegrade func(reason string)) *RemoteSink {
	r := &RemoteSink{log: log, addr: addr, useSocket: useSocket, onDegrade: onDegrade}
	if err := r.dial(ctx); err != nil {
		r.noteFailure(err)
	}
	return r
}

func (r *RemoteSink) dial(ctx context.Context) error {
	if r.useSocket {
		host := stripScheme(r.addr)
		c, err := net.Dial("tcp", host)
		if err != nil {
			return err
		}
		r.conn = &tcpConn{c: c}
		return nil
	}

	wsURL, err := toWebsocketURL(r.addr)
	if err != nil {
		return err
	}
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	r.conn = &wsConn{c: c}
	return nil
}

func toWebsocketURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already correct
	case "":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func stripScheme(addr string) string {
	if i := strings.Index(addr, "://"); i >= 0 {
		return addr[i+3:]
	}
	return addr
}

// Send implements the Sink signature (see dispatcher.go). It is safe to
// register directly with Dispatcher.AddSink.
func (r *RemoteSink) Send(eventJSON, dataJSON string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.degraded {
		return
	}

	frame := []byte(fmt.Sprintf(`{"event":%s,"data":%s}`, eventJSON, dataJSON))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.conn == nil {
		if err := r.dial(ctx); err != nil {
			r.noteFailureLocked(err)
			return
		}
	}

	if err := r.conn.writeFrame(ctx, frame); err != nil {
		r.conn.close()
		r.conn = nil
		if dialErr := r.dial(ctx); dialErr != nil {
			r.noteFailureLocked(dialErr)
			return
		}
		if err := r.conn.writeFrame(ctx, frame); err != nil {
			r.noteFailureLocked(err)
		}
	}
}

func (r *RemoteSink) noteFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noteFailureLocked(err)
}

func (r *RemoteSink) noteFailureLocked(err error) {
	r.attempts++
	if r.log != nil {
		r.log.Warn("remote sink connection failed", "error", err, "attempt", r.attempts)
	}
	if r.attempts >= maxRemoteReconnectAttempts {
		r.degraded = true
		if r.onDegrade != nil {
			r.onDegrade(err.Error())
		}
	}
}

// Close releases the underlying connection, if any.
func (r *RemoteSink) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.close()
		r.conn = nil
	}
}
