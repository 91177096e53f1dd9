package kissio

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ramory-l/kissio/kissiotest"
	"github.com/ramory-l/kissio/parser"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ConnectDefault = false

	srv := NewServer(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// flush waits until the scheduler has no queued tasks left, including
// tasks queued by the tasks it ran.
func (q *scheduler) flush(t *testing.T) {
	t.Helper()

	done := make(chan struct{})
	var mark func()
	mark = func() {
		q.mu.Lock()
		pending := len(q.tasks)
		q.mu.Unlock()

		if pending > 0 {
			q.post(mark)
			return
		}
		close(done)
	}
	q.post(mark)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not drain")
	}
}

func bind(t *testing.T, srv *Server) (*kissiotest.Conn, *Client) {
	t.Helper()

	conn := kissiotest.NewConn()
	return conn, srv.Bind(conn)
}

func connectFrame(nsp string) string {
	if nsp == parser.DefaultNamespace {
		return "0"
	}
	return "0" + nsp + ","
}

// join mounts nsp if needed, sends a CONNECT for it and returns the
// admitted socket.
func join(t *testing.T, srv *Server, nsp string) (*kissiotest.Conn, *Client, *Socket) {
	t.Helper()

	srv.Of(nsp)
	conn, c := bind(t, srv)
	conn.Receive(connectFrame(nsp))
	c.loop.flush(t)

	s, ok := c.Socket(nsp)
	require.True(t, ok, "socket for %s not admitted", nsp)
	return conn, c, s
}

func eventArgs(p *parser.Packet) []any {
	data, _ := p.Data.([]any)
	if len(data) == 0 {
		return nil
	}
	return data[1:]
}
