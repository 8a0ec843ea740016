package push

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a live push connection delivering one frame per Read.
type Conn interface {
	Read() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// WSDialer opens websocket push connections.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := ws.Dialer{Timeout: d.HandshakeTimeout}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return newWSConn(conn, br), nil
}

type wsConn struct {
	conn net.Conn
	rw   io.ReadWriter
}

func newWSConn(conn net.Conn, br *bufio.Reader) *wsConn {
	var r io.Reader = conn
	if br != nil {
		// The handshake may have buffered the first frames.
		r = io.MultiReader(br, conn)
	}
	return &wsConn{
		conn: conn,
		rw: struct {
			io.Reader
			io.Writer
		}{r, conn},
	}
}

// Read returns the next text or binary payload. Control frames are answered internally.
func (c *wsConn) Read() ([]byte, error) {
	data, _, err := wsutil.ReadServerData(c.rw)
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
