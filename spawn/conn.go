package spawn

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one side's handle on a bidirectional message channel. An Endpoint
// calls ReadEnvelope from a single goroutine and WriteEnvelope from another.
// Close tears the channel down and releases whatever created it; after it
// returns, ReadEnvelope must fail.
type Conn interface {
	WriteEnvelope(env *Envelope) error
	ReadEnvelope() (*Envelope, error)
	Close() error
}

// streamConn speaks length-prefixed JSON frames over a byte stream.
type streamConn struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer

	once     sync.Once
	closeErr error
}

// NewStreamConn frames envelopes over r and w. Close closes every closer in
// order.
func NewStreamConn(r io.Reader, w io.Writer, closers ...io.Closer) Conn {
	return &streamConn{r: r, w: w, closers: closers}
}

func (c *streamConn) WriteEnvelope(env *Envelope) error {
	return writeFrame(c.w, env)
}

func (c *streamConn) ReadEnvelope() (*Envelope, error) {
	return readFrame(c.r)
}

func (c *streamConn) Close() error {
	c.once.Do(func() {
		var errs []error
		for _, cl := range c.closers {
			if err := cl.Close(); err != nil && !isChannelClosed(err) {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Pipe returns two connected in-memory Conns. Values written on one side are
// read, as fresh copies, on the other.
func Pipe() (Conn, Conn) {
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()

	a := NewStreamConn(aR, aW, aW, aR)
	b := NewStreamConn(bR, bW, bW, bR)
	return a, b
}

// releasingConn runs release once after the wrapped Conn is closed.
type releasingConn struct {
	Conn
	release func() error

	once sync.Once
	err  error
}

func (c *releasingConn) Close() error {
	c.once.Do(func() {
		c.err = errors.Join(c.Conn.Close(), c.release())
	})
	return c.err
}

// isChannelClosed reports whether err means the other end of the channel is
// gone rather than a genuine fault.
func isChannelClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "file already closed") ||
		strings.Contains(msg, "connection reset")
}
