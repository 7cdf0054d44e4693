package spawn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn carries one envelope per websocket text message.
type wsConn struct {
	ws *websocket.Conn

	once sync.Once
	err  error
}

// NewWebSocketConn adapts an established websocket to a Conn.
func NewWebSocketConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) WriteEnvelope(env *Envelope) error {
	return c.ws.WriteJSON(env)
}

func (c *wsConn) ReadEnvelope() (*Envelope, error) {
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err := c.ws.Close(); err != nil && !isChannelClosed(err) {
			c.err = err
		}
	})
	return c.err
}

// WebSocketLauncher creates contexts on a remote isolate host. The rendered
// bootstrap is the first message on the socket.
type WebSocketLauncher struct {
	URL    string
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (l *WebSocketLauncher) Launch(ctx context.Context, boot *Bootstrap) (Conn, error) {
	if boot.Job != nil {
		return nil, ErrJobNotPortable
	}

	text, err := boot.Render()
	if err != nil {
		return nil, err
	}

	dialer := l.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, l.URL, l.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", l.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", l.URL, err)
	}

	if err := ws.WriteMessage(websocket.TextMessage, text); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send bootstrap: %w", err)
	}
	return NewWebSocketConn(ws), nil
}

// AcceptWebSocket is the host half of WebSocketLauncher: it reads the
// bootstrap message from ws and attaches an isolate endpoint to it.
func AcceptWebSocket(ws *websocket.Conn, opts ...Option) (*Endpoint, error) {
	_, text, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	boot, err := ParseBootstrap(text)
	if err != nil {
		return nil, err
	}
	return Attach(NewWebSocketConn(ws), boot, opts...), nil
}
