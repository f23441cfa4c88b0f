// Package wire implements the framing and transport shared by every
// external interface the coordination core speaks: the broker, the pub/sub
// fan-out proxy, the reference service, and peer-to-peer RPC. Every frame is
// msgpack-encoded; every socket is a github.com/gorilla/websocket
// connection behind a small Conn interface.
package wire

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal surface every transport in this package needs from a
// connection: framed write, framed read, a read deadline, and close. A
// websocket connection satisfies it directly.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	return w.c.SetReadDeadline(t)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

var dialer = websocket.Dialer{HandshakeTimeout: 5 * time.Second}

// Dial opens a client connection to a websocket endpoint (used for the
// broker, the pub/sub proxy, the reference service, and outgoing peer RPCs).
func Dial(url string) (Conn, error) {
	c, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade promotes an incoming HTTP request to a Conn (used by the Peer RPC
// server and by the replica's own broker-facing listener).
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}
