// Package wsconn adapts a gorilla/websocket connection to the net.Conn
// byte-stream interface so the broker's listener and per-pipe read/write
// loops can treat an nmq+ws:// client exactly like a plain TCP one.
package wsconn

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotBinary is returned when a received WebSocket message is not a
// binary message; MQTT-over-WebSocket requires the binary subprotocol.
var ErrNotBinary = errors.New("wsconn: received websocket message is not binary")

var closeMessage = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

// Conn wraps a *websocket.Conn as a net.Conn, reassembling MQTT frames
// that may be chunked across or coalesced within WebSocket messages.
type Conn struct {
	ws     *websocket.Conn
	reader io.Reader
}

// New wraps ws as a net.Conn.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read implements io.Reader, pulling bytes from the current (or next)
// binary WebSocket message.
func (c *Conn) Read(p []byte) (int, error) {
	total := 0
	buf := p
	for {
		if c.reader == nil {
			messageType, reader, err := c.ws.NextReader()
			if _, ok := err.(*websocket.CloseError); ok {
				return total, io.EOF
			} else if err != nil {
				return total, err
			} else if messageType != websocket.BinaryMessage {
				return total, ErrNotBinary
			}
			c.reader = reader
		}

		n, err := c.reader.Read(buf)
		total += n
		buf = buf[n:]

		if err == io.EOF {
			c.reader = nil
			if total > 0 || len(buf) == 0 {
				return total, nil
			}
			continue
		}
		if err != nil {
			return total, err
		}
		return total, nil
	}
}

// Write implements io.Writer, sending p as one binary WebSocket message.
func (c *Conn) Write(p []byte) (int, error) {
	writer, err := c.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return 0, err
	}
	n, err := writer.Write(p)
	if err != nil {
		return n, err
	}
	if err := writer.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Close sends a close frame and closes the underlying socket.
func (c *Conn) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage, closeMessage)
	return c.ws.Close()
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
