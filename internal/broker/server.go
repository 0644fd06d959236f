package broker

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/lattice-edge/brokercore/internal/wsconn"
)

// Listen parses a listener URL (broker+tcp://, nmq+ws://, and their +tls
// variants — TLS itself is out of scope, so the tls schemes bind plaintext
// with a warning) and opens the corresponding listener.
func (b *Broker) Listen(rawURL string) (func() error, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("broker: invalid listener url %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "broker+tcp" || scheme == "broker+tls+tcp":
		if scheme == "broker+tls+tcp" {
			b.log.Warn("broker+tls+tcp requested; TLS termination is out of scope, binding plaintext")
		}
		return b.listenTCP(u.Host)
	case scheme == "nmq+ws" || scheme == "nmq+wss":
		if scheme == "nmq+wss" {
			b.log.Warn("nmq+wss requested; TLS termination is out of scope, binding plaintext")
		}
		return b.listenWS(u.Host, u.Path)
	default:
		return nil, fmt.Errorf("broker: unsupported listener scheme %q", u.Scheme)
	}
}

func (b *Broker) listenTCP(addr string) (func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.ServeConn(conn)
		}
	}()
	return ln.Close, nil
}

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{"mqtt"},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (b *Broker) listenWS(addr, path string) (func() error, error) {
	if path == "" {
		path = "/mqtt"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.WithError(err).Debug("websocket upgrade failed")
			return
		}
		go b.ServeConn(wsconn.New(ws))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux}
	go func() {
		_ = srv.Serve(ln)
	}()
	return ln.Close, nil
}
