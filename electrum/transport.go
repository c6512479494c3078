package electrum

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/btcsuite/websocket"
)

// maxMessageSize bounds a single line from the server. A full header chunk
// in hex is about 320KB.
const maxMessageSize = 4 * 1024 * 1024

// transport moves whole JSON messages to and from the server.
type transport interface {
	WriteMessage(b []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// lineTransport is the plain TCP framing: one JSON message per line.
type lineTransport struct {
	con  net.Conn
	r    *bufio.Reader
	wmtx sync.Mutex
}

func newLineTransport(con net.Conn) *lineTransport {
	return &lineTransport{con: con, r: bufio.NewReaderSize(con, 64*1024)}
}

func (l *lineTransport) WriteMessage(b []byte) error {
	l.wmtx.Lock()
	defer l.wmtx.Unlock()
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, '\n')
	_, err := l.con.Write(msg)
	return err
}

func (l *lineTransport) ReadMessage() ([]byte, error) {
	var line []byte
	for {
		part, isPrefix, err := l.r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, part...)
		if len(line) > maxMessageSize {
			return nil, bufio.ErrBufferFull
		}
		if !isPrefix {
			break
		}
	}
	return bytes.TrimSpace(line), nil
}

func (l *lineTransport) Close() error {
	return l.con.Close()
}

// wsTransport sends one JSON message per websocket text frame.
type wsTransport struct {
	con  *websocket.Conn
	wmtx sync.Mutex
}

func (w *wsTransport) WriteMessage(b []byte) error {
	w.wmtx.Lock()
	defer w.wmtx.Unlock()
	return w.con.WriteMessage(websocket.TextMessage, b)
}

func (w *wsTransport) ReadMessage() ([]byte, error) {
	_, b, err := w.con.ReadMessage()
	return b, err
}

func (w *wsTransport) Close() error {
	return w.con.Close()
}

// dialFunc returns the dialer for cfg, going through the SOCKS proxy if
// one is set.
func dialFunc(cfg *Config) func(network, addr string) (net.Conn, error) {
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		return proxy.Dial
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	return d.Dial
}

func dialTransport(cfg *Config) (transport, error) {
	dial := dialFunc(cfg)
	if !cfg.WebSocket {
		con, err := dial("tcp", cfg.Server)
		if err != nil {
			return nil, err
		}
		return newLineTransport(con), nil
	}

	dialer := websocket.Dialer{
		NetDial:          dial,
		HandshakeTimeout: cfg.DialTimeout,
	}
	con, _, err := dialer.Dial(cfg.Server, http.Header{})
	if err != nil {
		return nil, err
	}
	return &wsTransport{con: con}, nil
}

const defaultDialTimeout = 10 * time.Second
