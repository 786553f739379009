package server

import (
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"snakearena/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 浏览器客户端与服务端分离部署，来源不做限制
		return true
	},
}

// HandleWS WebSocket 接入：帧格式与 TCP 完全相同，只是承载在二进制消息里
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(protocol.MaxFrameSize + protocol.HeaderSize)
	go s.ServeConn(newWSStream(ws))
}

// wsStream 把消息流适配成字节流。
// gorilla 的读超时会永久损坏连接，所以由后台协程读取，Read 的超时在这里自行实现。
type wsStream struct {
	ws       *websocket.Conn
	incoming chan []byte
	closed   chan struct{}
	readErr  error
	buf      []byte

	mu           sync.Mutex
	readDeadline time.Time

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newWSStream(ws *websocket.Conn) *wsStream {
	s := &wsStream{
		ws:       ws,
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *wsStream) readLoop() {
	defer close(s.incoming)
	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		select {
		case s.incoming <- data:
		case <-s.closed:
			return
		}
	}
}

func (s *wsStream) Read(p []byte) (int, error) {
	if len(s.buf) > 0 {
		n := copy(p, s.buf)
		s.buf = s.buf[n:]
		return n, nil
	}

	s.mu.Lock()
	deadline := s.readDeadline
	s.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case data, ok := <-s.incoming:
		if !ok {
			if s.readErr != nil && !websocket.IsCloseError(s.readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, s.readErr
			}
			return 0, io.EOF
		}
		n := copy(p, data)
		s.buf = data[n:]
		return n, nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	case <-s.closed:
		return 0, net.ErrClosed
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadline = t
	s.mu.Unlock()
	return nil
}

func (s *wsStream) SetWriteDeadline(t time.Time) error {
	return s.ws.SetWriteDeadline(t)
}

func (s *wsStream) RemoteAddr() net.Addr { return s.ws.RemoteAddr() }

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.ws.Close()
	})
	return err
}
