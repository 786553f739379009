package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"snakearena/protocol"
)

// Server 接入层：TCP 监听、会话管理、全局 Tick 调度与优雅退出
type Server struct {
	cfg     Config
	reg     *Registry
	codec   protocol.Codec
	metrics *ServerMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	sessions  map[*Session]struct{}
}

// NewServer 创建服务并启动 Tick 调度器
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	metrics := &ServerMetrics{}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		reg:       NewRegistry(cfg, codec, metrics),
		codec:     codec,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		sessions:  make(map[*Session]struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reg.Run(ctx)
	}()
	return s, nil
}

func (s *Server) Registry() *Registry { return s.reg }

func (s *Server) Metrics() *ServerMetrics { return s.metrics }

func (s *Server) Config() Config { return s.cfg }

// ListenAndServe 监听 TCP 地址并阻塞接收连接
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	Log.Infow("tcp listening", "addr", ln.Addr().String(), "codec", s.codec.Name())
	return s.Serve(ln)
}

// Serve 接收循环；Shutdown 后返回 nil
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// 临时错误退避重试
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				Log.Warnw("accept error, retrying", "err", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		go s.ServeConn(conn)
	}
}

// ServeConn 在当前协程运行一条连接的完整会话
func (s *Server) ServeConn(t Transport) {
	sess := newSession(t, s.reg, s.cfg, s.metrics)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = t.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.IncAccepted()
	Log.Debugw("connection accepted", "session", sess.ID, "remote", sess.conn.remoteAddr())

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.wg.Done()
	}()
	sess.Run(s.ctx)
}

// SessionCount 当前存活会话数
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown 停止接收、关闭所有会话并等待协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	var err error
	for ln := range s.listeners {
		err = multierr.Append(err, ln.Close())
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	s.reg.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}
	return err
}
