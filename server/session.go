package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"snakearena/protocol"
)

var ErrAuthRequired = errors.New("first message must be auth")

// SessionState 连接生命周期
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Session 一条客户端连接：握手、接收循环、按类型分发，退出时清理恰好一次
type Session struct {
	ID string

	cfg       Config
	reg       *Registry
	codec     protocol.Codec
	transport Transport
	conn      *ClientConn
	reader    *protocol.FrameReader
	limiter   *rate.Limiter
	metrics   *ServerMetrics

	player  atomic.Pointer[Player] // Close 可能由 Shutdown 从其他协程调用
	state   atomic.Int32
	closing atomic.Bool
}

func newSession(t Transport, reg *Registry, cfg Config, metrics *ServerMetrics) *Session {
	codec := reg.Codec()
	return &Session{
		ID:        uuid.NewString(),
		cfg:       cfg,
		reg:       reg,
		codec:     codec,
		transport: t,
		conn:      NewClientConn(t, codec, cfg.SendQueue, cfg.WriteTimeout, metrics),
		reader:    protocol.NewFrameReader(t),
		limiter:   rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessageBurst),
		metrics:   metrics,
	}
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(st SessionState) { s.state.Store(int32(st)) }

// Player 认证成功前为 nil
func (s *Session) Player() *Player { return s.player.Load() }

// Run 阻塞直到会话结束
func (s *Session) Run(ctx context.Context) {
	defer s.Close()
	go s.conn.writePump()

	if err := s.authenticate(); err != nil {
		s.metrics.IncAuthFailure()
		Log.Infow("auth failed", "session", s.ID, "remote", s.conn.remoteAddr(), "err", err)
		return
	}
	s.loop(ctx)
}

// authenticate 在限定时间内等待 AUTH；任何失败都直接断开且不回复
func (s *Session) authenticate() error {
	s.setState(StateAuthenticating)
	if err := s.transport.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout)); err != nil {
		return err
	}
	body, err := s.reader.ReadFrame()
	if err != nil {
		return fmt.Errorf("read auth: %w", err)
	}
	env, err := s.codec.UnmarshalEnvelope(body)
	if err != nil {
		return err
	}
	if env.Type != protocol.TypeAuth {
		return fmt.Errorf("%w, got %q", ErrAuthRequired, env.Type)
	}

	p, err := s.reg.Register(env.Text(s.codec), s.conn)
	if err != nil {
		return err
	}
	s.player.Store(p)
	if s.closing.Load() {
		s.reg.RemovePlayer(p.ID)
		return net.ErrClosed
	}

	// AUTH 回复先于任何其他消息入队：此时玩家还不在任何房间
	if err := s.conn.Send(protocol.TypeAuth, protocol.AuthReply{
		PlayerID: string(p.ID),
		Status:   protocol.StatusSuccess,
		RoomID:   LobbyID,
	}); err != nil {
		return err
	}
	s.setState(StateActive)
	Log.Infow("player authenticated", "session", s.ID, "player_id", p.ID, "username", p.Username, "remote", s.conn.remoteAddr())

	s.reg.JoinLobby(p)
	return nil
}

// loop 短超时读取，超时不算错误，只用来及时响应关闭
func (s *Session) loop(ctx context.Context) {
	p := s.player.Load()
	lastSeen := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-s.conn.Done():
			return
		default:
		}

		if err := s.transport.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}
		body, err := s.reader.ReadFrame()
		if err != nil {
			if protocol.Recoverable(err) {
				if s.cfg.IdleTimeout > 0 && time.Since(lastSeen) > s.cfg.IdleTimeout {
					Log.Infow("session idle timeout", "session", s.ID, "player_id", p.ID)
					return
				}
				continue
			}
			if protocol.Droppable(err) {
				// 认证后长度非法的单条消息只丢弃，连接保持
				lastSeen = time.Now()
				s.metrics.IncDecodeError()
				Log.Warnw("dropping malformed frame", "session", s.ID, "player_id", p.ID, "err", err)
				continue
			}
			Log.Debugw("read loop ended", "session", s.ID, "player_id", p.ID, "err", err)
			return
		}
		lastSeen = time.Now()

		env, err := s.codec.UnmarshalEnvelope(body)
		if err != nil {
			s.metrics.IncDecodeError()
			Log.Warnw("dropping malformed message", "session", s.ID, "player_id", p.ID, "err", err)
			continue
		}
		if env.Type != protocol.TypeDisconnect && !s.limiter.Allow() {
			s.metrics.IncRateLimited()
			continue
		}
		if !s.dispatch(p.ID, env) {
			return
		}
	}
}

// dispatch 按类型分发；返回 false 表示结束会话
func (s *Session) dispatch(pid PlayerID, env protocol.Envelope) bool {
	var err error

	switch env.Type {
	case protocol.TypeMove:
		if in, ok := parseInput(s.codec, pid, env); ok {
			s.reg.HandleMove(in)
		}
	case protocol.TypeChat:
		s.reg.HandleChat(pid, env.Text(s.codec))
	case protocol.TypeCreateRoom:
		_, err = s.reg.CreateRoom(pid, env.Text(s.codec))
	case protocol.TypeJoinRoom:
		err = s.reg.JoinRoom(pid, env.Text(s.codec))
	case protocol.TypeLeaveRoom:
		err = s.reg.LeaveRoom(pid)
	case protocol.TypeStartGame:
		err = s.reg.StartGame(pid)
	case protocol.TypeRestartGame:
		err = s.reg.RestartGame(pid)
	case protocol.TypeDisconnect:
		Log.Infow("client requested disconnect", "session", s.ID, "player_id", pid)
		return false
	default:
		if !env.Type.Known() {
			s.metrics.IncUnknownType()
			Log.Warnw("unknown message type", "session", s.ID, "player_id", pid, "type", env.Type)
			break
		}
		// 仅由服务端发出的类型
		Log.Debugw("ignoring message", "session", s.ID, "player_id", pid, "type", env.Type)
	}

	if err != nil {
		Log.Debugw("request rejected", "session", s.ID, "player_id", pid, "type", env.Type, "err", err)
	}
	return true
}

// Close 幂等清理：离开房间、移出目录、关闭连接
func (s *Session) Close() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.setState(StateClosing)
	if p := s.player.Load(); p != nil {
		s.reg.RemovePlayer(p.ID)
	}
	s.conn.Close()
	s.setState(StateClosed)
}
