package server

import (
	"io"
	"net"
	"sync"
	"time"

	"snakearena/protocol"
)

// Transport 单条持久双向字节流；net.Conn 与 WebSocket 适配器都满足
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	conn         Transport
	codec        protocol.Codec
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	metrics      *ServerMetrics
}

func NewClientConn(conn Transport, codec protocol.Codec, queue int, writeTimeout time.Duration, metrics *ServerMetrics) *ClientConn {
	if metrics == nil {
		metrics = &ServerMetrics{}
	}
	return &ClientConn{
		conn:         conn,
		codec:        codec,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		metrics:      metrics,
	}
}

// Enqueue 将整帧压入队列（非阻塞，满则丢弃），慢客户端不会拖住房间或其他玩家
func (c *ClientConn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.metrics.IncQueueFull()
		return false
	}
}

// Send 以服务端身份编码并入队一条消息
func (c *ClientConn) Send(t protocol.MessageType, payload any) error {
	env, err := protocol.NewEnvelope(c.codec, t, protocol.ServerSender, payload)
	if err != nil {
		return err
	}
	return c.SendEnvelope(env)
}

func (c *ClientConn) SendEnvelope(env protocol.Envelope) error {
	frame, err := protocol.Encode(c.codec, env)
	if err != nil {
		return err
	}
	c.Enqueue(frame)
	return nil
}

// Close 关闭底层连接并结束写协程，可重复调用
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *ClientConn) Done() <-chan struct{} { return c.done }

// writePump 独立协程，负责从 send 队列写出到连接；写失败即关闭连接，读循环随之退出
func (c *ClientConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if _, err := c.conn.Write(frame); err != nil {
				Log.Debugw("write failed, closing connection", "remote", c.remoteAddr(), "err", err)
				c.Close()
				return
			}
		}
	}
}

func (c *ClientConn) remoteAddr() string {
	if c.conn == nil || c.conn.RemoteAddr() == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}
