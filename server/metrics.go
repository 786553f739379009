package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount     int64 // 推进的 Tick 次数
	TotalTickNs   int64 // Tick 累计耗时（纳秒）
	MovesAccepted int64 // 被接受的方向输入
	MovesRejected int64 // 反向或非法方向
	GamesStarted  int64
	GamesFinished int64
}

func (m *RoomMetrics) IncAccepted() { atomic.AddInt64(&m.MovesAccepted, 1) }
func (m *RoomMetrics) IncRejected() { atomic.AddInt64(&m.MovesRejected, 1) }
func (m *RoomMetrics) IncGamesStarted() { atomic.AddInt64(&m.GamesStarted, 1) }
func (m *RoomMetrics) IncGamesFinished() { atomic.AddInt64(&m.GamesFinished, 1) }
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":     tick,
		"avg_tick_ms":    avgMs,
		"moves_accepted": atomic.LoadInt64(&m.MovesAccepted),
		"moves_rejected": atomic.LoadInt64(&m.MovesRejected),
		"games_started":  atomic.LoadInt64(&m.GamesStarted),
		"games_finished": atomic.LoadInt64(&m.GamesFinished),
	}
}

// ServerMetrics 连接层指标
type ServerMetrics struct {
	ConnectionsAccepted int64
	AuthFailures        int64
	RateLimited         int64 // 因限流被丢弃的入站消息
	DecodeErrors        int64 // 长度非法或信封无法解码
	UnknownTypes        int64 // 未知消息类型
	QueueFullDiscarded  int64 // 发送队列满被丢弃的出站消息
}

func (m *ServerMetrics) IncAccepted() { atomic.AddInt64(&m.ConnectionsAccepted, 1) }
func (m *ServerMetrics) IncAuthFailure() { atomic.AddInt64(&m.AuthFailures, 1) }
func (m *ServerMetrics) IncRateLimited() { atomic.AddInt64(&m.RateLimited, 1) }
func (m *ServerMetrics) IncDecodeError() { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *ServerMetrics) IncUnknownType() { atomic.AddInt64(&m.UnknownTypes, 1) }
func (m *ServerMetrics) IncQueueFull() { atomic.AddInt64(&m.QueueFullDiscarded, 1) }

func (m *ServerMetrics) Snapshot() map[string]any {
	return map[string]any{
		"connections_accepted": atomic.LoadInt64(&m.ConnectionsAccepted),
		"auth_failures":        atomic.LoadInt64(&m.AuthFailures),
		"rate_limited":         atomic.LoadInt64(&m.RateLimited),
		"decode_errors":        atomic.LoadInt64(&m.DecodeErrors),
		"unknown_types":        atomic.LoadInt64(&m.UnknownTypes),
		"queue_full_discarded": atomic.LoadInt64(&m.QueueFullDiscarded),
	}
}
