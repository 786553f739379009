package server

import (
	"context"
	"time"
)

// Run 全局 Tick 调度器：固定周期推进每个活跃的非大厅房间各一次，
// 与玩家发送方向的频率无关。ctx 取消时返回。
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.TickInterval())
	defer ticker.Stop()
	Log.Infow("tick scheduler started", "interval", r.TickInterval())

	for {
		select {
		case <-ctx.Done():
			Log.Info("tick scheduler stopped")
			return
		case d := <-r.intervalCh:
			ticker.Reset(d)
			Log.Infow("tick interval updated", "interval", d)
		case <-ticker.C:
			r.TickActiveRooms()
		}
	}
}

// TickActiveRooms 推进一轮，返回被推进的房间数。
// 广播只入队不阻塞，所以一个房间的慢客户端不会拖延其他房间。
func (r *Registry) TickActiveRooms() int {
	rooms := r.activeRooms()
	for _, room := range rooms {
		room.UpdateTick()
	}
	return len(rooms)
}
