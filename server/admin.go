package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HandleAdminConfig 全局运行参数的读取与热更新
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		TickIntervalMs *int `json:"tickIntervalMs,omitempty"`
		RoomCapacity   *int `json:"roomCapacity,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		tick := int(s.reg.TickInterval() / time.Millisecond)
		capacity := s.reg.RoomCapacity()
		writeJSON(w, http.StatusOK, cfg{TickIntervalMs: &tick, RoomCapacity: &capacity})
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.TickIntervalMs != nil && *body.TickIntervalMs <= 0 {
			http.Error(w, "tickIntervalMs must be positive", http.StatusBadRequest)
			return
		}
		if body.RoomCapacity != nil && *body.RoomCapacity < 1 {
			http.Error(w, "roomCapacity must be at least 1", http.StatusBadRequest)
			return
		}
		if body.TickIntervalMs != nil {
			s.reg.SetTickInterval(time.Duration(*body.TickIntervalMs) * time.Millisecond)
		}
		if body.RoomCapacity != nil {
			s.reg.SetRoomCapacity(*body.RoomCapacity)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		Log.Infow("config updated", "tick_interval", s.reg.TickInterval(), "room_capacity", s.reg.RoomCapacity())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRooms 当前房间列表（与推送给大厅的 ROOM_LIST 一致）
// GET /admin/rooms
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.reg.RoomList())
}

// HandleMetrics 输出服务端与各房间的运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"server":   s.metrics.Snapshot(),
		"registry": s.reg.Stats(),
		"sessions": s.SessionCount(),
		"rooms":    s.reg.RoomMetrics(),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// Routes 管理与监控接口，外加 WebSocket 接入
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/admin/rooms", s.HandleRooms)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/healthz", s.HandleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
