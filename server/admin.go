package server

import (
	"encoding/json"
	"net/http"
)

// Admin 只读运维接口
type Admin struct {
	manager *Manager
	metrics *Metrics
}

func NewAdmin(manager *Manager, metrics *Metrics) *Admin {
	return &Admin{manager: manager, metrics: metrics}
}

// HandleRooms 输出房间快照
// GET /admin/rooms              全部存活房间
// GET /admin/rooms?room=AB12CD  指定房间，不存在返回 404
func (a *Admin) HandleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if id := normalizeRoomID(r.URL.Query().Get("room")); id != "" {
		room, ok := a.manager.Room(id)
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, room)
		return
	}
	writeJSON(w, map[string]any{"rooms": a.manager.Rooms()})
}

// HandleMetrics 输出中继计数以及存活房间数、绑定连接数
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := a.metrics.Snapshot()
	payload["rooms_live"] = a.manager.Store().Len()
	payload["connections_bound"] = a.manager.Store().Bound()
	writeJSON(w, payload)
}

// HandleHealth 存活检查
func (a *Admin) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Log.Errorw("writing json response", "error", err)
	}
}
