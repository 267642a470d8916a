package server

import (
	"encoding/json"
	"net/http"

	"squarestorm/transport"
)

// Handler HTTP 接口：WebSocket 接入、服务器概况、运行指标、健康检查
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/info", s.HandleInfo)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !s.Running() {
			http.Error(w, "stopped", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleWS WebSocket 接入：每条二进制消息为一个完整数据包，之后与 TCP 对端走同一套流程
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	t, err := transport.Upgrade(w, r)
	if err != nil {
		s.log.Debugw("upgrade error", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.admit(t)
}

// HandleInfo GET /info  返回服务器概况与玩家列表
func (s *Server) HandleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload := struct {
		ServerInfo
		Players []PlayerSnapshot `json:"players"`
	}{ServerInfo: s.Info(), Players: s.Players()}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// HandleMetrics GET /metrics  输出运行指标
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload := map[string]any{
		"session": s.sessionID,
		"tick":    s.tickSeq.Load(),
		"metrics": s.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
