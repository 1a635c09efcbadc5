package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/websocket"

	"poolserver/internal/events"
	"poolserver/internal/logger"
	"poolserver/internal/metrics"
	"poolserver/internal/worker"
)

// DefaultAddr は管理APIの既定アドレス
const DefaultAddr = "127.0.0.1:9090"

// Source は管理APIが公開する状態の取得元
type Source interface {
	Stats() worker.Stats
	Workers() []worker.WorkerInfo
	Snapshot() metrics.Snapshot
}

// Config は管理APIの設定
type Config struct {
	Addr              string
	Source            Source
	Bus               *events.Bus          // 任意。イベントを /ws の各クライアントへ中継する
	Registry          *prometheus.Registry // 任意。nil なら /metrics は 404
	BroadcastInterval time.Duration        // ステータス配信間隔（0で1秒）
	AllowedOrigins    []string             // CORS（空なら "*"）
}

// Server は管理APIサーバー
type Server struct {
	cfg Config

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool
	listener  net.Listener

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		cfg:       cfg,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Handler はルーティング済みの http.Handler を返す
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	if s.cfg.Registry != nil {
		r.Handle("/metrics", metrics.Handler(s.cfg.Registry))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/workers", s.handleWorkers)
		r.Get("/metrics", s.handleMetrics)
	})

	r.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return r
}

// Start はサーバーを開始し、ctx が終了するまでブロックする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	// バックグラウンドでステータスを配信
	go s.broadcastLoop(ctx)

	logger.Info("api", "API Server starting on http://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr は待ち受け中のアドレスを返す。Start 前は nil
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Mode      string  `json:"mode"`
	Size      int     `json:"size"`
	State     string  `json:"state"`
	QueueLen  int     `json:"queue_len"`
	Busy      int     `json:"busy"`
	Submitted uint64  `json:"submitted"`
	Rejected  uint64  `json:"rejected"`
	Processed uint64  `json:"processed"`
	Failed    uint64  `json:"failed"`
	UptimeSec float64 `json:"uptime_sec"`
}

func (s *Server) status() StatusResponse {
	st := s.cfg.Source.Stats()
	return StatusResponse{
		Mode:      st.Mode,
		Size:      st.Size,
		State:     st.State,
		QueueLen:  st.QueueLen,
		Busy:      st.Busy,
		Submitted: st.Submitted,
		Rejected:  st.Rejected,
		Processed: st.Processed,
		Failed:    st.Failed,
		UptimeSec: st.Uptime.Seconds(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.status())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.cfg.Source.Workers())
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	TotalRequests   uint64            `json:"total_requests"`
	SuccessRequests uint64            `json:"success_requests"`
	FailedRequests  uint64            `json:"failed_requests"`
	RPS             float64           `json:"rps"`
	AvgLatencyMs    float64           `json:"avg_latency_ms"`
	P99LatencyMs    float64           `json:"p99_latency_ms"`
	ErrorRate       float64           `json:"error_rate"`
	Statuses        map[string]uint64 `json:"statuses"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Source.Snapshot()
	s.writeJSON(w, MetricsResponse{
		TotalRequests:   snap.TotalRequests,
		SuccessRequests: snap.SuccessRequests,
		FailedRequests:  snap.FailedRequests,
		RPS:             snap.OverallRPS,
		AvgLatencyMs:    float64(snap.AverageLatency) / float64(time.Millisecond),
		P99LatencyMs:    float64(snap.P99Latency) / float64(time.Millisecond),
		ErrorRate:       snap.ErrorRate,
		Statuses:        snap.Statuses,
	})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// 接続直後に現在の状態を送る
	s.send(ws, map[string]interface{}{"type": "status", "status": s.status()})

	// ?types=job_failed,resource_missing で中継する種別を絞り込める
	if s.cfg.Bus != nil {
		ch := s.cfg.Bus.Subscribe(parseEventTypes(ws.Request().URL.Query().Get("types"))...)
		defer s.cfg.Bus.Unsubscribe(ch)
		go s.forwardEvents(ws, ch)
	}

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中の WebSocket クライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ws := range s.wsClients {
		_ = ws.Close()
	}
}

func (s *Server) send(ws *websocket.Conn, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = websocket.Message.Send(ws, string(jsonData))
}

func (s *Server) broadcast(data interface{}) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(map[string]interface{}{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

// forwardEvents はバスのイベントを ws へ中継する。ch が閉じると終了する
func (s *Server) forwardEvents(ws *websocket.Conn, ch <-chan events.Event) {
	for ev := range ch {
		s.send(ws, map[string]interface{}{
			"type":  "event",
			"event": ev,
		})
	}
}

func parseEventTypes(raw string) []events.EventType {
	var types []events.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.EventType(t))
		}
	}
	return types
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("api", "Failed to encode JSON: %v", err)
	}
}
