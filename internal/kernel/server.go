// Package kernel is the ingress server: scene runtimes connect over a
// websocket and stream envelopes that are routed onto the scheduler's buses.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/scenebus/internal/bus"
	"github.com/dayuer/scenebus/internal/messaging"
	"github.com/dayuer/scenebus/internal/routing"
	"github.com/dayuer/scenebus/internal/scene"
	"github.com/dayuer/scenebus/internal/utils"
)

const (
	defaultHeartbeat = 10 * time.Second
	readTimeout      = 60 * time.Second
	maxBodyBytes     = 1 << 20
)

// Scheduler is the part of messaging.Scheduler the server drives.
type Scheduler interface {
	Submit(key messaging.SessionKey, msg bus.QueuedMessage, mode bus.QueueMode) error
	Snapshot() []messaging.Stats
	LastFrameCost() time.Duration
	FrameCostSummary() (avg, peak time.Duration, frames int)
}

// SceneLister reports loaded scenes.
type SceneLister interface {
	Scenes() []scene.Summary
}

// Server is the kernel HTTP/websocket server.
type Server struct {
	host      string
	port      int
	apiKey    string
	heartbeat time.Duration

	scheduler Scheduler
	routes    *routing.Table
	scenes    SceneLister
	counter   *messaging.MethodCounter

	wsConns map[*wsConn]bool
	wsMu    sync.Mutex

	received  atomic.Int64
	submitted atomic.Int64
	refused   atomic.Int64
	startTime time.Time

	mux *http.ServeMux
	srv *http.Server
}

// ServerConfig configures the kernel Server.
type ServerConfig struct {
	Host      string
	Port      int
	APIKey    string
	Heartbeat time.Duration
	Scheduler Scheduler
	Routes    *routing.Table
	Scenes    SceneLister              // optional
	Counter   *messaging.MethodCounter // optional
}

// NewServer creates a kernel server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Scheduler == nil || cfg.Routes == nil {
		return nil, errors.New("kernel: scheduler and routes are required")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}

	s := &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		apiKey:    cfg.APIKey,
		heartbeat: cfg.Heartbeat,
		scheduler: cfg.Scheduler,
		routes:    cfg.Routes,
		scenes:    cfg.Scenes,
		counter:   cfg.Counter,
		wsConns:   make(map[*wsConn]bool),
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/scenes", s.withAuth(s.handleScenes))
	s.mux.HandleFunc("/api/messages", s.withAuth(s.handleMessages))

	return s, nil
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	host := s.host
	if host == "" {
		host = "0.0.0.0"
	}
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, s.port),
		Handler: s.mux,
	}

	log.Printf("[Kernel] ✅ HTTP API → http://%s", s.srv.Addr)
	log.Printf("[Kernel] ✅ WebSocket → ws://%s/ws", s.srv.Addr)

	go s.heartbeatLoop(ctx)

	go func() {
		<-ctx.Done()
		s.closeAllWS()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the server gracefully.
func (s *Server) Stop() {
	s.closeAllWS()
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(ctx)
	}
}

// --- Auth middleware ---

func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+s.apiKey {
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		handler(w, r)
	}
}

// --- Ingest ---

// ingest routes one envelope onto the scheduler.
func (s *Server) ingest(env Envelope) (messaging.SessionKey, error) {
	s.received.Add(1)

	msg, err := env.Message()
	if err != nil {
		s.refused.Add(1)
		return messaging.SessionKey{}, err
	}

	route := s.routes.Resolve(msg)
	key := routing.SessionFor(msg, route)
	if err := s.scheduler.Submit(key, msg, route.Mode); err != nil {
		s.refused.Add(1)
		return key, err
	}
	s.submitted.Add(1)
	return key, nil
}

func (s *Server) load() map[string]any {
	sessions := s.scheduler.Snapshot()
	pending := 0
	for _, st := range sessions {
		pending += st.Pending
	}
	avg, peak, frames := s.scheduler.FrameCostSummary()
	return map[string]any{
		"sessions":        len(sessions),
		"pending":         pending,
		"frameCostMs":     millis(s.scheduler.LastFrameCost()),
		"avgFrameCostMs":  millis(avg),
		"peakFrameCostMs": millis(peak),
		"frames":          frames,
		"received":        s.received.Load(),
		"submitted":       s.submitted.Load(),
		"refused":         s.refused.Load(),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
		"routes": s.routes.Len(),
	})
}

func (s *Server) handleScenes(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"sessions": s.scheduler.Snapshot(),
		"load":     s.load(),
	}
	if s.scenes != nil {
		out["scenes"] = s.scenes.Scenes()
	}
	if s.counter != nil {
		out["methods"] = s.counter.Counts()
	}
	writeJSON(w, out)
}

// handleMessages accepts a single envelope over HTTP.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, "read failed", http.StatusBadRequest)
		return
	}
	env, err := DecodeEnvelope(body)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key, err := s.ingest(env)
	switch {
	case errors.Is(err, ErrBadEnvelope), errors.Is(err, ErrUnknownEnvelope):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSONStatus(w, map[string]any{"session": key.String()}, http.StatusAccepted)
}

// --- WebSocket ---

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket.Conn with a write mutex for thread safety.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) WriteJSONSafe(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *wsConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) WriteCloseSafe(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text))
}

// handleWS is the kernel socket.
//
// Protocol:
//
//	runtime → kernel:  {"type": "scene", "sceneId": "...", "tag": "...", "method": "...", "payload": ...}
//	runtime → kernel:  {"type": "load_parcel" | "update_parcel" | "unload_parcel", "payload": {...}}
//	runtime → kernel:  {"type": "unload_scenes"} | {"type": "scene_started", "sceneId": "..."}
//	runtime → kernel:  {"type": "ping"}  → kernel replies with pong + load
//	kernel → runtime:  {"type": "error", "error": "..."} for frames that were refused
//
// Key auth: connect with ?key=<apiKey>, mismatch returns 403.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.URL.Query().Get("key") != s.apiKey {
		log.Printf("[Kernel] 🚫 Key mismatch: %s", r.RemoteAddr)
		http.Error(w, "Invalid key", http.StatusForbidden)
		return
	}

	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Kernel] ⚠️ Upgrade failed: %v", err)
		return
	}

	conn := &wsConn{Conn: raw}
	peer := r.RemoteAddr
	log.Printf("[Kernel] 🔗 Connected: %s ✅", peer)

	s.wsMu.Lock()
	s.wsConns[conn] = true
	s.wsMu.Unlock()

	defer func() {
		raw.Close()
		s.wsMu.Lock()
		delete(s.wsConns, conn)
		s.wsMu.Unlock()
		log.Printf("[Kernel] 🔌 Disconnected: %s", peer)
	}()

	raw.SetReadLimit(maxBodyBytes)
	raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Kernel] ⚠️ Error: %v", err)
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(readTimeout))

		env, err := DecodeEnvelope(data)
		if err != nil {
			conn.WriteJSONSafe(errorFrame(err, utils.TruncateString(string(data), 80, "")))
			continue
		}

		if env.Type == TypePing {
			conn.WriteJSONSafe(map[string]any{"type": "pong", "load": s.load()})
			continue
		}

		if _, err := s.ingest(env); err != nil {
			log.Printf("[Kernel] ⚠️ Refused %s from %s: %v", env.Type, peer, err)
			conn.WriteJSONSafe(errorFrame(err, env.Type))
		}
	}
}

func errorFrame(err error, ref string) map[string]any {
	return map[string]any{"type": "error", "error": err.Error(), "ref": ref}
}

// heartbeatLoop sends WS-level pings + JSON heartbeat to every runtime.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastHeartbeat()
		}
	}
}

func (s *Server) broadcastHeartbeat() {
	s.wsMu.Lock()
	if len(s.wsConns) == 0 {
		s.wsMu.Unlock()
		return
	}
	conns := make([]*wsConn, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	s.wsMu.Unlock()

	payload := map[string]any{"type": "heartbeat", "load": s.load()}

	var dead []*wsConn
	for _, c := range conns {
		if err := c.WritePing(); err != nil {
			dead = append(dead, c)
			continue
		}
		if err := c.WriteJSONSafe(payload); err != nil {
			dead = append(dead, c)
		}
	}

	if len(dead) > 0 {
		s.wsMu.Lock()
		for _, c := range dead {
			delete(s.wsConns, c)
			c.Close()
		}
		s.wsMu.Unlock()
	}
}

// closeAllWS closes all WebSocket connections (called on shutdown).
func (s *Server) closeAllWS() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for c := range s.wsConns {
		c.WriteCloseSafe(websocket.CloseGoingAway, "server shutdown")
		c.Close()
		delete(s.wsConns, c)
	}
}

// WSConnectionCount returns the number of active WebSocket connections.
func (s *Server) WSConnectionCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsConns)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSONStatus(w, map[string]string{"error": msg}, code)
}
