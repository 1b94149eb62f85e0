// Package server exposes run progress over HTTP: health, the current run
// report, the run log, a websocket stream of both and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devskill-org/capacity-planner/expansion"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Source is what the server reports on. *expansion.Engine implements it.
type Source interface {
	Status() expansion.RunReport
	Log() *expansion.RunLog
}

// WebServer provides the progress endpoints.
type WebServer struct {
	source    Source
	server    *http.Server
	mux       *http.ServeMux
	port      int
	interval  time.Duration
	startTime time.Time
	upgrader  websocket.Upgrader
	clients   sync.Map // *client -> struct{}
	broadcast chan []byte
	done      chan struct{}
	stopOnce  sync.Once
	logger    *log.Logger
}

// client serializes writes to one websocket connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version,omitempty"`
	Run       RunHealth    `json:"run"`
	System    SystemHealth `json:"system"`
}

// RunHealth summarizes the current run
type RunHealth struct {
	RunID    string          `json:"run_id,omitempty"`
	Scenario string          `json:"scenario,omitempty"`
	State    expansion.State `json:"state"`
	Year     int             `json:"year,omitempty"`
	Years    int             `json:"years_completed"`
}

// SystemHealth represents system-level health information
type SystemHealth struct {
	Uptime string `json:"uptime"`
}

// Message is one websocket frame.
type Message struct {
	Type   string               `json:"type"` // "status_update" or "log"
	Line   string               `json:"line,omitempty"`
	Health *HealthResponse      `json:"health,omitempty"`
	Status *expansion.RunReport `json:"status,omitempty"`
}

// NewWebServer creates the server. It returns nil when port is not
// positive. gatherer may be nil, in which case /metrics is not served.
func NewWebServer(source Source, port int, interval time.Duration, gatherer prometheus.Gatherer, logger *log.Logger) *WebServer {
	if port <= 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	mux := http.NewServeMux()
	ws := &WebServer{
		source:    source,
		mux:       mux,
		port:      port,
		interval:  interval,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		logger:    logger,
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", ws.healthHandler)
	mux.HandleFunc("/api/status", ws.statusHandler)
	mux.HandleFunc("/api/log", ws.logHandler)
	mux.HandleFunc("/api/ws", ws.wsHandler)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return ws
}

// Handler returns the routes, for embedding or tests.
func (ws *WebServer) Handler() http.Handler { return ws.mux }

// Start starts listening and broadcasting.
func (ws *WebServer) Start() error {
	if ws == nil {
		return nil
	}
	ws.startBroadcasting()

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Printf("Web server error: %v", err)
		}
	}()
	ws.logger.Printf("Progress server listening on :%d", ws.port)
	return nil
}

func (ws *WebServer) startBroadcasting() {
	go ws.handleBroadcasts()
	go ws.broadcastStatus()
	go ws.forwardLog()
}

// Stop gracefully stops the server and closes every websocket.
func (ws *WebServer) Stop(ctx context.Context) error {
	if ws == nil {
		return nil
	}
	ws.stopOnce.Do(func() { close(ws.done) })

	ws.clients.Range(func(key, _ any) bool {
		key.(*client).conn.Close()
		return true
	})
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, ws.health(ws.source.Status()))
}

func (ws *WebServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, ws.source.Status())
}

// logHandler returns the run log as text, or as a JSON array of lines with
// ?format=json.
func (ws *WebServer) logHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, ws.source.Log().Lines())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, ws.source.Log().String())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (ws *WebServer) health(status expansion.RunReport) *HealthResponse {
	h := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		Run: RunHealth{
			Scenario: status.Scenario,
			State:    status.State,
			Year:     status.Year,
			Years:    len(status.Years),
		},
		System: SystemHealth{Uptime: formatUptime(time.Since(ws.startTime))},
	}
	if status.State != expansion.StateIdle {
		h.Run.RunID = status.RunID.String()
	}
	if status.State == expansion.StateFailed {
		h.Status = "degraded"
	}
	return h
}

func (ws *WebServer) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn}
	if message, err := json.Marshal(ws.statusMessage()); err == nil {
		if err := c.write(message); err != nil {
			ws.logger.Printf("Failed to send initial status: %v", err)
		}
	}
	ws.clients.Store(c, struct{}{})

	defer func() {
		ws.clients.Delete(c)
		conn.Close()
	}()

	// read until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ws.logger.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// handleBroadcasts sends messages to all connected clients
func (ws *WebServer) handleBroadcasts() {
	for {
		select {
		case message := <-ws.broadcast:
			ws.clients.Range(func(key, _ any) bool {
				c := key.(*client)
				if err := c.write(message); err != nil {
					ws.logger.Printf("WebSocket write error: %v", err)
					c.conn.Close()
					ws.clients.Delete(c)
				}
				return true
			})
		case <-ws.done:
			return
		}
	}
}

// broadcastStatus pushes the run status while there are clients.
func (ws *WebServer) broadcastStatus() {
	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !ws.hasClients() {
				continue
			}
			ws.send(ws.statusMessage())
		case <-ws.done:
			return
		}
	}
}

// forwardLog streams every new run log line to the clients.
func (ws *WebServer) forwardLog() {
	lines, cancel := ws.source.Log().Subscribe(256)
	defer cancel()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if ws.hasClients() {
				ws.send(Message{Type: "log", Line: line})
			}
		case <-ws.done:
			return
		}
	}
}

func (ws *WebServer) send(m Message) {
	message, err := json.Marshal(m)
	if err != nil {
		ws.logger.Printf("Failed to marshal %s message: %v", m.Type, err)
		return
	}
	select {
	case ws.broadcast <- message:
	case <-ws.done:
	}
}

func (ws *WebServer) hasClients() bool {
	found := false
	ws.clients.Range(func(_, _ any) bool {
		found = true
		return false
	})
	return found
}

func (ws *WebServer) statusMessage() Message {
	status := ws.source.Status()
	return Message{Type: "status_update", Health: ws.health(status), Status: &status}
}

// formatUptime formats a duration as a string with seconds rounded to integer
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
