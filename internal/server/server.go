package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/speakcapture/internal/notify"
	"github.com/audiolibrelab/speakcapture/internal/service"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes a running session over HTTP and a websocket stream
type Server struct {
	service service.Service
	addr    string
	mux     *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Part      string           `json:"part"`
	LastError string           `json:"last_error,omitempty"`
	Session   session.Snapshot `json:"session"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// StreamMessage is one websocket frame sent to clients
type StreamMessage struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Toast    *notify.Toast     `json:"toast,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ClientMessage is a websocket frame sent by clients
type ClientMessage struct {
	Action service.Action `json:"action"`
}

// actionRoutes maps POST endpoints to session actions
var actionRoutes = map[string]service.Action{
	"/record/start":  service.ActionStart,
	"/record/stop":   service.ActionStop,
	"/record/cancel": service.ActionCancel,
	"/submit":        service.ActionSubmit,
	"/retry":         service.ActionRetry,
	"/rerecord":      service.ActionReRecord,
	"/authorize":     service.ActionAuthorize,
	"/play/intro":    service.ActionPlayIntro,
	"/play/question": service.ActionPlayQuestion,
	"/play/answer":   service.ActionToggleAnswer,
}

// New creates a new web server instance
func New(svc service.Service, addr string) *Server {
	s := &Server{service: svc, addr: addr, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/telemetry", s.handleTelemetry)
	s.mux.HandleFunc("/ws", s.handleStream)
	for path, action := range actionRoutes {
		s.mux.HandleFunc(path, s.handleAction(action))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux}

	host, port, _ := net.SplitHostPort(s.addr)
	if host == "" || host == "0.0.0.0" {
		host = getLocalIP()
	}
	slog.Info("Starting speakcapture web server", "addr", s.addr, "url", fmt.Sprintf("http://%s:%s", host, port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// handleIndex lists the available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>speakcapture</title>
</head>
<body>
    <h1>speakcapture</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>GET /status - Session snapshot</li>
        <li>GET /ws - Snapshot and toast stream</li>
        <li>POST /record/start, /record/stop, /record/cancel</li>
        <li>POST /submit, /retry, /rerecord, /authorize</li>
        <li>POST /play/intro, /play/question, /play/answer</li>
        <li>GET /telemetry?limit=N - Recent telemetry</li>
    </ul>
</body>
</html>`

// handleStatus returns the current session snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := StatusResponse{
		Part:      s.service.GetConfig().Part,
		LastError: s.service.GetLastError(),
		Session:   s.service.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleAction forwards a POST to the session. Actions are asynchronous:
// the outcome shows up in /status and on the stream.
func (s *Server) handleAction(action service.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if err := s.service.Do(action); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, session.ErrClosed) {
				status = http.StatusServiceUnavailable
			}
			s.sendErrorResponse(w, status, fmt.Sprintf("Failed to %s: %v", action, err), "action", action)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(GenericResponse{Success: true, Message: string(action) + " accepted"})
	}
}

// handleTelemetry returns the most recent journaled events
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %s", raw))
			return
		}
		limit = n
	}

	events, err := s.service.RecentTelemetry(r.Context(), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read telemetry: %v", err))
		return
	}
	if events == nil {
		events = []notify.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"events":  events,
	})
}

// handleStream pushes snapshots and toasts to a websocket client and
// accepts actions from it
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, stopUpdates := s.service.Updates()
	defer stopUpdates()
	toasts, stopToasts := s.service.Toasts()
	defer stopToasts()

	actions := make(chan service.Action, 8)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("WebSocket read failed", "error", err)
				}
				return
			}
			select {
			case actions <- msg.Action:
			case <-r.Context().Done():
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	slog.Debug("WebSocket client connected", "remote", r.RemoteAddr)
	for {
		var out *StreamMessage
		select {
		case <-closed:
			slog.Debug("WebSocket client disconnected", "remote", r.RemoteAddr)
			return
		case snap := <-updates:
			out = &StreamMessage{Type: "snapshot", Snapshot: &snap}
		case toast := <-toasts:
			out = &StreamMessage{Type: "toast", Toast: &toast}
		case action := <-actions:
			if err := s.service.Do(action); err != nil {
				out = &StreamMessage{Type: "error", Error: err.Error()}
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
		if out == nil {
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(out); err != nil {
			slog.Debug("WebSocket write failed", "error", err)
			return
		}
	}
}

// sendErrorResponse sends a JSON error response and logs the error
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
