package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ai-hq/server/internal/config"
	"github.com/ai-hq/server/internal/event"
	"github.com/ai-hq/server/internal/metrics"
	"github.com/ai-hq/server/internal/relay"
	"github.com/ai-hq/server/internal/setup"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const statusHelp = "POST events to /event with {type, tool, sessionId, title}"

// maxInboundMessage caps what observers may send us; they only send control
// frames in practice.
const maxInboundMessage = 4096

type submitResponse struct {
	OK      bool `json:"ok"`
	Ignored bool `json:"ignored,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type restartResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// StatusResponse is the diagnostic snapshot served on /status and /debug.
type StatusResponse struct {
	Server           string               `json:"server"`
	ConnectedClients int                  `json:"connectedClients"`
	RecentEvents     []event.HistoryEntry `json:"recentEvents"`
	Help             string               `json:"help"`
	LANAddrs         []string             `json:"lanAddrs,omitempty"`
}

type Server struct {
	config         *config.Config
	relay          *relay.Relay
	registry       *Registry
	static         http.Handler
	limiter        *rate.Limiter
	logger         *slog.Logger
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	lanAddrs       []string
	restart        func()
}

func NewServer(cfg *config.Config, r *relay.Relay, registry *Registry, static http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:         cfg,
		relay:          r,
		registry:       registry,
		static:         static,
		logger:         logger,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	if cfg.Relay.EventRateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Relay.EventRateLimit), cfg.Relay.EventBurst)
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetLANAddrs sets the addresses reported on /status. Must be called before
// serving.
func (s *Server) SetLANAddrs(addrs []string) {
	s.lanAddrs = addrs
}

// SetRestartFunc installs the callback /restart triggers. Without one the
// endpoint reports 503.
func (s *Server) SetRestartFunc(fn func()) {
	s.restart = fn
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Post("/event", s.handleEvent)
	r.Get("/status", s.handleStatus)
	r.Get("/debug", s.handleStatus)
	r.Get("/setup", s.handleSetup)
	r.HandleFunc("/restart", s.handleRestart)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.handleWS)
	r.Get("/*", s.handleRoot)

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.config.Server.CORSOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRoot accepts websocket upgrades on any path, the way browser clients
// connect to ws://host:port/, and serves static assets otherwise.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	if s.static == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.static.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub, err := s.registry.Register(conn)
	if err != nil {
		s.logger.Info("ws client refused", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("ws client connected", "subscriber", sub.ID(), "remote", r.RemoteAddr)

	go s.readLoop(conn, sub, r.RemoteAddr)
}

// readLoop drains inbound frames so pongs and close frames are processed.
// Any read error means the connection is gone.
func (s *Server) readLoop(conn *websocket.Conn, sub *Subscriber, remote string) {
	defer func() {
		s.registry.Unregister(sub)
		s.logger.Info("ws client disconnected", "subscriber", sub.ID(), "remote", remote)
	}()

	pongTimeout := s.config.Relay.PongTimeout
	conn.SetReadLimit(maxInboundMessage)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.ObserveSubmission("", metrics.OutcomeRateLimited)
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Relay.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	outcome, err := s.relay.Submit(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON"})
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{OK: true, Ignored: outcome == relay.Ignored})
}

func (s *Server) Status() StatusResponse {
	return StatusResponse{
		Server:           "running",
		ConnectedClients: s.registry.Count(),
		RecentEvents:     s.relay.RecentHistory(),
		Help:             statusHelp,
		LANAddrs:         s.lanAddrs,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(s.Status())
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		host = fmt.Sprintf("localhost:%d", s.config.Server.Port)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := setup.Render(w, setup.Params{ServerURL: "http://" + host}); err != nil {
		s.logger.Error("render setup instructions", "error", err)
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if !s.config.Server.AllowRestart {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "restart disabled"})
		return
	}
	if s.restart == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "restart not available"})
		return
	}

	s.logger.Info("restart requested", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, restartResponse{OK: true, Message: "Restarting..."})

	restart := s.restart
	time.AfterFunc(100*time.Millisecond, restart)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Host == r.Host || s.allowedHosts[parsed.Host]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewHTTPServer wraps handler with the timeouts the relay listens with. Write
// timeouts are left unset because websocket connections are long-lived.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
