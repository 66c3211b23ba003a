// Package transport serves the event bridge to the shell over a WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"m8flash/internal/bridge"
	"m8flash/internal/logging"
	"m8flash/internal/session"
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 1 << 16
	tokenHeader    = "X-M8flash-Token"
	shutdownPeriod = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Token          string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server exposes the bridge over /ws and the session over /api/status.
type Server struct {
	store          *session.Store
	bridge         *bridge.Bridge
	logger         *slog.Logger
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	upgrader       websocket.Upgrader

	// ctx is the root context handed to dispatched commands; per-connection
	// contexts end with the socket and must not own long-running work.
	ctx context.Context

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewServer constructs a server. ctx outlives every connection and is passed
// to bridge.Dispatch.
func NewServer(ctx context.Context, store *session.Store, b *bridge.Bridge, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		store:          store,
		bridge:         b,
		logger:         logging.NewComponentLogger(logger, "transport"),
		authToken:      strings.TrimSpace(opts.Token),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		ctx:            ctx,
		clients:        make(map[*client]struct{}),
	}
	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("shell transport listening", logging.String("addr", listener.Addr().String()))

	errs := make(chan error, 1)
	go func() { errs <- srv.Serve(listener) }()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownPeriod)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	s.closeClients()
	return nil
}

// ClientCount reports the number of connected shells.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sub := s.bridge.Subscribe()
	c := &client{conn: conn, sub: sub, logger: s.logger}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("shell connected", logging.String("remote", r.RemoteAddr))

	c.initial = s.snapshotFrames(r.Context())
	c.initial = append(c.initial, DrainQueued(sub)...)
	go c.writePump()
	s.readPump(c, r.RemoteAddr)
}

// snapshotFrames returns the device list and current flashing status so a
// fresh shell does not wait for the next change.
func (s *Server) snapshotFrames(ctx context.Context) []bridge.Frame {
	devices, err := s.store.SnapshotDevices(ctx)
	if err != nil {
		return nil
	}
	sess, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil
	}
	frames := []bridge.Frame{{Event: bridge.EventDeviceListUpdated.String(), Payload: devices.Payload}}
	if status, err := bridge.NewEvent(bridge.EventFirmwareFlashingStatus, CurrentStatus(sess)); err == nil {
		frames = append(frames, status.Frame())
	}
	return frames
}

// DrainQueued empties the events already waiting on sub once the snapshot has
// been taken. Device and status events are older than the snapshot and are
// dropped; the rest are returned in order.
func DrainQueued(sub *bridge.Subscription) []bridge.Frame {
	var kept []bridge.Frame
	for n := len(sub.Events()); n > 0; n-- {
		var ev bridge.Event
		select {
		case queued, ok := <-sub.Events():
			if !ok {
				return kept
			}
			ev = queued
		default:
			return kept
		}
		switch ev.Kind {
		case bridge.EventDeviceListUpdated, bridge.EventFirmwareFlashingStatus:
			continue
		}
		kept = append(kept, ev.Frame())
	}
	return kept
}

// CurrentStatus picks the status variant the shell should display: the flash
// once one has started, otherwise the download.
func CurrentStatus(sess session.Session) session.FlashingStatus {
	if sess.UpdateStatus.State != session.UpdateStopped || sess.LastUpdate != nil {
		return session.UpdatingStatus(sess.UpdateStatus)
	}
	return session.DownloadingStatus(sess.DownloadStatus)
}

func (s *Server) readPump(c *client, remote string) {
	defer func() {
		s.removeClient(c)
		s.logger.Info("shell disconnected", logging.String("remote", remote))
	}()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var frame bridge.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("malformed frame",
				logging.Error(err),
				logging.String(logging.FieldEventType, "frame_malformed"),
				logging.String(logging.FieldErrorHint, "frames must be {\"event\": name, \"payload\": value}"),
				logging.String(logging.FieldImpact, "frame ignored"),
			)
			continue
		}
		_ = s.bridge.Dispatch(s.ctx, frame.Event, frame.Payload)
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		s.bridge.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.store.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sess)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get(tokenHeader) == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
