package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nn-dashboard/trainwatch/internal/config"
	"github.com/nn-dashboard/trainwatch/internal/metrics"
	"github.com/nn-dashboard/trainwatch/internal/stream"
)

const (
	keepaliveInterval = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

type Server struct {
	config    *config.Config
	gen       *Generator
	authToken string
	router    *mux.Router
}

func NewServer(cfg *config.Config, gen *Generator, authToken string) *Server {
	s := &Server{
		config:    cfg,
		gen:       gen,
		authToken: authToken,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	path := s.config.Monitor.Path

	s.router.HandleFunc("/api/trainings", s.handleCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/trainings", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/api/trainings/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc(path, s.handleSSE).Methods(http.MethodGet)
	s.router.HandleFunc(strings.TrimRight(path, "/")+"/ws", s.handleWS).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
}

func (s *Server) info(run *Run) Info {
	i := run.Info()
	i.StreamURL = s.config.Monitor.Path + "?training_id=" + url.QueryEscape(run.ID)
	return i
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var p RunParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	run, err := s.gen.Create(p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, s.info(run))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	runs := s.gen.List()
	out := make([]Info, 0, len(runs))
	for _, run := range runs {
		out = append(out, s.info(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	run, ok := s.gen.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "training not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.info(run))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Run, bool) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	id := r.URL.Query().Get("training_id")
	if id == "" {
		http.Error(w, "training_id is required", http.StatusBadRequest)
		return nil, false
	}
	run, ok := s.gen.Get(id)
	if !ok {
		http.Error(w, "training not found", http.StatusNotFound)
		return nil, false
	}
	return run, true
}

func writeSSE(w io.Writer, f Frame) error {
	var b strings.Builder
	if f.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", f.ID)
	}
	fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", f.Event, f.Data)
	_, err := io.WriteString(w, b.String())
	return err
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, replay := run.Subscribe()
	defer run.Unsubscribe(sub)
	start := time.Now()
	defer func() {
		metrics.StreamDuration.WithLabelValues("sse").Observe(time.Since(start).Seconds())
	}()
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		log.Printf("SSE client reconnected to %s after event %s: %s", run.ID, last, r.RemoteAddr)
	} else {
		log.Printf("SSE client connected to %s: %s", run.ID, r.RemoteAddr)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, "retry: 1000\n\n"); err != nil {
		return
	}
	for _, f := range replay {
		if err := writeSSE(w, f); err != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("SSE client disconnected from %s: %s", run.ID, r.RemoteAddr)
			return
		case f, ok := <-sub.send:
			if !ok {
				return
			}
			if err := writeSSE(w, f); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub, replay := run.Subscribe()
	defer run.Unsubscribe(sub)
	start := time.Now()
	defer func() {
		metrics.StreamDuration.WithLabelValues("ws").Observe(time.Since(start).Seconds())
	}()
	log.Printf("WebSocket client connected to %s: %s", run.ID, r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(f Frame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(stream.Envelope{Event: f.Event, ID: f.ID, Data: f.Data})
	}
	for _, f := range replay {
		if err := write(f); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			log.Printf("WebSocket client disconnected from %s: %s", run.ID, r.RemoteAddr)
			return
		case f, ok := <-sub.send:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := write(f); err != nil {
				return
			}
		}
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

// checkOrigin accepts same-host and loopback origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
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

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.config.ListenAddr(),
		Handler:     s.router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("Mock training server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
