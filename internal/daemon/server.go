package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"subsync/internal/config"
	"subsync/internal/ident"
	"subsync/internal/logging"
	"subsync/internal/pipeline"
	"subsync/internal/subtitle"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logger,
		daemon: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API binds to loopback by default; the extension connects
			// from an arbitrary page origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/api/generate", srv.auth(srv.handleGenerate))
	mux.HandleFunc("/api/status", srv.auth(srv.handleStatus))
	mux.HandleFunc("/api/subtitles", srv.auth(srv.handleSubtitles))
	mux.HandleFunc("/api/subtitles.srt", srv.auth(srv.handleSRT))
	mux.HandleFunc("/api/events", srv.auth(srv.handleEvents))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address required")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// auth validates bearer tokens. An empty configured token disables
// authentication.
func (s *apiServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

type generateRequest struct {
	Media      string `json:"media"`
	Language   string `json:"language,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
}

type generateResponse struct {
	JobID   string `json:"job_id,omitempty"`
	MediaID string `json:"media_id"`
	Cached  bool   `json:"cached"`
	State   string `json:"state"`
}

func (s *apiServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.daemon.generate(r.Context(), req.Media, req.Language, req.TargetLang)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAlreadyInProgress):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ident.ErrInvalidReference):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pipeline.ErrConnectionFailed):
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, generateResponse{
		JobID:   result.JobID,
		MediaID: result.MediaID,
		Cached:  result.Cached,
		State:   string(result.Phase),
	})
}

type statusResponse struct {
	Running          bool   `json:"running"`
	State            string `json:"state"`
	MediaID          string `json:"media_id,omitempty"`
	JobID            string `json:"job_id,omitempty"`
	Progress         int    `json:"progress"`
	Message          string `json:"message,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	Error            string `json:"error,omitempty"`
}

func statusFromSnapshot(running bool, snap pipeline.Snapshot) statusResponse {
	resp := statusResponse{
		Running:          running,
		State:            string(snap.Phase),
		MediaID:          snap.MediaID,
		JobID:            snap.JobID,
		Progress:         snap.Progress,
		Message:          snap.Message,
		DetectedLanguage: snap.DetectedLanguage,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return resp
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status()
	s.writeJSON(w, http.StatusOK, statusFromSnapshot(status.Running, status.Pipeline))
}

type subtitlesResponse struct {
	Count    int                `json:"count"`
	Segments []subtitle.Segment `json:"segments"`
}

func (s *apiServer) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segments := s.daemon.segments.Snapshot()
	s.writeJSON(w, http.StatusOK, subtitlesResponse{Count: len(segments), Segments: segments})
}

func (s *apiServer) handleSRT(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segments := s.daemon.segments.Snapshot()
	if len(segments) == 0 {
		s.writeError(w, http.StatusNotFound, "no subtitles loaded")
		return
	}
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := subtitle.WriteSRT(w, segments); err != nil {
		s.log().Error("srt export failed", logging.Error(err))
	}
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	events := s.daemon.hub.subscribe()
	defer s.daemon.hub.unsubscribe(events)

	// Send the current snapshot first so late subscribers see state
	// immediately.
	status := s.daemon.Status()
	if err := conn.WriteJSON(statusFromSnapshot(status.Running, status.Pipeline)); err != nil {
		return
	}

	// Drain reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(statusFromSnapshot(true, snap)); err != nil {
				return
			}
		}
	}
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
