package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go-attendance-agent/capture"
	"go-attendance-agent/config"
	"go-attendance-agent/device"
	"go-attendance-agent/events"
	"go-attendance-agent/images"
	"go-attendance-agent/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE_REQUEST = "failed to decode request body"
const ERR_UNKNOWN_PURPOSE = "unknown purpose"
const ERR_MISSING_SUBJECT = "missing subject"
const ERR_SESSION_NOT_FOUND = "session not found"
const ERR_ATTEMPT_IN_FLIGHT = "attempt already in progress"
const ERR_SUBJECT_LOCKED = "subject temporarily locked out"
const ERR_LOCKOUT_CHECK = "failed to check attempt count"

// ServerState holds the collaborators the control API hands to each
// capture session it creates.
type ServerState struct {
	camera    device.Camera
	locator   device.Locator
	prober    device.Prober
	submitter capture.Submitter
	attempts  storage.AttemptStore
	publisher events.Publisher
	clock     capture.Clock
	profiles  func(capture.Purpose) capture.Profile
	registry  *Registry
}

// StateOptions configures a ServerState. Camera, Locator, Prober,
// Submitter and Attempts are required; the rest default sensibly.
type StateOptions struct {
	Camera     device.Camera
	Locator    device.Locator
	Prober     device.Prober
	Submitter  capture.Submitter
	Attempts   storage.AttemptStore
	Publisher  events.Publisher
	Clock      capture.Clock
	Profiles   func(capture.Purpose) capture.Profile
	SessionTTL time.Duration
}

func NewServerState(opts StateOptions) *ServerState {
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = capture.RealClock()
	}
	if opts.Profiles == nil {
		opts.Profiles = capture.ProfileFor
	}
	return &ServerState{
		camera:    opts.Camera,
		locator:   opts.Locator,
		prober:    opts.Prober,
		submitter: opts.Submitter,
		attempts:  opts.Attempts,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		profiles:  opts.Profiles,
		registry:  NewRegistry(opts.SessionTTL),
	}
}

// Registry exposes the session registry so the owner can run its cleanup
// loop and shut it down.
func (s *ServerState) Registry() *Registry {
	return s.registry
}

type Server struct {
	server *http.Server
	config config.ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, cfg config.ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", cfg.Host, "port", cfg.Port, "tls", cfg.UseTls)
	router := NewRouter(state)

	addr := fmt.Sprintf("%v:%v", cfg.Host, cfg.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: cfg,
	}, nil
}

// NewRouter builds the control API routes. Split out so tests can serve
// the handlers through httptest.
func NewRouter(state *ServerState) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleCreateSession(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleAbandonSession(state, w, r)
	}).Methods(http.MethodDelete)
	router.HandleFunc("/api/sessions/{id}/attempt", func(w http.ResponseWriter, r *http.Request) {
		handleRunAttempt(state, w, r)
	}).Methods(http.MethodPost)

	slog.Debug("Registered all API routes")
	return router
}

type CreateSessionRequest struct {
	Purpose string `json:"purpose"`
	Subject string `json:"subject"`
}

type CreateSessionResponse struct {
	SessionId   string `json:"session_id"`
	Purpose     string `json:"purpose"`
	Subject     string `json:"subject"`
	MaxAttempts int    `json:"max_attempts"`
}

func handleCreateSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	slog.Info("Received request to create capture session")

	var request CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_REQUEST, err)
		return
	}

	purpose, ok := capture.ParsePurpose(request.Purpose)
	if !ok {
		respondWithErr(w, http.StatusBadRequest, ERR_UNKNOWN_PURPOSE, ERR_UNKNOWN_PURPOSE, fmt.Errorf("purpose %q", request.Purpose))
		return
	}
	if request.Subject == "" {
		respondWithErr(w, http.StatusBadRequest, ERR_MISSING_SUBJECT, ERR_MISSING_SUBJECT, nil)
		return
	}

	profile := state.profiles(purpose)

	// a subject that burned through its attempts recently stays locked
	// until the window expires, even across new sessions
	count, err := state.attempts.Count(r.Context(), request.Subject)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_LOCKOUT_CHECK, err)
		return
	}
	if count >= profile.MaxAttempts {
		respondWithErr(w, http.StatusLocked, ERR_SUBJECT_LOCKED, ERR_SUBJECT_LOCKED, fmt.Errorf("subject %s has %d recent failed attempts", request.Subject, count))
		return
	}

	sessionId := uuid.NewString()
	session := capture.NewSession(capture.Config{
		Purpose: purpose,
		Subject: request.Subject,
		Profile: profile,
	}, capture.Deps{
		Clock:     state.clock,
		Camera:    state.camera,
		Locator:   state.locator,
		Prober:    state.prober,
		Submitter: state.submitter,
		Encoder:   images.NewEncoder(),
	})
	state.registry.Add(sessionId, purpose, request.Subject, session)

	response := CreateSessionResponse{
		SessionId:   sessionId,
		Purpose:     purpose.String(),
		Subject:     request.Subject,
		MaxAttempts: profile.MaxAttempts,
	}

	if err := writeJSON(w, http.StatusCreated, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Capture session created", "session_id", sessionId, "purpose", purpose.String(), "subject", request.Subject)
}

func handleGetSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	sessionId := mux.Vars(r)["id"]
	entry, ok := state.registry.Get(sessionId)
	if !ok {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_NOT_FOUND, ERR_SESSION_NOT_FOUND, fmt.Errorf("session %s", sessionId))
		return
	}

	if err := writeJSON(w, http.StatusOK, entry.session.Snapshot()); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleAbandonSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	sessionId := mux.Vars(r)["id"]
	entry, ok := state.registry.Remove(sessionId)
	if !ok {
		if _, exists := state.registry.Get(sessionId); exists {
			respondWithErr(w, http.StatusConflict, ERR_ATTEMPT_IN_FLIGHT, ERR_ATTEMPT_IN_FLIGHT, fmt.Errorf("session %s", sessionId))
			return
		}
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_NOT_FOUND, ERR_SESSION_NOT_FOUND, fmt.Errorf("session %s", sessionId))
		return
	}

	entry.session.Close()
	slog.Info("Capture session abandoned", "session_id", sessionId, "subject", entry.subject)
	w.WriteHeader(http.StatusNoContent)
}

type RunAttemptResponse struct {
	SessionId string `json:"session_id"`
	Started   bool   `json:"started"`
}

func handleRunAttempt(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	sessionId := mux.Vars(r)["id"]
	entry, ok := state.registry.Get(sessionId)
	if !ok {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_NOT_FOUND, ERR_SESSION_NOT_FOUND, fmt.Errorf("session %s", sessionId))
		return
	}

	if entry.session.State().Terminal() {
		respondWithErr(w, http.StatusConflict, "session complete", "attempt on completed session", capture.ErrSessionComplete)
		return
	}

	if !state.registry.StartAttempt(sessionId) {
		respondWithErr(w, http.StatusConflict, ERR_ATTEMPT_IN_FLIGHT, ERR_ATTEMPT_IN_FLIGHT, fmt.Errorf("session %s", sessionId))
		return
	}

	slog.Info("Starting capture attempt", "session_id", sessionId, "subject", entry.subject)

	// the attempt outlives the HTTP exchange; the caller polls the
	// session resource for progress
	go func() {
		defer state.registry.FinishAttempt(sessionId)
		result, err := entry.session.Attempt(context.Background())
		state.finishAttempt(entry, result, err)
	}()

	if err := writeJSON(w, http.StatusAccepted, RunAttemptResponse{SessionId: sessionId, Started: true}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// finishAttempt settles the lockout ledger and publishes terminal
// outcomes. Device and permission failures return a non-nil error from
// Attempt and never count against the subject.
func (state *ServerState) finishAttempt(entry *sessionEntry, result capture.State, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err != nil {
		if !errors.Is(err, capture.ErrSessionComplete) {
			slog.Warn("Capture attempt ended without consuming a slot",
				"session_id", entry.id, "error", err)
		}
		return
	}

	switch result {
	case capture.StateSucceeded:
		if clearErr := state.attempts.Clear(ctx, entry.subject); clearErr != nil {
			slog.Error("Failed to clear attempt count", "subject", entry.subject, "error", clearErr)
		}
		state.publishOutcome(ctx, entry, "succeeded")
	case capture.StateFailedTerminal:
		if _, incErr := state.attempts.Increment(ctx, entry.subject); incErr != nil {
			slog.Error("Failed to record failed attempt", "subject", entry.subject, "error", incErr)
		}
		state.publishOutcome(ctx, entry, "failed_terminal")
	case capture.StateFailedRetryable:
		if _, incErr := state.attempts.Increment(ctx, entry.subject); incErr != nil {
			slog.Error("Failed to record failed attempt", "subject", entry.subject, "error", incErr)
		}
	}
}

func (state *ServerState) publishOutcome(ctx context.Context, entry *sessionEntry, outcome string) {
	snapshot := entry.session.Snapshot()
	event := events.SessionEvent{
		SessionID:  entry.id,
		Purpose:    entry.purpose.String(),
		Subject:    entry.subject,
		Outcome:    outcome,
		Attempts:   snapshot.Attempt,
		Location:   entry.session.Location(),
		OccurredAt: time.Now().UTC(),
	}
	if err := state.publisher.Publish(ctx, event); err != nil {
		slog.Error("Failed to publish session event", "session_id", entry.id, "error", err)
	}
}

// helpers ------------

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}
