// Package status serves a read-mostly HTTP view of a session: health, the
// current state snapshot, notifications (also as an SSE stream), gated
// operation submission and profile registration.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ballotwatch/internal/coordinator"
	"ballotwatch/internal/election"
	"ballotwatch/internal/gate"
	"ballotwatch/internal/models"
	"ballotwatch/internal/registry"
	"ballotwatch/internal/txn"
)

// Source is the session the server reports on.
type Source interface {
	View() coordinator.View
	Notifications() []election.Notification
	Submit(ctx context.Context, req gate.Request) (txn.Record, error)
}

// Registrar stores voter profiles.
type Registrar interface {
	Register(ctx context.Context, p registry.Profile) (models.VoterProfile, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	source    Source
	registrar Registrar
	hub       *Hub
	log       zerolog.Logger
}

// NewServer creates a server. registrar may be nil, which disables
// /v1/register.
func NewServer(source Source, registrar Registrar, hub *Hub, log zerolog.Logger) *Server {
	return &Server{
		source:    source,
		registrar: registrar,
		hub:       hub,
		log:       log.With().Str("component", "status").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		// The stream is long-lived and stays outside the timeout group.
		r.Get("/notifications/stream", s.streamNotifications)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/state", s.state)
			r.Get("/notifications", s.listNotifications)
			r.Post("/operations/{kind}", s.submit)
			r.Post("/register", s.register)
		})
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	v := s.source.View()
	subscribed := 0
	for _, ok := range v.Subscribed {
		if ok {
			subscribed++
		}
	}
	status := http.StatusOK
	if subscribed < len(election.AllEventKinds) {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]interface{}{
		"subscriptions": subscribed,
		"expected":      len(election.AllEventKinds),
		"clients":       s.hub.Count(),
	})
}

type sessionResponse struct {
	ID             *uint64    `json:"id,omitempty"`
	Active         *bool      `json:"active,omitempty"`
	Parties        []string   `json:"parties,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	ViewerHasVoted *bool      `json:"viewer_has_voted,omitempty"`
	Stale          []string   `json:"stale,omitempty"`
}

type recordResponse struct {
	ID          string    `json:"id,omitempty"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Handle      string    `json:"handle,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type stateResponse struct {
	Viewer     string                    `json:"viewer,omitempty"`
	Connected  bool                      `json:"connected"`
	Role       string                    `json:"role"`
	Session    sessionResponse           `json:"session"`
	Results    *election.ResultsSnapshot `json:"results,omitempty"`
	Operations []recordResponse          `json:"operations"`
	Allowed    map[string]bool           `json:"allowed"`
	Subscribed map[string]bool           `json:"subscribed"`
}

func toRecordResponse(r txn.Record) recordResponse {
	out := recordResponse{
		Kind:        r.Kind.String(),
		State:       r.State.String(),
		Handle:      string(r.Handle),
		SubmittedAt: r.SubmittedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.State != txn.Idle {
		out.ID = r.ID.String()
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func toStateResponse(v coordinator.View) stateResponse {
	out := stateResponse{
		Viewer:     v.Viewer.Address,
		Connected:  v.Viewer.Connected,
		Role:       v.Role.String(),
		Allowed:    make(map[string]bool, len(v.Allowed)),
		Subscribed: make(map[string]bool, len(v.Subscribed)),
	}
	st := v.Session
	if st.SessionKnown {
		id := st.SessionID
		out.Session.ID = &id
	}
	if st.ActiveKnown {
		active := st.Active
		out.Session.Active = &active
	}
	if st.Active {
		out.Session.Parties = st.Parties
		if st.EndTimeKnown {
			end := st.EndTime
			out.Session.EndTime = &end
		}
		if st.HasVotedKnown {
			voted := st.ViewerHasVoted
			out.Session.ViewerHasVoted = &voted
		}
	}
	for _, f := range st.Stale {
		out.Session.Stale = append(out.Session.Stale, f.String())
	}
	if !v.Results.Empty() || v.Results.Partial {
		res := v.Results
		out.Results = &res
	}
	for _, r := range v.Records {
		out.Operations = append(out.Operations, toRecordResponse(r))
	}
	for k, ok := range v.Allowed {
		out.Allowed[k.String()] = ok
	}
	for k, ok := range v.Subscribed {
		out.Subscribed[k.String()] = ok
	}
	return out
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, toStateResponse(s.source.View()))
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	notes := s.source.Notifications()
	if notes == nil {
		notes = []election.Notification{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": notes})
}

func (s *Server) streamNotifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	c := s.hub.register()
	defer s.hub.unregister(c.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case n, ok := <-c.ch:
			if !ok {
				return
			}
			payload, _ := json.Marshal(n)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Kind, payload)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

type operationRequest struct {
	Target          string   `json:"target,omitempty"`
	Parties         []string `json:"parties,omitempty"`
	DurationSeconds int64    `json:"duration_seconds,omitempty"`
	Party           string   `json:"party,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	kind, ok := election.ParseOperationKind(strings.ToLower(chi.URLParam(r, "kind")))
	if !ok {
		respondError(w, http.StatusNotFound, "UNKNOWN_OPERATION", "unknown operation "+chi.URLParam(r, "kind"))
		return
	}
	var body operationRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
	}
	req := gate.Request{
		Kind:     kind,
		Target:   body.Target,
		Parties:  body.Parties,
		Duration: time.Duration(body.DurationSeconds) * time.Second,
		Party:    body.Party,
	}

	rec, err := s.source.Submit(r.Context(), req)
	var verr *election.ValidationError
	var serr *election.SubmissionError
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, toRecordResponse(rec))
	case errors.As(err, &verr):
		respondError(w, http.StatusUnprocessableEntity, "PRECONDITION_FAILED", verr.Precondition)
	case errors.Is(err, txn.ErrInFlight):
		respondError(w, http.StatusConflict, "IN_FLIGHT", err.Error())
	case errors.As(err, &serr):
		respondError(w, http.StatusBadGateway, "SUBMISSION_FAILED", err.Error())
	default:
		s.log.Error().Err(err).Stringer("kind", kind).Msg("submit failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil {
		respondError(w, http.StatusNotImplemented, "NO_REGISTRY", "profile registry requires DATABASE_URL")
		return
	}
	var p registry.Profile
	if err := decodeBody(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	row, err := s.registrar.Register(r.Context(), p)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "id": row.ID})
	case errors.Is(err, registry.ErrDuplicate):
		respondError(w, http.StatusConflict, "DUPLICATE", err.Error())
	case isValidation(err):
		respondError(w, http.StatusBadRequest, "INVALID_PROFILE", err.Error())
	default:
		s.log.Error().Err(err).Msg("register profile failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not store profile")
	}
}

func isValidation(err error) bool {
	for _, target := range []error{
		registry.ErrMissingName, registry.ErrMissingTaxID, registry.ErrBadTaxID,
		registry.ErrBadEmail, registry.ErrBadChain, registry.ErrMissingAddress,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ListenAndServe serves the router on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server started")
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.hub.Stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctxShutdown)
}
