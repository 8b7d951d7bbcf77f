package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/code-murf/kisaanai/internal/policy"
	"github.com/code-murf/kisaanai/internal/session"
	"github.com/code-murf/kisaanai/internal/voice"
)

// 499 is the nginx convention for a request the client abandoned; here
// it marks a pipeline run cancelled by barge-in.
const statusClientClosedRequest = 499

const maxUploadBytes = 10 << 20

func (s *Server) handleVoiceQuery(w http.ResponseWriter, r *http.Request) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		s.countOutcome("capacity")
		respondError(w, http.StatusServiceUnavailable, "capacity", "too many concurrent voice requests")
		return
	}

	// Bound the whole request body so an oversized recording is rejected
	// rather than truncated and answered as if valid.
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "audio upload exceeds the size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with an audio file")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_file", "form field file is required")
		return
	}
	defer file.Close()
	audioContent, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "read_failed", "could not read uploaded audio")
		return
	}
	if len(audioContent) == 0 {
		respondError(w, http.StatusBadRequest, "empty_file", "uploaded audio is empty")
		return
	}

	language := strings.TrimSpace(r.FormValue("language"))
	sessionID := strings.TrimSpace(r.FormValue("session_id"))

	// Unknown or missing session ids fall through to a fresh session so
	// a farmer whose session expired mid-conversation is not rejected.
	sess, err := s.sessions.Get(sessionID)
	if sessionID == "" || err != nil {
		sess = s.sessions.Create("")
		s.observeSessionEvent("created")
	}

	requestID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	handle := session.NewHandle(requestID, cancel)
	if !s.sessions.Register(sess.ID, requestID, handle) {
		// Session expired between Get and Register; start over. The
		// request must never run unregistered, so a second failure
		// aborts it instead of losing cancellability.
		sess = s.sessions.Create("")
		s.observeSessionEvent("created")
		if !s.sessions.Register(sess.ID, requestID, handle) {
			s.countOutcome("failure")
			respondError(w, http.StatusInternalServerError, "session_unavailable", "could not register voice request")
			return
		}
	}
	s.updateGauges()

	result, err := s.runner.Run(ctx, voice.Request{
		SessionID:   sess.ID,
		RequestID:   requestID,
		OwnerID:     sess.OwnerID,
		Audio:       audioContent,
		Language:    language,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	})

	switch {
	case err == nil:
		handle.Finish(session.StateCompleted)
		s.updateGauges()
		s.countOutcome("success")
		respondJSON(w, http.StatusOK, result)
	case voice.IsCancelled(err):
		handle.Finish(session.StateCancelled)
		s.updateGauges()
		s.countOutcome("cancelled")
		log.Printf("httpapi: voice request %s cancelled by barge-in", requestID)
		respondError(w, statusClientClosedRequest, "cancelled", "request cancelled due to barge-in")
	case isStageTimeout(err):
		handle.Finish(session.StateFailed)
		s.updateGauges()
		s.countOutcome("timeout")
		respondError(w, http.StatusGatewayTimeout, "stage_timeout", "voice processing timed out")
	default:
		handle.Finish(session.StateFailed)
		s.updateGauges()
		s.countOutcome("failure")
		log.Printf("httpapi: voice request %s failed: %v", requestID, err)
		respondError(w, http.StatusBadGateway, "stage_failed", "voice processing failed")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := decodeJSON(r, &req); err == nil {
			sessionID = strings.TrimSpace(req.SessionID)
		}
	}
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	err := s.sessions.CancelActive(sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondJSON(w, http.StatusOK, cancelResponse{
			Cancelled: false, SessionID: sessionID, Message: "Session not found or expired",
		})
	case errors.Is(err, session.ErrNoActiveRequest):
		respondJSON(w, http.StatusOK, cancelResponse{
			Cancelled: false, SessionID: sessionID, Message: "No active request to cancel",
		})
	case err == nil:
		s.metrics.BargeIns.Inc()
		s.updateGauges()
		respondJSON(w, http.StatusOK, cancelResponse{
			Cancelled: true, SessionID: sessionID, Message: "Request cancelled successfully",
		})
	default:
		respondError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
	}
}

type cancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess := s.sessions.Create(req.UserID)
	s.observeSessionEvent("created")
	s.updateGauges()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		OwnerID:         sess.OwnerID,
		CreatedAt:       sess.CreatedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		respondJSON(w, http.StatusOK, endResponse{
			Ended: false, SessionID: id, Message: "Session not found",
		})
		return
	}

	requester := strings.TrimSpace(r.Header.Get("X-User-ID"))
	decision := policy.DecideSessionEnd(requester, sess.OwnerID)
	if decision.Audit {
		log.Printf("httpapi: user %q ended session %s owned by %q: %s",
			requester, id, sess.OwnerID, decision.Reason)
	}

	if err := s.sessions.End(id); err != nil {
		respondJSON(w, http.StatusOK, endResponse{
			Ended: false, SessionID: id, Message: "Failed to end session",
		})
		return
	}
	s.observeSessionEvent("ended")
	s.updateGauges()
	respondJSON(w, http.StatusOK, endResponse{
		Ended: true, SessionID: id, Message: "Session ended successfully",
	})
}

type endResponse struct {
	Ended     bool   `json:"ended"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type statsResponse struct {
	ActiveSessions int   `json:"active_sessions"`
	ActiveRequests int   `json:"active_requests"`
	SessionTTLMS   int64 `json:"session_ttl_ms"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.statsSnapshot())
}

func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

func (s *Server) statsSnapshot() statsResponse {
	return statsResponse{
		ActiveSessions: s.sessions.ActiveSessionCount(),
		ActiveRequests: s.sessions.ActiveRequestCount(),
		SessionTTLMS:   s.sessions.InactivityTimeout().Milliseconds(),
	}
}

func (s *Server) updateGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveSessionCount()))
	s.metrics.ActiveRequests.Set(float64(s.sessions.ActiveRequestCount()))
}

func (s *Server) observeSessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func (s *Server) countOutcome(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.VoiceRequests.WithLabelValues(outcome).Inc()
}

func isStageTimeout(err error) bool {
	var se *voice.StageError
	return errors.As(err, &se) && se.Timeout
}
