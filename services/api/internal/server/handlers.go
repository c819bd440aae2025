package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"stupify/pkg/billing"
	"stupify/pkg/companion"
	"stupify/pkg/domain"
	"stupify/services/api/internal/app"
)

type updateMeRequest struct {
	Level string `json:"level" validate:"required,oneof=5yo normal advanced"`
}

type createCompanionRequest struct {
	Name      string `json:"name" validate:"max=32"`
	Archetype string `json:"archetype" validate:"required"`
}

type updateCompanionRequest struct {
	Name      string `json:"name" validate:"max=32"`
	Archetype string `json:"archetype"`
}

type interactRequest struct {
	Action string `json:"action" validate:"required"`
}

type triggerRequest struct {
	Event     string `json:"event" validate:"required"`
	SessionID string `json:"sessionId" validate:"max=128"`
	Milestone string `json:"milestone" validate:"max=200"`
}

type shareRequest struct {
	Question string `json:"question" validate:"notblank,max=2000"`
	Answer   string `json:"answer" validate:"notblank,max=20000"`
	Level    string `json:"level" validate:"required,oneof=5yo normal advanced"`
}

type checkoutRequest struct {
	Tier string `json:"tier" validate:"required,oneof=starter premium"`
}

// account

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	view, err := s.app.Me(r.Context(), id.UserID, id.Email)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req updateMeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := s.app.UpdatePreferences(r.Context(), id.UserID, id.Email, domain.SimplicityLevel(req.Level))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	dash, err := s.app.Dashboard(r.Context(), id.UserID, id.Email)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := s.app.DeleteAccount(r.Context(), id.UserID); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.account.delete", "success", "user_id", id.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// gamification

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Stats(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Streak(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	views, err := s.app.Achievements(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": views})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	result, err := s.app.CheckIn(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// companion

func (s *Server) handleGetCompanion(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Companion(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreateCompanion(w http.ResponseWriter, r *http.Request) {
	var req createCompanionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := s.app.CreateCompanion(r.Context(), identity(r).UserID, req.Name, req.Archetype)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleUpdateCompanion(w http.ResponseWriter, r *http.Request) {
	var req updateCompanionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := s.app.UpdateCompanion(r.Context(), identity(r).UserID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Archetype))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePersonalities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personalities": companion.Personalities()})
}

func (s *Server) handleInteractCompanion(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := s.app.InteractCompanion(r.Context(), identity(r).UserID, req.Action)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req triggerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.allowRate(w, r, s.triggerLimiter, "trigger", id.UserID, "too many companion triggers") {
		return
	}
	result, err := s.app.EvaluateTrigger(r.Context(), id.UserID, req.SessionID, req.Event, req.Milestone)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.app.ListMessages(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleNextMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.app.NextMessage(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (s *Server) handleAckMessage(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.app.AckMessage(r.Context(), identity(r).UserID, chi.URLParam(r, "id"), action); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// knowledge

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	topics, err := s.app.Knowledge(r.Context(), identity(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (s *Server) handleSearchKnowledge(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	topics, err := s.app.SearchKnowledge(r.Context(), identity(r).UserID, q)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// sharing

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req shareRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.allowRate(w, r, s.shareLimiter, "share", id.UserID, "too many shares") {
		return
	}
	result, err := s.app.CreateShare(r.Context(), app.ShareRequest{
		UserID:   id.UserID,
		Question: req.Question,
		Answer:   req.Answer,
		Level:    domain.SimplicityLevel(req.Level),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleViewShare(w http.ResponseWriter, r *http.Request) {
	share, err := s.app.ViewShare(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, share)
}

// voice

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if !s.allowRate(w, r, s.transcribeLimiter, "transcribe", id.UserID, "too many transcriptions") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxAudioBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()
	if header.Size > s.maxAudioBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "audio file too large")
		return
	}
	text, err := s.app.Transcribe(r.Context(), id.UserID, header.Filename, file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// billing

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req checkoutRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	url, err := s.app.Checkout(r.Context(), id.UserID, id.Email, domain.Tier(req.Tier))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	url, err := s.app.Portal(r.Context(), id.UserID, id.Email)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	err = s.app.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, billing.ErrInvalidSignature) {
		s.audit(r, "api.stripe.webhook", "fail", "reason", "invalid_signature")
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
