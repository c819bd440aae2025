package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stupify/internal/util"
	"stupify/pkg/domain"
	"stupify/services/api/internal/app"
)

type chatRequest struct {
	Question  string               `json:"question" validate:"notblank,max=2000"`
	Level     string               `json:"level" validate:"omitempty,oneof=5yo normal advanced"`
	History   []domain.ChatMessage `json:"history" validate:"max=20,dive"`
	SessionID string               `json:"sessionId" validate:"max=128"`
}

// sseWriter writes Server-Sent Events frames and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleChat answers a question as an SSE stream of start, delta and done
// events. Everything that can reject the question is checked before the
// stream opens, so those failures are plain JSON errors.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req chatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.allowRate(w, r, s.chatLimiter, "chat", id.UserID, "too many questions, slow down") {
		return
	}
	plan, err := s.app.PrepareAsk(r.Context(), app.AskRequest{
		UserID:    id.UserID,
		Email:     id.Email,
		Question:  req.Question,
		Level:     domain.SimplicityLevel(req.Level),
		History:   req.History,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	// Answers can outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	stream, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	logger := util.LoggerFromContext(r.Context())
	if err := stream.send("start", plan); err != nil {
		return
	}
	result, err := s.app.Answer(r.Context(), plan, func(delta string) error {
		return stream.send("delta", map[string]string{"content": delta})
	})
	if err != nil {
		if r.Context().Err() != nil {
			logger.Info("chat stream canceled by client")
			return
		}
		logger.Warn("chat stream failed", "err", err)
		_ = stream.send("error", map[string]string{"error": "AI provider unavailable, please try again"})
		return
	}
	_ = stream.send("done", result)
}
