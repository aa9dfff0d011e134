package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/statnett/talk2powersystem/pkg/health"
)

type conversationRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId,omitempty"`
}

type explainRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("invalid request body")
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return false
	}
	return true
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req conversationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// any non-empty id is looked up as given; only an absent or empty id starts a conversation
	resp, err := s.opts.Service.HandleConversation(r.Context(), req.Question, req.ConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req explainRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationID == "" || req.MessageID == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	resp, err := s.opts.Service.HandleExplain(r.Context(), req.ConversationID, req.MessageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Health.Health(r.Context(), s.troubleURL(r)))
}

func (s *Server) handleGTG(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	info := s.opts.GTG.Get()
	if r.URL.Query().Get("cache") == "false" {
		info = s.opts.GTG.Refresh(r.Context())
	}
	status := http.StatusOK
	if info.GTG == health.GoodToGoUnavailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, info)
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.opts.About)
}

func (s *Server) handleTrouble(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.opts.TroubleHTML)
}

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.opts.AuthConfig)
}

// troubleURL is the absolute location of the troubleshooting page as seen by the caller.
func (s *Server) troubleURL(r *http.Request) string {
	if r.Host == "" {
		return ""
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + r.Host + s.root + "__trouble"
}
