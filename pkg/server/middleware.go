package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/statnett/talk2powersystem/pkg/auth"
	"github.com/statnett/talk2powersystem/pkg/chat"
)

const RequestIDHeader = "X-Request-Id"

// withRequestID echoes the client supplied request id or generates one, and attaches it to the
// request scoped logger.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		logger := log.Logger.With().Str("x_request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

// writeError maps domain errors to their status codes. Anything unrecognised is logged and
// answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if nf, ok := chat.AsNotFound(err); ok {
		writeMessage(w, http.StatusBadRequest, nf.Error())
		return
	}
	if ve, ok := chat.AsValidation(err); ok {
		writeMessage(w, http.StatusBadRequest, ve.Error())
		return
	}
	if ae, ok := auth.AsError(err); ok {
		writeMessage(w, ae.Status, ae.Message)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeMessage(w, http.StatusInternalServerError, "Internal server error.")
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
