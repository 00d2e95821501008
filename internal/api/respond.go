package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"oculith/internal/logging"
	"oculith/internal/services"
	"oculith/internal/tasks"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
