package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"oculith/internal/logging"
	"oculith/internal/services"
)

// handleStream serves a file's status changes as server-sent events.
// The stream begins with the current status and ends when the file
// reaches a terminal status or the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	record, err := s.store.Get(r.Context(), fileID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, services.Wrap(services.ErrConfiguration, "api", "stream", "response writer does not support streaming", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.publisher.Subscribe(fileID, record.Status)
	defer s.publisher.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("encoding stream event", logging.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
