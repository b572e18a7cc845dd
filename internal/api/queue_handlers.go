package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// enqueueRequest is the JSON body for POST /api/v1/queue/{queueType}.
type enqueueRequest struct {
	Priority int             `json:"priority"`
	Payload  json.RawMessage `json:"payload"`
}

type enqueueResponse struct {
	ID string `json:"id"`
}

// HandleQueueEnqueue submits a new queue document for queueType.
func (s *Server) HandleQueueEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.QueueEngine == nil {
		errorJSON(w, "queue engine not configured", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	queueType := chi.URLParam(r, "queueType")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, "failed to read request body", ErrorTypeValidation, http.StatusBadRequest)
		return
	}

	var req enqueueRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			errorJSON(w, "invalid JSON body", ErrorTypeValidation, http.StatusBadRequest)
			return
		}
	}

	id, err := s.QueueEngine.Enqueue(r.Context(), queueType, req.Priority, req.Payload)
	if err != nil {
		internalError(w, "enqueue failed", err)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{ID: id.String()})
}
