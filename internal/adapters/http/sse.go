package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// streamEvents pushes live progress messages for one batch as server-sent
// events. Messages for other batches on the shared bus are dropped; a
// keepalive comment frame goes out after each idle interval so proxies do
// not cut the connection.
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if _, err := rt.query.GetByID(r.Context(), batchID); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := rt.bus.Subscribe()
	defer rt.bus.Unsubscribe(sub)

	rt.metrics.SSEClientConnected()
	defer rt.metrics.SSEClientDisconnected()

	for {
		waitCtx, cancel := context.WithTimeout(r.Context(), rt.keepalive)
		payload, err := sub.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			if !messageForBatch(payload, batchID) {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case errors.Is(err, context.DeadlineExceeded):
			if _, err := fmt.Fprint(w, "event: keepalive\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		default:
			// client went away or the bus shut down
			return
		}
	}
}

func messageForBatch(payload []byte, batchID string) bool {
	var envelope struct {
		BatchID string `json:"batchId"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return false
	}
	return envelope.BatchID == batchID
}
