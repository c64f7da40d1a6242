package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// sseFrame is the JSON payload of one SSE data line.
type sseFrame struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// handleQueryStream is the streaming query path. Each chunk becomes a
// `data: <JSON>` frame; a final `data: [DONE]` marks normal completion. The
// SSE headers are written lazily with the first frame so a timeout with no
// output can still surface as HTTP 504.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.orchestratorTimeout())
	defer cancel()

	chunks, sessionID := s.orch.Stream(ctx, req.Query, req.SessionID)

	headersSent := false
	sendFrame := func(frame sseFrame) {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			// Proxies must not buffer the stream.
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	for {
		select {
		case chunk, open := <-chunks:
			if !open {
				// Normal completion: [DONE] is the last frame.
				if !headersSent {
					sendFrame(sseFrame{Text: "", SessionID: sessionID})
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				sendFrame(sseFrame{SessionID: sessionID, Error: chunk.Err.Error()})
				return
			}
			sendFrame(sseFrame{Text: chunk.Text, SessionID: sessionID})

		case <-ctx.Done():
			if r.Context().Err() != nil {
				// Client disconnect; tear down silently.
				slog.Debug("Stream cancelled by client", "session", sessionID)
				return
			}
			if !headersSent {
				writeError(w, http.StatusGatewayTimeout, "stream timed out before any output")
				return
			}
			sendFrame(sseFrame{SessionID: sessionID, Error: "timeout"})
			return
		}
	}
}
