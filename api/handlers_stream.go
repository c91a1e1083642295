package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// sseWriteTimeout bounds each frame written to a change stream.
const sseWriteTimeout = 10 * time.Second

// changeFrame is the data of a "value" event.
type changeFrame struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// handleStreamChanges streams the preference's values as Server-Sent Events.
// The first event carries the current value; later events follow each change.
func (s *Server) handleStreamChanges(w http.ResponseWriter, r *http.Request) {
	def, ok := s.definition(w, r)
	if !ok {
		return
	}
	pref, err := s.store.Preference(def.Key)
	if err != nil {
		s.respondWithStoreError(w, r, "Failed to open change stream", err)
		return
	}
	stream, err := pref.Changes(r.Context())
	if err != nil {
		s.respondWithStoreError(w, r, "Failed to open change stream", err)
		return
	}
	defer stream.Close()

	streamID := uuid.NewString()
	logger := s.logger
	logger.Info("Change stream opened", "key", def.Key, "stream_id", streamID)
	defer logger.Info("Change stream closed", "key", def.Key, "stream_id", streamID)

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeFrame := func(event string, id uint64, data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				logger.Debug("SSE write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		var err error
		switch {
		case event == "":
			_, err = fmt.Fprint(w, ": ping\n\n")
		case id > 0:
			_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
		default:
			_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		}
		if err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Stream-Id", streamID)
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case v, ok := <-stream.C():
			if !ok {
				if err := stream.Err(); err != nil {
					logger.Warn("Change stream failed", "key", def.Key, "stream_id", streamID, "error", err)
					data, _ := json.Marshal(errorBody{Error: errorDetail{Message: "Change stream failed", Details: err.Error()}})
					_ = writeFrame("error", 0, data)
				}
				return
			}
			data, err := json.Marshal(changeFrame{Key: def.Key, Value: v.Interface()})
			if err != nil {
				logger.Error("Failed to marshal change frame", "key", def.Key, "error", err)
				continue
			}
			sent++
			if err := writeFrame("value", sent, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeFrame("", 0, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
