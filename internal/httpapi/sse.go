package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"alerthub/internal/domain"
	"alerthub/internal/metrics"
)

const (
	sseKeepAlive = 15 * time.Second
	sseRetryMS   = 3000
)

// sseWriter writes Server-Sent Events frames and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// sendEvent writes one event frame.
// Format: event: <type>\ndata: <data>\n\n
func (s *sseWriter) sendEvent(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) sendComment(comment string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) sendRetry(milliseconds int) error {
	if _, err := fmt.Fprintf(s.w, "retry: %d\n\n", milliseconds); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type streamEvent struct {
	Kind  domain.EventKind
	Alert domain.AlertRecord
}

// events streams lifecycle transitions to one client.
// A client that cannot keep up loses events instead of stalling the engine.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, h.logger, http.StatusInternalServerError, errCodeInternalError, "streaming unsupported")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		jsonError(w, h.logger, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	buffer := h.opts.SSEBuffer
	if buffer <= 0 {
		buffer = 1
	}
	pending := make(chan streamEvent, buffer)
	unsubscribe := h.engine.Subscribe(func(kind domain.EventKind, alert domain.AlertRecord) {
		if !filter.Match(alert) {
			return
		}
		select {
		case pending <- streamEvent{Kind: kind, Alert: alert}:
		default:
			metrics.SSEDroppedTotal.Inc()
		}
	})
	defer unsubscribe()
	metrics.SSEClients.Inc()
	defer metrics.SSEClients.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseWriter{w: w, flusher: flusher}
	if err := stream.sendRetry(sseRetryMS); err != nil {
		return
	}
	if err := stream.sendComment("connected"); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if err := stream.sendComment("keepalive"); err != nil {
				return
			}
		case event := <-pending:
			data, err := json.Marshal(event.Alert)
			if err != nil {
				h.logger.Warn("event stream encode failed", "alert_id", event.Alert.ID, "error", err.Error())
				continue
			}
			if err := stream.sendEvent(string(event.Kind), data); err != nil {
				h.logger.Debug("event stream client gone", "error", err.Error())
				return
			}
		}
	}
}
