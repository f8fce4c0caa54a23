package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"alerthub/internal/domain"
	"alerthub/internal/engine"
	"alerthub/internal/ingest"
	"alerthub/internal/metrics"
	"alerthub/internal/permanent"

	"github.com/go-chi/chi/v5"
)

const transportHTTP = "http"

type submitResponse struct {
	IDs []string `json:"ids"`
}

type acknowledgeRequest struct {
	By string `json:"by"`
}

type dismissRequest struct {
	Reason string `json:"reason"`
}

type transitionResponse struct {
	ID           string `json:"id"`
	Acknowledged bool   `json:"acknowledged,omitempty"`
	Dismissed    bool   `json:"dismissed,omitempty"`
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		metrics.IngestMessagesTotal.WithLabelValues(transportHTTP, "rejected").Inc()
		return
	}
	ids, err := ingest.SubmitPayload(r.Context(), h.engine, body)
	switch {
	case err == nil:
		metrics.IngestMessagesTotal.WithLabelValues(transportHTTP, "ok").Inc()
		jsonData(w, h.logger, http.StatusAccepted, submitResponse{IDs: ids})
	case permanent.Is(err):
		metrics.IngestMessagesTotal.WithLabelValues(transportHTTP, "rejected").Inc()
		jsonError(w, h.logger, http.StatusBadRequest, errCodeBadRequest, err.Error())
	default:
		metrics.IngestMessagesTotal.WithLabelValues(transportHTTP, "retry").Inc()
		h.unavailable(w, err)
	}
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		jsonError(w, h.logger, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	alerts, err := h.engine.List(r.Context(), filter)
	if err != nil {
		h.unavailable(w, err)
		return
	}
	jsonData(w, h.logger, http.StatusOK, nonNil(alerts))
}

func (h *handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := h.engine.Acknowledge(r.Context(), id, strings.TrimSpace(req.By))
	if err != nil {
		h.unavailable(w, err)
		return
	}
	if !ok {
		jsonError(w, h.logger, http.StatusConflict, errCodeConflict, "alert is not active or already acknowledged")
		return
	}
	jsonData(w, h.logger, http.StatusOK, transitionResponse{ID: id, Acknowledged: true})
}

func (h *handler) dismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := h.engine.Dismiss(r.Context(), id, req.Reason)
	if err != nil {
		h.unavailable(w, err)
		return
	}
	if !ok {
		jsonError(w, h.logger, http.StatusNotFound, errCodeNotFound, "alert is not active")
		return
	}
	jsonData(w, h.logger, http.StatusOK, transitionResponse{ID: id, Dismissed: true})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		jsonError(w, h.logger, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			jsonError(w, h.logger, http.StatusBadRequest, errCodeValidationFailed, "limit must be a non-negative integer")
			return
		}
	}
	entries, err := h.engine.History(r.Context(), limit, filter)
	if err != nil {
		h.unavailable(w, err)
		return
	}
	jsonData(w, h.logger, http.StatusOK, nonNil(entries))
}

func (h *handler) statistics(w http.ResponseWriter, r *http.Request) {
	window := 0.0
	if raw := strings.TrimSpace(r.URL.Query().Get("window_hours")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			jsonError(w, h.logger, http.StatusBadRequest, errCodeValidationFailed, "window_hours must be a non-negative number")
			return
		}
		window = parsed
	}
	stats, err := h.engine.Statistics(r.Context(), window)
	if err != nil {
		h.unavailable(w, err)
		return
	}
	jsonData(w, h.logger, http.StatusOK, stats)
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = engine.FormatJSON
	}
	contentType := "application/json"
	switch format {
	case engine.FormatJSON:
	case engine.FormatText:
		contentType = "text/plain; charset=utf-8"
	default:
		jsonError(w, h.logger, http.StatusBadRequest, errCodeValidationFailed, fmt.Sprintf("unsupported export format %q", format))
		return
	}
	body, err := h.engine.Export(r.Context(), format)
	if err != nil {
		h.unavailable(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "alerthub-export."+format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// readBody reads a size-limited request body and writes the error response itself.
func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		jsonError(w, h.logger, http.StatusRequestEntityTooLarge, errCodeTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
		return nil, false
	}
	jsonError(w, h.logger, http.StatusBadRequest, errCodeBadRequest, "read body failed")
	return nil, false
}

// decodeOptional decodes a JSON object body when one is present.
func (h *handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		jsonError(w, h.logger, http.StatusBadRequest, errCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *handler) unavailable(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrStopped) || errors.Is(err, ingest.ErrUnavailable) {
		jsonError(w, h.logger, http.StatusServiceUnavailable, errCodeUnavailable, "alert engine is shutting down")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Error("engine request failed", "error", err.Error())
	jsonError(w, h.logger, http.StatusServiceUnavailable, errCodeUnavailable, err.Error())
}

// parseFilter reads priority, category, and acknowledged query parameters.
func parseFilter(r *http.Request) (domain.Filter, error) {
	query := r.URL.Query()
	var filter domain.Filter
	if raw := strings.TrimSpace(query.Get("priority")); raw != "" {
		priority, ok := domain.ParsePriority(raw)
		if !ok {
			return filter, fmt.Errorf("unknown priority %q", raw)
		}
		filter.Priority = priority
	}
	if raw := strings.TrimSpace(query.Get("category")); raw != "" {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			return filter, fmt.Errorf("unknown category %q", raw)
		}
		filter.Category = category
	}
	if raw := strings.TrimSpace(query.Get("acknowledged")); raw != "" {
		acknowledged, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("acknowledged must be true or false")
		}
		filter.Acknowledged = &acknowledged
	}
	return filter, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
