package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// handleEvent records one inbound monitoring event and hands it to the
// ingest task. Invalid methods still produce a log row so the source
// stays visible.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	remoteIP := clientIP(r)
	method := types.LogMethod(strings.ToLower(r.Method))
	metrics.EventsReceived.WithLabelValues(string(method)).Inc()
	s.logger.Info().Str("remote_ip", remoteIP).Str("method", string(method)).Msg("new event")

	payload, err := decodePayload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	types.ExpandCSVFields(payload)

	l := &store.IngressLog{
		RemoteIP: remoteIP,
		Method:   method,
		Task:     types.TaskEvent,
		Status:   types.LogStatusNew,
		Payload:  payload,
	}
	if !method.IsValidEventMethod() {
		l.Status = types.LogStatusFailed
		l.Message = fmt.Sprintf("Invalid request method [%s]", method)
		if err := s.logs.RecordLog(r.Context(), l); err != nil {
			s.logger.Error().Err(err).Msg("recording ingress log")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Error(w, l.Message, http.StatusBadRequest)
		return
	}

	if err := s.logs.RecordLog(r.Context(), l); err != nil {
		s.logger.Error().Err(err).Msg("recording ingress log")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.queue.Enqueue(r.Context(), queue.Task{Name: dispatch.TaskIngestEvent, LogID: l.ID}, 0); err != nil {
		// The log row is committed; the source may retry and the
		// dedup pass will fold the duplicate.
		s.logger.Error().Err(err).Int64("log_id", l.ID).Msg("enqueueing ingest task")
		http.Error(w, "queueing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleEventInfo returns the stored document for one event.
func (s *Server) handleEventInfo(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	id := chi.URLParam(r, "id")

	doc, err := s.docs.GetEvent(r.Context(), index, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"_index":  doc.Index,
		"_id":     doc.ID,
		"_source": doc.Source,
	})
}

// handleResolve records an operator's resolve request addressed by
// ticket id.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	remoteIP := clientIP(r)
	method := types.LogMethod(strings.ToLower(r.Method))
	s.logger.Info().Str("remote_ip", remoteIP).Str("method", string(method)).Msg("resolve event")

	payload, err := decodePayload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	l := &store.IngressLog{
		RemoteIP: remoteIP,
		Method:   method,
		Task:     types.TaskResolve,
		Status:   types.LogStatusNew,
		Payload:  payload,
	}

	var reason string
	switch {
	case method != types.MethodPost:
		reason = fmt.Sprintf("Invalid request method [%s]", method)
	case payload["itsm_ticket"] == "":
		reason = "Missing itsm_ticket"
	}
	if reason != "" {
		l.Status = types.LogStatusFailed
		l.Message = reason
		if err := s.logs.RecordLog(r.Context(), l); err != nil {
			s.logger.Error().Err(err).Msg("recording ingress log")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Error(w, reason, http.StatusBadRequest)
		return
	}

	if err := s.logs.RecordLog(r.Context(), l); err != nil {
		s.logger.Error().Err(err).Msg("recording ingress log")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.queue.Enqueue(r.Context(), queue.Task{Name: dispatch.TaskResolve, LogID: l.ID}, 0); err != nil {
		s.logger.Error().Err(err).Int64("log_id", l.ID).Msg("enqueueing resolve task")
		http.Error(w, "queueing failed", http.StatusInternalServerError)
		return
	}
	// The ticket system webhook treats anything but a 200 as failure.
	w.WriteHeader(http.StatusOK)
}

// clientIP trusts the ingress proxy's X-Forwarded-For header. Requests
// reaching the server directly count as local.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return "127.0.0.1"
}

// decodePayload reads the JSON request body into the flat string map an
// ingress log carries. Non-string scalars are formatted, nested values
// are kept as their JSON text.
func decodePayload(r *http.Request) (map[string]string, error) {
	raw := map[string]any{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
	}

	payload := make(map[string]string, len(raw))
	for k, v := range raw {
		payload[k] = stringify(v)
	}
	return payload, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
