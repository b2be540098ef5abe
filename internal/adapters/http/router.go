package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// RouterOptions carries the traffic control knobs for the public API.
type RouterOptions struct {
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxInFlight     int
	QueueWait       time.Duration
	MaxUploadBytes  int64
	SSEPollInterval time.Duration
}

func (o RouterOptions) normalize() RouterOptions {
	out := o
	if out.MaxUploadBytes <= 0 {
		out.MaxUploadBytes = 32 << 20
	}
	if out.SSEPollInterval <= 0 {
		out.SSEPollInterval = 15 * time.Second
	}
	return out
}

type Router struct {
	ingestor    ports.DocumentIngestor
	dispatcher  ports.Dispatcher
	worklist    ports.Worklist
	transitions ports.OperatorTransitions
	queue       ports.MessageQueue
	opts        RouterOptions
}

func NewRouter(
	ingestor ports.DocumentIngestor,
	dispatcher ports.Dispatcher,
	worklist ports.Worklist,
	transitions ports.OperatorTransitions,
	queue ports.MessageQueue,
	opts RouterOptions,
) *Router {
	return &Router{
		ingestor:    ingestor,
		dispatcher:  dispatcher,
		worklist:    worklist,
		transitions: transitions,
		queue:       queue,
		opts:        opts.normalize(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("POST /v1/documents/bulk", rt.bulkImport)
	mux.HandleFunc("POST /v1/documents/{id}/publish", rt.publishDocument)
	mux.HandleFunc("POST /v1/documents/{id}/transition", rt.transitionDocument)
	mux.HandleFunc("GET /v1/worklist", rt.queryWorklist)
	mux.HandleFunc("GET /v1/worklist/{id}", rt.worklistDetail)
	mux.HandleFunc("POST /v1/worklist/actions", rt.batchActions)
	mux.HandleFunc("GET /v1/events", rt.listEvents)
	mux.HandleFunc("GET /v1/events/stream", rt.streamEvents)

	var handler http.Handler = mux
	if rt.opts.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.QueueWait)
	}
	if rt.opts.RateLimitRPS > 0 {
		limiter := rate.NewLimiter(rate.Limit(rt.opts.RateLimitRPS), max(rt.opts.RateLimitBurst, 1))
		handler = rateLimitMiddleware(handler, limiter)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload",
			errors.New("multipart field 'file' is required")))
		return
	}
	defer file.Close()

	doc, err := rt.ingestor.Upload(r.Context(), fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) bulkImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = formatFromContentType(r.Header.Get("Content-Type"))
	}
	if format == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bulk import",
			errors.New("format query parameter is required (csv, ndjson or xlsx)")))
		return
	}

	result, err := rt.ingestor.BulkImport(r.Context(), format, r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if len(result.Created) == 0 && len(result.Failures) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (rt *Router) publishDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Provider string `json:"provider"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "publish", errors.New("invalid json")))
			return
		}
	}

	// The claim runs synchronously so a duplicate request gets its 409 here;
	// the provider drive itself happens on a worker, observable through the
	// worklist detail and the event stream.
	task, err := rt.dispatcher.Submit(r.Context(), id, req.Provider)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": id,
		"task_id":     task.ID,
		"status":      "queued",
	})
}

func (rt *Router) transitionDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		To     string `json:"to"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "transition", errors.New("invalid json")))
		return
	}

	transition, err := rt.transitions.OperatorTransition(r.Context(), id, domain.DocumentStatus(req.To), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transition)
}

func (rt *Router) queryWorklist(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := domain.WorklistFilter{
		Status:  domain.DocumentStatus(query.Get("status")),
		Keyword: query.Get("q"),
	}
	if from := query.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "worklist", fmt.Errorf("invalid from: %w", err)))
			return
		}
		filter.DateFrom = t
	}
	if to := query.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "worklist", fmt.Errorf("invalid to: %w", err)))
			return
		}
		filter.DateTo = t
	}

	page := domain.WorklistPage{
		Number:  atoiDefault(query.Get("page"), 1),
		PerPage: atoiDefault(query.Get("per_page"), 50),
	}
	sort := domain.WorklistSort(query.Get("sort"))

	docs, total, err := rt.worklist.Query(r.Context(), filter, sort, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
		"page":      page.Normalize().Number,
		"per_page":  page.Normalize().PerPage,
	})
}

func (rt *Router) worklistDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := rt.worklist.Detail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (rt *Router) batchActions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentIDs []string `json:"document_ids"`
		Action      string   `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "batch action", errors.New("invalid json")))
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "batch action", errors.New("document_ids is empty")))
		return
	}

	results, err := rt.worklist.BatchAction(r.Context(), req.DocumentIDs, ports.BatchAction(req.Action))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) listEvents(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil && r.URL.Query().Get("since") != "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "events", errors.New("invalid since cursor")))
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 0)

	events, err := rt.worklist.EventsSince(r.Context(), since, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
}

// streamEvents pushes change events over SSE. Delivery is best effort; the
// event payloads carry their sequence number so a client that reconnects can
// catch up through GET /v1/events.
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan domain.ChangeEvent, 64)
	unsubscribe, err := rt.queue.SubscribeEvents(r.Context(), func(_ context.Context, event domain.ChangeEvent) {
		select {
		case events <- event:
		default:
			// Slow client; it re-syncs via the poll endpoint.
		}
	})
	if err != nil {
		slog.Error("sse_subscribe_failed", "error", err)
		return
	}
	defer unsubscribe()

	keepalive := time.NewTicker(rt.opts.SSEPollInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, payload)
			flusher.Flush()
		}
	}
}

func formatFromContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "text/csv"):
		return "csv"
	case strings.Contains(contentType, "application/x-ndjson"):
		return "ndjson"
	case strings.Contains(contentType, "spreadsheetml"):
		return "xlsx"
	default:
		return ""
	}
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.Error("http_error", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
