package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/construmedicis/buildtracking/internal/config"
	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
	"github.com/construmedicis/buildtracking/internal/observability/metrics"
)

type Router struct {
	cfg       config.Config
	runner    ports.IngestionRunner
	queue     ports.RunQueue
	evaluator ports.RuleEvaluator
	assigner  ports.InvoiceAssigner
	invoices  ports.InvoiceRepository
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	runner ports.IngestionRunner,
	queue ports.RunQueue,
	evaluator ports.RuleEvaluator,
	assigner ports.InvoiceAssigner,
	invoices ports.InvoiceRepository,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:       cfg,
		runner:    runner,
		queue:     queue,
		evaluator: evaluator,
		assigner:  assigner,
		invoices:  invoices,
		metrics:   httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/ingestion/runs", rt.runIngestion)
	mux.HandleFunc("/v1/ingestion/requests", rt.requestIngestion)
	mux.HandleFunc("/v1/invoices/pending-review", rt.listPendingReview)
	mux.HandleFunc("/v1/invoices/", rt.invoiceSubroute)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runRequest struct {
	Source string `json:"source"`
	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`
}

func (req runRequest) window() (ports.FetchWindow, error) {
	var window ports.FetchWindow
	if req.After != "" {
		after, err := time.Parse(time.RFC3339, req.After)
		if err != nil {
			return window, domain.WrapError(domain.ErrInvalidInput, "parse after bound", err)
		}
		window.After = &after
	}
	if req.Before != "" {
		before, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			return window, domain.WrapError(domain.ErrInvalidInput, "parse before bound", err)
		}
		window.Before = &before
	}
	return window, nil
}

// runIngestion executes a run synchronously and returns the full result,
// including per-document errors of PARTIAL_SUCCESS runs.
func (rt *Router) runIngestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Source == "" {
		req.Source = rt.cfg.DefaultSourceName
	}
	window, err := req.window()
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := rt.runner.Run(r.Context(), req.Source, window)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordIngestionRequest(rt.cfg.ServiceName, "sync")
	}
	writeJSON(w, http.StatusOK, result)
}

// requestIngestion enqueues a run for the worker and returns immediately.
func (rt *Router) requestIngestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Source == "" {
		req.Source = rt.cfg.DefaultSourceName
	}

	if err := rt.queue.PublishRunRequested(r.Context(), req.Source); err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordIngestionRequest(rt.cfg.ServiceName, "async")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"source": req.Source, "status": "queued"})
}

func (rt *Router) listPendingReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	invoices, err := rt.invoices.ListPendingReview(r.Context(), rt.cfg.PendingReviewCeiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

// invoiceSubroute dispatches /v1/invoices/{id} and its action suffixes.
func (rt *Router) invoiceSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/invoices/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invoice id is required"})
		return
	}

	switch action {
	case "":
		rt.getInvoice(w, r, id)
	case "evaluate":
		rt.evaluateInvoice(w, r, id)
	case "assign":
		rt.assignInvoice(w, r, id)
	case "unassign":
		rt.unassignInvoice(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown invoice action"})
	}
}

func (rt *Router) getInvoice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	invoice, err := rt.invoices.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := rt.invoices.ItemsByInvoice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	invoice.Items = items
	writeJSON(w, http.StatusOK, invoice)
}

// evaluateInvoice runs the rule engine without mutating anything, so a
// reviewer can preview what automation would decide.
func (rt *Router) evaluateInvoice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	invoice, err := rt.invoices.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	verdict, err := rt.evaluator.Evaluate(r.Context(), invoice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (rt *Router) assignInvoice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id is required"})
		return
	}

	if err := rt.assigner.AssignProject(r.Context(), id, req.ProjectID); err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordAssignmentAction(rt.cfg.ServiceName, "assign", "error")
		}
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordAssignmentAction(rt.cfg.ServiceName, "assign", "ok")
	}
	writeJSON(w, http.StatusOK, map[string]string{"invoice_id": id, "project_id": req.ProjectID})
}

func (rt *Router) unassignInvoice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := rt.assigner.UnassignProject(r.Context(), id); err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordAssignmentAction(rt.cfg.ServiceName, "unassign", "error")
		}
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordAssignmentAction(rt.cfg.ServiceName, "unassign", "ok")
	}
	writeJSON(w, http.StatusOK, map[string]string{"invoice_id": id, "project_id": ""})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
