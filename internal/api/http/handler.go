// internal/api/http/handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"batch-queue/internal/domain"
	"batch-queue/internal/metrics"
	"batch-queue/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler serves the batch and job HTTP API.
type Handler struct {
	queue    *usecase.QueueService
	batches  *usecase.BatchService
	jobs     *usecase.JobService
	workers  domain.WorkerDirectory
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewHandler creates a new Handler and initializes its validator.
func NewHandler(queue *usecase.QueueService, batches *usecase.BatchService, jobs *usecase.JobService, workers domain.WorkerDirectory, logger *slog.Logger) *Handler {
	validate := validator.New()

	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	return &Handler{
		queue:    queue,
		batches:  batches,
		jobs:     jobs,
		workers:  workers,
		logger:   logger.With("component", "http-handler"),
		validate: validate,
		tracer:   otel.Tracer("batch-queue-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "POST /batches", h.handleEnqueue)
	h.handle(mux, "GET /batches", h.handleListBatches)
	h.handle(mux, "GET /batches/{id}", h.handleGetBatch)
	h.handle(mux, "DELETE /batches/{id}", h.handleDeleteBatch)
	h.handle(mux, "POST /batches/{id}/jobs", h.handleAddJobs)
	h.handle(mux, "GET /jobs/{id}", h.handleGetJob)
	h.handle(mux, "DELETE /jobs/{id}", h.handleDeleteJob)
	h.handle(mux, "GET /workers", h.handleListWorkers)
}

// handle wraps fn with a server span and the request counter.
func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+pattern, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}))
}

// handleEnqueue creates jobs, optionally as a batch (POST /batches).
func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Enqueue")
	defer span.End()

	var req EnqueueRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	specs := make([]domain.JobSpec, 0, len(req.Jobs))
	for i := range req.Jobs {
		specs = append(specs, req.Jobs[i].ToJobSpec())
	}

	batch, jobs, err := h.queue.EnqueueMany(ctx, specs, req.Batch)
	if err != nil {
		h.fail(w, span, "error enqueueing jobs", err)
		return
	}

	resp := EnqueueResponse{Jobs: jobs}
	if batch != nil {
		resp.Batch = newBatchResponse(batch)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListBatches")
	defer span.End()

	batches, err := h.batches.All(ctx)
	if err != nil {
		h.fail(w, span, "error listing batches", err)
		return
	}

	resp := make([]*BatchResponse, 0, len(batches))
	for _, b := range batches {
		resp = append(resp, newBatchResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetBatch")
	defer span.End()
	id := r.PathValue("id")
	span.SetAttributes(attribute.String("batch.id", id))

	batch, err := h.batches.Fetch(ctx, id)
	if err != nil {
		h.fail(w, span, "error fetching batch", err)
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(batch))
}

func (h *Handler) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.DeleteBatch")
	defer span.End()
	id := r.PathValue("id")
	span.SetAttributes(attribute.String("batch.id", id))

	batch, err := h.batches.Fetch(ctx, id)
	if err != nil {
		h.fail(w, span, "error fetching batch", err)
		return
	}
	if err := h.batches.Delete(ctx, batch); err != nil {
		h.fail(w, span, "error deleting batch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddJobs links existing jobs to a batch (POST /batches/{id}/jobs).
func (h *Handler) handleAddJobs(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.AddJobs")
	defer span.End()
	id := r.PathValue("id")
	span.SetAttributes(attribute.String("batch.id", id))

	var req AddJobsRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	batch, err := h.batches.Fetch(ctx, id)
	if err != nil {
		h.fail(w, span, "error fetching batch", err)
		return
	}

	jobs := make([]*domain.Job, 0, len(req.JobIDs))
	for _, jobID := range req.JobIDs {
		job, err := h.jobs.Get(ctx, jobID)
		if err != nil {
			h.fail(w, span, "error loading job", err)
			return
		}
		jobs = append(jobs, job)
	}

	if err := h.batches.AddJobs(ctx, batch, jobs...); err != nil {
		h.fail(w, span, "error adding jobs to batch", err)
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(batch))
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetJob")
	defer span.End()
	id := r.PathValue("id")
	span.SetAttributes(attribute.String("job.id", id))

	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		h.fail(w, span, "error getting job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.DeleteJob")
	defer span.End()
	id := r.PathValue("id")
	span.SetAttributes(attribute.String("job.id", id))

	if err := h.jobs.Delete(ctx, id); err != nil {
		h.fail(w, span, "error deleting job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListWorkers")
	defer span.End()

	workers, err := h.workers.List(ctx)
	if err != nil {
		h.fail(w, span, "error listing workers", err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

// decode reads and validates a JSON body into dst. It writes the 400
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, span trace.Span, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				validationErrors = append(validationErrors,
					"Field '"+fe.Namespace()+"' failed on the '"+fe.Tag()+"' tag.",
				)
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"details": validationErrors,
		})
		return false
	}
	return true
}

// fail maps a service error to a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, span trace.Span, msg string, err error) {
	span.RecordError(err)

	switch {
	case errors.Is(err, domain.ErrNoSuchBatch), errors.Is(err, domain.ErrJobNotFound):
		h.logger.Warn(msg, "error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrNoJobs), errors.Is(err, domain.ErrInvalidJob), errors.Is(err, domain.ErrEmptyJobID):
		h.logger.Warn(msg, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		span.SetStatus(codes.Error, msg)
		h.logger.Error(msg, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
