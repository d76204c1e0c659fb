package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/jobboard-notify/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrItemNotFound, Status: http.StatusNotFound, Message: "queue item not found"},
	{Error: ErrAlreadyClaimed, Status: http.StatusBadRequest, Message: "queue item already claimed"},
	{Error: ErrInvalidState, Status: http.StatusBadRequest},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest},
	{Error: ErrInvalidPriority, Status: http.StatusBadRequest},
	{Error: ErrInvalidRetention, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the queue operational API.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Post("/items", h.Enqueue)
		r.Get("/items", h.ListByStatus)
		r.Get("/items/next", h.NextBatch)
		r.Get("/items/{id}", h.GetItem)
		r.Post("/items/{id}/claim", h.Claim)
		r.Post("/items/{id}/complete", h.Complete)
		r.Post("/items/{id}/fail", h.Fail)
		r.Post("/items/{id}/cancel", h.Cancel)
		r.Get("/notifications/{notificationID}/items", h.ListByNotification)

		r.Get("/retryable", h.ListRetryable)
		r.Post("/sweeps/retryable", h.ProcessRetryable)
		r.Post("/sweeps/stuck", h.HandleStuck)
		r.Post("/sweeps/cleanup", h.Cleanup)

		r.Get("/stats", h.Stats)
		r.Get("/size", h.Size)
	})
}

// EnqueueRequest represents request body for enqueuing a notification.
type EnqueueRequest struct {
	NotificationID string            `json:"notification_id" validate:"required,max=64"`
	Priority       int               `json:"priority" validate:"omitempty,min=1,max=5"`
	ScheduledAt    *time.Time        `json:"scheduled_at"`
	MaxRetries     *int              `json:"max_retries" validate:"omitempty,min=0,max=20"`
	Metadata       map[string]string `json:"metadata"`
}

// ClaimRequest represents request body for claiming an item.
type ClaimRequest struct {
	WorkerID string `json:"worker_id" validate:"required,max=128"`
}

// FailRequest represents request body for reporting a failed attempt.
type FailRequest struct {
	Error     string `json:"error" validate:"required"`
	Retryable *bool  `json:"retryable"`
}

// CleanupRequest represents request body for the retention sweep.
type CleanupRequest struct {
	DaysToKeep int `json:"days_to_keep" validate:"required,min=1"`
}

// Enqueue handles POST /queue/items.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.Enqueue(r.Context(), EnqueueInput{
		NotificationID: req.NotificationID,
		Priority:       req.Priority,
		ScheduledAt:    req.ScheduledAt,
		MaxRetries:     req.MaxRetries,
		Metadata:       req.Metadata,
	})
	if errors.Is(err, ErrAlreadyQueued) {
		httputil.Success(w, http.StatusOK, item)
		return
	}
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, item)
}

// ListByStatus handles GET /queue/items?status=.
func (h *Handler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	items, err := h.service.GetByStatus(r.Context(), status, queryInt(r, "limit", 100))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// NextBatch handles GET /queue/items/next.
func (h *Handler) NextBatch(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.GetNextBatch(r.Context(), queryInt(r, "batch_size", 10))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// GetItem handles GET /queue/items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// Claim handles POST /queue/items/{id}/claim.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.Claim(r.Context(), chi.URLParam(r, "id"), req.WorkerID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// Complete handles POST /queue/items/{id}/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// Fail handles POST /queue/items/{id}/fail.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	var cause error = errors.New(req.Error)
	if req.Retryable != nil && !*req.Retryable {
		cause = NewNonRetryableError(cause)
	}

	item, err := h.service.Fail(r.Context(), chi.URLParam(r, "id"), cause)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// Cancel handles POST /queue/items/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// ListByNotification handles GET /queue/notifications/{notificationID}/items.
func (h *Handler) ListByNotification(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.GetByNotificationID(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// ListRetryable handles GET /queue/retryable.
func (h *Handler) ListRetryable(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.GetRetryableItems(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// ProcessRetryable handles POST /queue/sweeps/retryable.
func (h *Handler) ProcessRetryable(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ProcessRetryableItems(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int64{"readmitted": n})
}

// HandleStuck handles POST /queue/sweeps/stuck.
func (h *Handler) HandleStuck(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.HandleStuckItems(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int64{"recovered": n})
}

// Cleanup handles POST /queue/sweeps/cleanup.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	n, err := h.service.CleanupOldItems(r.Context(), req.DaysToKeep)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Stats handles GET /queue/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetQueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// Size handles GET /queue/size?status=.
func (h *Handler) Size(w http.ResponseWriter, r *http.Request) {
	status, err := ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	n, err := h.service.GetQueueSize(r.Context(), status)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"size":   n,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
