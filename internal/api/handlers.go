package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/cache"
	"github.com/LeventeLantos/message-dispatch/internal/dispatch"
	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/repo"
	"github.com/LeventeLantos/message-dispatch/internal/scheduler"
	"github.com/LeventeLantos/message-dispatch/internal/service"
	"github.com/LeventeLantos/message-dispatch/internal/template"
)

// Dispatcher is the producer side of the dispatch pipeline.
type Dispatcher interface {
	Enqueue(ctx context.Context, req dispatch.Request) (*model.Message, error)
	Requeue(ctx context.Context, id string) error
}

type Handler struct {
	sched    *scheduler.Scheduler
	repo     repo.MessageRepository
	dispatch Dispatcher
	receipts cache.MessageCache
	logger   *zap.Logger
}

// NewHandler wires the HTTP handlers. receipts may be nil when no cache is
// configured.
func NewHandler(s *scheduler.Scheduler, r repo.MessageRepository, d Dispatcher, receipts cache.MessageCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sched: s, repo: r, dispatch: d, receipts: receipts, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schedulerState())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.schedulerState())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.schedulerState())
}

func (h *Handler) schedulerState() map[string]any {
	st := h.sched.Status()
	return map[string]any{
		"running":    st.Running,
		"ticks":      st.Ticks,
		"last_tick":  st.LastTick,
		"last_error": st.LastError,
	}
}

func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.dispatch.Enqueue(r.Context(), req)
	if errors.Is(err, dispatch.ErrPublish) && msg != nil {
		// Stored but not queued: the record stays pending with no job.
		h.logger.Error("message stored but not queued", zap.String("message_id", msg.ID()), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"id": msg.ID(), "queued": false, "error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": msg.ID(), "queued": true, "status": msg.Status})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) RequeueMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.dispatch.Requeue(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "queued": true})
}

func (h *Handler) MessageReceipt(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		http.Error(w, "receipt cache disabled", http.StatusNotFound)
		return
	}
	rec, err := h.receipts.LookupSent(r.Context(), r.PathValue("id"))
	if errors.Is(err, cache.ErrMiss) {
		http.Error(w, "no receipt", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	status := model.DeliveryStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.StatusSuccess
	}
	h.list(w, r, status)
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.StatusSuccess)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, status model.DeliveryStatus) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []*model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeError(w, h.logger, err)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrAlreadyDelivered),
		errors.Is(err, dispatch.ErrNotRetryable),
		errors.Is(err, service.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, template.ErrBinding),
		errors.Is(err, dispatch.ErrContentTooLong),
		errors.Is(err, record.ErrSchemaMismatch),
		errors.Is(err, service.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrPublish):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
