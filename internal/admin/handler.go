// Package admin serves the operator API for inspecting and removing
// scheduled reopens.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/optlsnd/helpscout-automation/internal/helpscout"
	"github.com/optlsnd/helpscout-automation/internal/observability/metrics"
	"github.com/optlsnd/helpscout-automation/internal/schedule"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

// Task is the API view of a scheduled reopen.
type Task struct {
	ID            string     `json:"id"`
	DueAt         time.Time  `json:"dueAt"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	Status        string     `json:"status"`
	LastError     string     `json:"lastError,omitempty"`
	URL           string     `json:"url"`
}

// TaskList is the GET /api/tasks response.
type TaskList struct {
	Tasks []Task `json:"tasks"`
	Count int    `json:"count"`
}

// Stats is the GET /api/stats response.
type Stats struct {
	Pending   int                `json:"pending"`
	Abandoned int                `json:"abandoned"`
	Ticks     map[string]float64 `json:"ticks"`
	Reopens   map[string]float64 `json:"reopens"`
}

// Handler exposes schedule inspection and deletion.
type Handler struct {
	store    schedule.Store
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewHandler(store schedule.Store, gatherer prometheus.Gatherer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{store: store, gatherer: gatherer, logger: logger}
}

// ListTasks returns every schedule ordered by due date.
// GET /api/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks(r)
	if err != nil {
		h.logger.Error("admin: list schedules failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, TaskList{Tasks: tasks, Count: len(tasks)})
}

// ViewTasks renders the schedules as an HTML table.
// GET /api/tasks/view
func (h *Handler) ViewTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks(r)
	if err != nil {
		h.logger.Error("admin: list schedules failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tasksPage.Execute(w, tasks); err != nil {
		h.logger.Error("admin: render task view failed", "error", err)
	}
}

// DeleteTask removes a schedule. Missing schedules are not an error.
// DELETE /api/tasks/{id}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.delete(w, r); ok {
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteTaskLegacy keeps the original dashboard's delete route working.
// DELETE /api/delete/{id}
func (h *Handler) DeleteTaskLegacy(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.delete(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	}
}

// GetStats summarizes the store and the reconciliation counters.
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{Ticks: map[string]float64{}, Reopens: map[string]float64{}}
	err := h.store.Each(r.Context(), func(s schedule.ScheduledReopen) error {
		if s.Status == schedule.StatusAbandoned {
			stats.Abandoned++
		} else {
			stats.Pending++
		}
		return nil
	})
	if err != nil {
		h.logger.Error("admin: count schedules failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	mfs, err := h.gatherer.Gather()
	if err != nil {
		h.logger.Warn("admin: gather metrics failed", "error", err)
	}
	for _, mf := range mfs {
		switch mf.GetName() {
		case metrics.TicksName:
			sumByLabel(mf, "result", stats.Ticks)
		case metrics.ReopenAttemptsName:
			sumByLabel(mf, "outcome", stats.Reopens)
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := schedule.NormalizeID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return "", false
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("admin: delete schedule failed", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return "", false
	}
	h.logger.Info("admin: schedule deleted", "conversation_id", id)
	return id, true
}

func (h *Handler) tasks(r *http.Request) ([]Task, error) {
	items, err := schedule.List(r.Context(), h.store)
	if err != nil {
		return nil, err
	}
	schedule.SortByDue(items)

	tasks := make([]Task, 0, len(items))
	for _, s := range items {
		t := Task{
			ID:        s.ConversationID,
			DueAt:     s.DueAt,
			Attempts:  s.Attempts,
			Status:    string(s.Status),
			LastError: s.LastError,
			URL:       helpscout.ConversationURL(s.ConversationID),
		}
		if !s.NextAttemptAt.IsZero() {
			next := s.NextAttemptAt
			t.NextAttemptAt = &next
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func sumByLabel(mf *dto.MetricFamily, label string, into map[string]float64) {
	for _, m := range mf.GetMetric() {
		if m == nil || m.GetCounter() == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				into[strings.ToLower(lp.GetValue())] += m.GetCounter().GetValue()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
