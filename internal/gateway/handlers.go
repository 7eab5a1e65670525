package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/store"
	"github.com/dohr-michael/dayflow/internal/syncer"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	source := domain.Source(chi.URLParam(r, "source"))
	report, err := s.app.RunIngest(r.Context(), userFrom(r), source)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.app.GetPlan(r.Context(), userFrom(r), r.URL.Query().Get("date"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "no plan for that date")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date string `json:"date"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &body) {
		return
	}
	plan, err := s.app.GeneratePlan(r.Context(), userFrom(r), body.Date)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handlePlanStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.app.UpdatePlanStatus(r.Context(), userFrom(r), chi.URLParam(r, "id"), domain.PlanStatus(body.Status)); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": body.Status})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		Source:           domain.Source(q.Get("source")),
		IncludeSpam:      q.Get("include_spam") == "true",
		IncludeCompleted: q.Get("include_completed") == "true",
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		filter.To = t
	}
	tasks, err := s.app.ListTasks(r.Context(), userFrom(r), filter)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskFlags(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Critical  *bool `json:"is_critical"`
		Urgent    *bool `json:"is_urgent"`
		Completed *bool `json:"is_completed"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	task, err := s.app.UpdateTaskFlags(r.Context(), userFrom(r), chi.URLParam(r, "id"),
		body.Critical, body.Urgent, body.Completed)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Choice string `json:"choice"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.app.ResolveConflict(r.Context(), userFrom(r), chi.URLParam(r, "id"), syncer.Resolution(body.Choice)); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resolved": body.Choice})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := s.app.ListNotifications(r.Context(), userFrom(r),
		domain.NotificationStatus(q.Get("status")), limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.DismissNotification(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb domain.TaskFeedback
	if !decodeBody(w, r, &fb) {
		return
	}
	fb.User = userFrom(r)
	if err := s.app.RecordFeedback(r.Context(), &fb); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

func (s *Server) handleFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	window := 7 * 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window duration")
			return
		}
		window = d
	}
	summary, err := s.app.GetFeedbackSummary(r.Context(), userFrom(r), window)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.SyncTaskManager(r.Context(), userFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.app.SyncStatus(r.Context(), userFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date  string `json:"date"`
		Level int    `json:"level"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.app.SetEnergy(r.Context(), userFrom(r), body.Date, body.Level); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.ListReminders(r.Context(), userFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	task, err := s.app.PromoteReminder(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}
