package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jdauth/apiserver/internal/services"
	"github.com/jdauth/apiserver/types"
)

// DashboardHandler provides the admin analytics and audit query endpoints.
type DashboardHandler struct {
	analytics *services.AnalyticsService
	auditing  *services.AuditService
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(analytics *services.AnalyticsService, auditing *services.AuditService) *DashboardHandler {
	return &DashboardHandler{analytics: analytics, auditing: auditing}
}

// DashboardRouter registers dashboard and audit query routes. The caller
// applies RequireAuth and RequireAdmin.
func DashboardRouter(r chi.Router, handler *DashboardHandler) {
	r.Get("/dashboard/stats", handler.Stats)
	r.Get("/audit-logs", handler.AuditLogs)
	r.Get("/security/events", handler.SecurityEvents)
	r.Get("/security/summary", handler.SecuritySummary)
}

// Stats returns the dashboard counters and growth series.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analytics.DashboardStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	h.auditView(r, types.ActionAccessAdminDashboard)
	writeJSON(w, http.StatusOK, stats)
}

// AuditLogs returns a filtered page of audit events.
func (h *DashboardHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	filters, ok := auditFiltersFromQuery(w, r)
	if !ok {
		return
	}

	result, err := h.auditing.List(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load audit logs")
		return
	}

	h.auditView(r, types.ActionViewAuditLogs)
	writeJSON(w, http.StatusOK, result)
}

// SecurityEvents returns security-flagged audit events only.
func (h *DashboardHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	filters, ok := auditFiltersFromQuery(w, r)
	if !ok {
		return
	}
	filters.SecurityOnly = true

	result, err := h.auditing.List(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load security events")
		return
	}

	h.auditView(r, types.ActionViewAuditLogs)
	writeJSON(w, http.StatusOK, result)
}

// SecuritySummary aggregates security events over a trailing window,
// 24 hours by default.
func (h *DashboardHandler) SecuritySummary(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours < 1 || hours > 24*30 {
		writeError(w, http.StatusBadRequest, "hours must be between 1 and 720")
		return
	}

	summary, err := h.auditing.SecuritySummary(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *DashboardHandler) auditView(r *http.Request, action string) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		return
	}
	meta := requestMeta(r)
	h.auditing.Record(r.Context(), types.AuditEvent{
		Action:       action,
		ResourceType: "audit",
		UserID:       &actor.ID,
		Username:     actor.Username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Method:       meta.Method,
		Path:         meta.Path,
	})
}

func auditFiltersFromQuery(w http.ResponseWriter, r *http.Request) (types.AuditFilters, bool) {
	q := r.URL.Query()
	filters := types.AuditFilters{
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		Username:     q.Get("username"),
		Status:       q.Get("status"),
		SecurityFlag: q.Get("security_flag"),
		Severity:     q.Get("severity"),
		Skip:         queryInt(r, "skip", 0),
		Limit:        queryInt(r, "limit", 100),
	}
	if filters.Limit < 1 || filters.Limit > 1000 {
		filters.Limit = 100
	}
	if filters.Skip < 0 {
		filters.Skip = 0
	}
	if id := queryInt(r, "user_id", 0); id > 0 {
		filters.UserID = &id
	}
	if after := q.Get("start_date"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date")
			return types.AuditFilters{}, false
		}
		filters.CreatedAfter = &t
	}
	if before := q.Get("end_date"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date")
			return types.AuditFilters{}, false
		}
		filters.CreatedBefore = &t
	}
	return filters, true
}
