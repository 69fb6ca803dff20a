package handler

import (
	"net/http"
	"strconv"

	"ai-rivu-backend/model"
	"ai-rivu-backend/utils"
)

const (
	defaultActivityLimit = 100
	maxActivityLimit     = 1000
)

// GetActivity handles GET /api/admin/activity
// @Summary Activity log
// @Description Most recent activity events, optionally filtered by identity and action substring
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param identity query string false "Exact identity"
// @Param action query string false "Case-insensitive action substring"
// @Param limit query int false "Max events (default: 100, max: 1000)"
// @Success 200 {object} model.ActivityListResponse "Activity events"
// @Router /api/admin/activity [get]
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultActivityLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	identity := q.Get("identity")
	if identity != "" {
		identity = utils.NormalizeIdentity(identity)
	}

	events, total := h.activity.Filter(identity, q.Get("action"), limit)
	if events == nil {
		events = []model.ActivityEvent{}
	}

	SendJSONSuccess(w, http.StatusOK, model.ActivityListResponse{
		Limit:      limit,
		Total:      total,
		Activities: events,
	})
}
