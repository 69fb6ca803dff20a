package handler

import (
	"net/http"
	"sort"

	"ai-rivu-backend/model"
	"ai-rivu-backend/utils"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// UserListResponse is the admin view of all identities
type UserListResponse struct {
	Total int                     `json:"total"`
	Users []*model.UserStatistics `json:"users"`
}

// GetAnalytics handles GET /api/admin/analytics
// @Summary Aggregate analytics
// @Description Analytics computed across all identities. Cached for cache.ttl_seconds.
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Success 200 {object} model.AggregateAnalytics "Aggregate analytics"
// @Failure 401 {object} model.ErrorResponse "Admin key required"
// @Router /api/admin/analytics [get]
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.cache.Aggregate(); ok {
		w.Header().Set("X-Cache", "HIT")
		SendJSONSuccess(w, http.StatusOK, a)
		return
	}

	a := h.stats.AggregateAnalytics(h.now())
	h.cache.SetAggregate(a)

	w.Header().Set("X-Cache", "MISS")
	SendJSONSuccess(w, http.StatusOK, a)
}

// ListUsers handles GET /api/admin/users
// @Summary List user statistics
// @Description All identities ordered by papers generated
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Success 200 {object} UserListResponse "User statistics"
// @Router /api/admin/users [get]
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := sortedUsers(h.stats.AllUserStatistics())
	SendJSONSuccess(w, http.StatusOK, UserListResponse{
		Total: len(users),
		Users: users,
	})
}

// GetUser handles GET /api/admin/users/{identity}
// @Summary Get one identity's statistics
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param identity path string true "Identity"
// @Success 200 {object} model.UserStatistics "Statistics"
// @Failure 404 {object} model.ErrorResponse "Identity not found"
// @Router /api/admin/users/{identity} [get]
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	identity := utils.NormalizeIdentity(mux.Vars(r)["identity"])

	s, ok := h.stats.UserStatistics(identity)
	if !ok {
		SendJSONError(w, http.StatusNotFound, ErrIdentityNotFound, "No activity recorded for this identity")
		return
	}

	SendJSONSuccess(w, http.StatusOK, s)
}

// ResetUser handles POST /api/admin/users/{identity}/reset
// @Summary Reset an identity's counters
// @Description Clears counters and tables, restoring the full paper quota. Activity history is kept.
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param identity path string true "Identity"
// @Success 200 {object} model.SuccessResponse "Counters reset"
// @Failure 404 {object} model.ErrorResponse "Identity not found"
// @Router /api/admin/users/{identity}/reset [post]
func (h *Handler) ResetUser(w http.ResponseWriter, r *http.Request) {
	identity := utils.NormalizeIdentity(mux.Vars(r)["identity"])

	if !h.stats.Reset(identity) {
		SendJSONError(w, http.StatusNotFound, ErrIdentityNotFound, "No activity recorded for this identity")
		return
	}
	h.cache.InvalidateAggregate()

	log.Info().Str("identity", identity).Msg("User statistics reset")

	SendJSONSuccess(w, http.StatusOK, model.SuccessResponse{Message: "Statistics reset for " + identity})
}

func sortedUsers(all map[string]*model.UserStatistics) []*model.UserStatistics {
	users := make([]*model.UserStatistics, 0, len(all))
	for _, s := range all {
		users = append(users, s)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].TotalPapersGenerated != users[j].TotalPapersGenerated {
			return users[i].TotalPapersGenerated > users[j].TotalPapersGenerated
		}
		return users[i].Identity < users[j].Identity
	})
	return users
}
