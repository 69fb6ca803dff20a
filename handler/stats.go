package handler

import (
	"net/http"

	"ai-rivu-backend/middleware"
	"ai-rivu-backend/model"
)

// MyStatistics handles GET /api/stats/me
// @Summary Get my usage statistics
// @Description Returns the caller's folded statistics and quota position
// @Tags Statistics
// @Produce json
// @Param X-User-Email header string true "Caller identity"
// @Success 200 {object} model.UserStatistics "Statistics"
// @Failure 401 {object} model.ErrorResponse "Authentication required"
// @Router /api/stats/me [get]
func (h *Handler) MyStatistics(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	s, ok := h.stats.UserStatistics(identity)
	if !ok {
		s = model.NewUserStatistics(identity)
	}

	SendJSONSuccess(w, http.StatusOK, s)
}
