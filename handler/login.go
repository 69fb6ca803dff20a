package handler

import (
	"encoding/json"
	"net/http"

	"ai-rivu-backend/middleware"
	"ai-rivu-backend/model"
	"ai-rivu-backend/utils"

	"github.com/rs/zerolog/log"
)

// Login handles POST /api/login
// @Summary Log in
// @Description Verify email and password. Every attempt is recorded in the activity log.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Login credentials"
// @Success 200 {object} model.LoginResponse "Login successful"
// @Failure 400 {object} model.ErrorResponse "Invalid request"
// @Failure 401 {object} model.ErrorResponse "Invalid credentials"
// @Failure 429 {object} model.ErrorResponse "Rate limit exceeded"
// @Router /api/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendJSONError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	identity := middleware.GetIdentity(r)
	if identity == "" {
		identity = utils.NormalizeIdentity(req.Email)
	}
	detail := requestDetail(r)

	if _, err := h.verifier.Verify(req.Email, req.Password); err != nil {
		detail["reason"] = "invalid credentials"
		h.activity.Append(identity, model.KindLoginFailed, model.Label(model.ActionLoginFailed, "Invalid Credentials"), detail)
		log.Info().Str("identity", identity).Str("ip", middleware.ClientIP(r)).Msg("Login failed")
		SendJSONError(w, http.StatusUnauthorized, err, "Invalid email or password")
		return
	}

	h.activity.Append(identity, model.KindLoginSuccess, model.ActionLoginSuccess, detail)
	h.cache.InvalidateAggregate()
	log.Info().Str("identity", identity).Msg("Login successful")

	SendJSONSuccess(w, http.StatusOK, model.LoginResponse{
		Email:   identity,
		Message: "Login successful",
	})
}

func requestDetail(r *http.Request) map[string]interface{} {
	return map[string]interface{}{
		"ip":        middleware.ClientIP(r),
		"userAgent": r.UserAgent(),
		"path":      r.URL.Path,
	}
}
