package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ai-rivu-backend/middleware"
	"ai-rivu-backend/model"
	"ai-rivu-backend/utils"

	"github.com/rs/zerolog/log"
)

const defaultGenerateTimeout = 60 * time.Second

// GeneratePaper handles POST /api/generate
// @Summary Generate a question paper
// @Description Generate a question paper with the configured LLM. Governed by the generate window and the paper quota.
// @Tags Papers
// @Accept json
// @Produce json
// @Param X-User-Email header string true "Caller identity"
// @Param request body model.PaperRequest true "Paper parameters"
// @Success 200 {object} model.PaperResponse "Generated paper"
// @Failure 400 {object} model.ErrorResponse "Invalid request"
// @Failure 401 {object} model.ErrorResponse "Authentication required"
// @Failure 429 {object} model.ErrorResponse "Rate limit or quota exceeded"
// @Failure 502 {object} model.ErrorResponse "Provider error"
// @Failure 503 {object} model.ErrorResponse "Provider unavailable"
// @Failure 504 {object} model.ErrorResponse "Provider timeout"
// @Router /api/generate [post]
func (h *Handler) GeneratePaper(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req model.PaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.generateFailed(identity, r, "Invalid Request", err)
		SendJSONError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := utils.ValidatePaperRequest(req); err != nil {
		h.generateFailed(identity, r, "Invalid Request", err)
		SendJSONError(w, http.StatusBadRequest, err, err.Error())
		return
	}

	if h.generator == nil {
		h.generateFailed(identity, r, "Provider Unavailable", ErrGeneratorUnavailable)
		SendJSONError(w, http.StatusServiceUnavailable, ErrGeneratorUnavailable, "Paper generation is not configured")
		return
	}

	timeout := defaultGenerateTimeout
	if h.config.LLM.TimeoutSeconds > 0 {
		timeout = time.Duration(h.config.LLM.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := h.now()
	resp, err := h.generator.Generate(ctx, req)
	elapsed := h.now().Sub(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.generateFailed(identity, r, "Timeout", err)
			SendJSONError(w, http.StatusGatewayTimeout, err, "Paper generation timed out")
			return
		}
		h.generateFailed(identity, r, "Provider Error", err)
		SendJSONError(w, http.StatusBadGateway, err, "Paper generation failed")
		return
	}

	h.activity.Append(identity, model.KindPaperGenerated, model.ActionGenerated, model.PaperGeneratedDetail{
		Subject:         req.Subject,
		ClassName:       req.ClassName,
		Curriculum:      req.Curriculum,
		QuestionDetails: req.QuestionDetails,
		DifficultySplit: req.DifficultySplit,
		TimeDuration:    req.TimeDuration,
		Tokens:          resp.Tokens,
	}.Map())
	h.metrics.Generation(elapsed.Seconds(), resp.Tokens)
	h.cache.InvalidateAggregate()

	log.Info().
		Str("identity", identity).
		Str("subject", req.Subject).
		Int("questions", req.TotalQuestions()).
		Int("tokens", resp.Tokens).
		Dur("elapsed", elapsed).
		Msg("Paper generated")

	SendJSONSuccess(w, http.StatusOK, resp)
}

func (h *Handler) generateFailed(identity string, r *http.Request, reason string, err error) {
	detail := requestDetail(r)
	detail["error"] = err.Error()
	h.activity.Append(identity, model.KindGenerateFailed, model.Label(model.ActionGenerateFailed, reason), detail)
	log.Warn().Err(err).Str("identity", identity).Str("reason", reason).Msg("Paper generation failed")
}
