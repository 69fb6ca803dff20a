package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"ai-rivu-backend/middleware"
	"ai-rivu-backend/model"
	"ai-rivu-backend/utils"

	"github.com/rs/zerolog/log"
)

var filenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// DownloadPaper handles POST /api/download
// @Summary Download a generated paper
// @Description Render a generated paper as a plain-text attachment
// @Tags Papers
// @Accept json
// @Produce plain
// @Param X-User-Email header string true "Caller identity"
// @Param request body model.DownloadRequest true "Generated paper"
// @Success 200 {string} string "Paper document"
// @Failure 400 {object} model.ErrorResponse "Invalid request"
// @Failure 401 {object} model.ErrorResponse "Authentication required"
// @Failure 429 {object} model.ErrorResponse "Rate limit exceeded"
// @Router /api/download [post]
func (h *Handler) DownloadPaper(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req model.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.downloadFailed(identity, r, err)
		SendJSONError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := utils.ValidateDownloadRequest(req); err != nil {
		h.downloadFailed(identity, r, err)
		SendJSONError(w, http.StatusBadRequest, err, err.Error())
		return
	}

	body := renderPaper(req)
	filename := paperFilename(req)

	detail := requestDetail(r)
	detail["subject"] = req.Subject
	detail["className"] = req.ClassName
	h.activity.Append(identity, model.KindDownloadSuccess, model.ActionDownloadSuccess, detail)
	h.cache.InvalidateAggregate()

	log.Info().Str("identity", identity).Str("file", filename).Msg("Paper downloaded")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (h *Handler) downloadFailed(identity string, r *http.Request, err error) {
	detail := requestDetail(r)
	detail["error"] = err.Error()
	h.activity.Append(identity, model.KindDownloadFailed, model.Label(model.ActionDownloadFailed, "Invalid Request"), detail)
	log.Warn().Err(err).Str("identity", identity).Msg("Paper download failed")
}

func renderPaper(req model.DownloadRequest) string {
	var b strings.Builder
	title := strings.TrimSpace(strings.Join([]string{req.Subject, req.ClassName}, " "))
	if title != "" {
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(strings.Repeat("=", len(title)))
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(req.Content))
	b.WriteString("\n")
	return b.String()
}

func paperFilename(req model.DownloadRequest) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{req.Subject, req.ClassName} {
		if s = strings.Trim(filenameUnsafe.ReplaceAllString(s, "_"), "_"); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, "question_paper")
	return strings.Join(parts, "_") + ".txt"
}
