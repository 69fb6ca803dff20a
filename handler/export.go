package handler

import (
	"fmt"
	"net/http"
	"time"

	"ai-rivu-backend/model"
	"ai-rivu-backend/stats"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

const (
	usersSheet   = "Users"
	summarySheet = "Summary"
)

var userColumns = []interface{}{
	"Identity", "Logins", "Papers Generated", "Downloads", "Tokens Used",
	"Avg Questions/Paper", "Top Subject", "Top Class", "First Activity", "Last Activity",
}

// ExportAnalytics handles GET /api/admin/export
// @Summary Export analytics workbook
// @Description XLSX workbook with a per-user sheet and an aggregate summary sheet
// @Tags Admin
// @Security AdminKey
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} file "Analytics workbook"
// @Failure 500 {object} model.ErrorResponse "Export failed"
// @Router /api/admin/export [get]
func (h *Handler) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	users := sortedUsers(h.stats.AllUserStatistics())
	f, err := buildWorkbook(users, h.stats.AggregateAnalytics(now))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build analytics workbook")
		SendJSONError(w, http.StatusInternalServerError, err, "Failed to export analytics")
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("airivu_analytics_%s.xlsx", now.UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if err := f.Write(w); err != nil {
		log.Error().Err(err).Msg("Failed to write analytics workbook")
		return
	}

	log.Info().Int("users", len(users)).Msg("Analytics exported")
}

func buildWorkbook(users []*model.UserStatistics, a model.AggregateAnalytics) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", usersSheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(usersSheet, "A1", &userColumns); err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(usersSheet, 1, 1, bold); err != nil {
		return nil, err
	}
	for i, u := range users {
		row := []interface{}{
			u.Identity,
			u.TotalLogins,
			u.TotalPapersGenerated,
			u.TotalDownloads,
			u.TokensUsed,
			u.AvgQuestionsPerPaper,
			topName(u.Subjects),
			topName(u.Classes),
			formatTime(u.FirstActivity),
			formatTime(u.LastActivity),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(usersSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	summary := [][]interface{}{
		{"Metric", "Value"},
		{"Total Users", a.TotalUsers},
		{"Active Users (7d)", a.ActiveUsers},
		{"Total Logins", a.TotalLogins},
		{"Total Papers Generated", a.TotalPapersGenerated},
		{"Total Downloads", a.TotalDownloads},
		{"Total Tokens Used", a.TotalTokensUsed},
		{"Download Rate (%)", a.DownloadRate},
		{"Avg Questions/Paper", a.AvgQuestionsPerPaper},
		{"Generated At", formatTime(a.GeneratedAt)},
	}
	row := 1
	for _, r := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(summarySheet, cell, &r); err != nil {
			return nil, err
		}
		row++
	}
	if err := f.SetRowStyle(summarySheet, 1, 1, bold); err != nil {
		return nil, err
	}

	row++
	for _, section := range []struct {
		title string
		items []model.RankedCount
	}{
		{"Top Subjects", a.TopSubjects},
		{"Top Classes", a.TopClasses},
		{"Top Question Types", a.TopQuestionTypes},
		{"Top Users", a.TopUsers},
	} {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetCellValue(summarySheet, cell, section.title); err != nil {
			return nil, err
		}
		if err := f.SetRowStyle(summarySheet, row, row, bold); err != nil {
			return nil, err
		}
		row++
		for _, item := range section.items {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			values := []interface{}{item.Name, item.Count}
			if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
				return nil, err
			}
			row++
		}
		row++
	}

	return f, nil
}

func topName(table map[string]int) string {
	if top := stats.Rank(table, 1); len(top) > 0 {
		return top[0].Name
	}
	return "-"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
