package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/babcialabs/babcia/internal/identity"
	"github.com/babcialabs/babcia/internal/providers/pdf"
)

const (
	defaultHistoryDays  = 30
	maxHistoryDays      = 365
	defaultActivitySize = 20
	maxActivitySize     = 100
	reportDays          = 7
)

func (s *Server) GetStreak(c *gin.Context) {
	userID, ok := identity.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	state, err := s.streakTracker.Current(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (s *Server) GetDashboardSummary(c *gin.Context) {
	summary, err := s.dashboardSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) GetDashboardHistory(c *gin.Context) {
	days := defaultHistoryDays
	if parsed, err := parseOptionalInt(c.Query("days")); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	} else if parsed != nil {
		days = *parsed
	}
	if days < 1 || days > maxHistoryDays {
		AbortWithError(c, newValidationError("days", "out_of_range", "invalid value"))
		return
	}

	history, err := s.dashboardSvc.History(c.Request.Context(), days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

func (s *Server) GetDashboardActivity(c *gin.Context) {
	limit := defaultActivitySize
	if parsed, err := parseOptionalInt(c.Query("limit")); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	} else if parsed != nil {
		limit = *parsed
	}
	if limit < 1 || limit > maxActivitySize {
		AbortWithError(c, newValidationError("limit", "out_of_range", "invalid value"))
		return
	}

	activity, err := s.dashboardSvc.Activity(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, activity)
}

func (s *Server) GetDashboardAreaBreakdown(c *gin.Context) {
	items, err := s.dashboardSvc.AreaBreakdown(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"areas": items})
}

// DownloadProgressReport renders the trailing week as a PDF. Worth a
// fridge magnet.
func (s *Server) DownloadProgressReport(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	summary, err := s.dashboardSvc.Summary(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	history, err := s.dashboardSvc.History(ctx, reportDays)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	areas, err := s.dashboardSvc.AreaBreakdown(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	now := time.Now().UTC()
	data := pdf.ReportData{
		DisplayName:   user.DisplayName,
		PeriodStart:   now.AddDate(0, 0, -(reportDays - 1)).Format("2006-01-02"),
		PeriodEnd:     now.Format("2006-01-02"),
		GeneratedAt:   now.Format(time.RFC3339),
		Balance:       summary.Balance,
		StreakCurrent: summary.Streak.Current,
		StreakLongest: summary.Streak.Longest,

		BowlsFinalized:      summary.Week.BowlsFinalized,
		TasksTicked:         summary.Week.TasksTicked,
		PointsEarned:        summary.Week.PointsEarned,
		VerificationsPassed: summary.Week.VerificationsPassed,
	}
	for _, day := range history.Days {
		data.Days = append(data.Days, pdf.ReportDay{
			Day:            day.Day,
			BowlsFinalized: day.BowlsFinalized,
			TasksTicked:    day.TasksTicked,
			PointsEarned:   day.PointsEarned,
			PointsSpent:    day.PointsSpent,
		})
	}
	for _, area := range areas {
		data.Areas = append(data.Areas, pdf.ReportArea{
			Name:           area.Name,
			BowlsFinalized: area.BowlsFinalized,
			PointsTotal:    area.PointsTotal,
		})
	}

	reader, err := s.pdfProvider.GenerateProgressReport(ctx, data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="babcia-progress.pdf"`)
	c.Data(http.StatusOK, "application/pdf", body)
}
