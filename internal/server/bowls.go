package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
)

type requestVerificationRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) CreateBowl(c *gin.Context) {
	var req bowldomain.CreateBowlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	detail, err := s.bowlSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, detail)
}

func (s *Server) GetBowlByID(c *gin.Context) {
	detail, err := s.bowlSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) ListBowls(c *gin.Context) {
	req := bowldomain.ListBowlsRequest{
		AreaID:    c.Query("area_id"),
		PageToken: c.Query("page_token"),
	}
	if size, err := parseOptionalInt(c.Query("page_size")); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	} else if size != nil {
		req.PageSize = *size
	}
	if raw := strings.TrimSpace(c.Query("state")); raw != "" {
		state := bowldomain.BowlState(raw)
		if !state.Valid() {
			AbortWithError(c, newValidationError("state", "invalid_state", "invalid value"))
			return
		}
		req.State = &state
	}

	resp, err := s.bowlSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) TickTask(c *gin.Context) {
	detail, err := s.bowlSvc.TickTask(c.Request.Context(), c.Param("id"), c.Param("taskId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) FinishBowl(c *gin.Context) {
	detail, err := s.bowlSvc.FinishWithoutVerifying(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) RequestVerification(c *gin.Context) {
	var req requestVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tier := bowldomain.VerificationTier(strings.ToLower(strings.TrimSpace(req.Tier)))
	if !tier.Valid() {
		AbortWithError(c, bowldomain.ErrInvalidTier)
		return
	}

	detail, err := s.bowlSvc.RequestVerification(c.Request.Context(), c.Param("id"), tier)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) SubmitVerification(c *gin.Context) {
	var req bowldomain.SubmitVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.BowlID = c.Param("id")

	detail, err := s.bowlSvc.SubmitVerification(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) AbandonVerification(c *gin.Context) {
	detail, err := s.bowlSvc.AbandonVerification(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}
