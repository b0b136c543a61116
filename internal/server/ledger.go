package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/babcialabs/babcia/internal/identity"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	"github.com/babcialabs/babcia/pkg/db/pagination"
)

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := identity.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.ledgerSvc.BalanceOf(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) GetLedgerSummary(c *gin.Context) {
	userID, ok := identity.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	summary, err := s.ledgerSvc.Summarize(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	userID, ok := identity.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := ledgerdomain.ListEntriesRequest{
		UserID:     userID,
		Pagination: page,
	}
	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		kind := ledgerdomain.EntryKind(raw)
		if !kind.Valid() {
			AbortWithError(c, ledgerdomain.ErrInvalidKind)
			return
		}
		req.Kind = &kind
	}
	bowlID, err := parseOptionalSnowflakeID(c.Query("bowl_id"))
	if err != nil {
		AbortWithError(c, newValidationError("bowl_id", "invalid_bowl_id", "invalid value"))
		return
	}
	req.BowlID = bowlID

	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
