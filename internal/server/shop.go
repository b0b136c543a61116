package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type repriceRequest struct {
	Price int64 `json:"price"`
}

// ListShopFilters serves the catalog through a short TTL cache; the
// seeded catalog only changes when an operator reprices something.
func (s *Server) ListShopFilters(c *gin.Context) {
	if filters, ok := s.catalogCache.GetFilters(); ok {
		c.JSON(http.StatusOK, gin.H{"filters": filters})
		return
	}

	filters, err := s.shopSvc.Catalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.catalogCache.SetFilters(filters)
	c.JSON(http.StatusOK, gin.H{"filters": filters})
}

func (s *Server) PurchaseShopFilter(c *gin.Context) {
	result, err := s.shopSvc.Purchase(c.Request.Context(), c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListShopUnlocks(c *gin.Context) {
	unlocks, err := s.shopSvc.Unlocked(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unlocks": unlocks})
}

func (s *Server) RepriceShopFilter(c *gin.Context) {
	var req repriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter, err := s.shopSvc.Reprice(c.Request.Context(), c.Param("slug"), req.Price)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.catalogCache.InvalidateFilters()
	c.JSON(http.StatusOK, filter)
}
