package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	areadomain "github.com/babcialabs/babcia/internal/area/domain"
)

func (s *Server) CreateArea(c *gin.Context) {
	var req areadomain.CreateAreaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	area, err := s.areaSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, area)
}

func (s *Server) GetAreaByID(c *gin.Context) {
	area, err := s.areaSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, area)
}

func (s *Server) ListAreas(c *gin.Context) {
	var req areadomain.ListAreaRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.areaSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateArea(c *gin.Context) {
	var req areadomain.UpdateAreaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = c.Param("id")

	area, err := s.areaSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, area)
}

func (s *Server) DeleteArea(c *gin.Context) {
	if err := s.areaSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
