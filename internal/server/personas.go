package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPersonas(c *gin.Context) {
	if personas, ok := s.catalogCache.GetPersonas(); ok {
		c.JSON(http.StatusOK, gin.H{"personas": personas})
		return
	}

	personas, err := s.personaRepo.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.catalogCache.SetPersonas(personas)
	c.JSON(http.StatusOK, gin.H{"personas": personas})
}
