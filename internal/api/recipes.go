package api

import (
	"net/http"

	"mixerline/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) listRecipes(c *gin.Context) {
	list, err := s.engine.Catalog.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createRecipe(c *gin.Context) {
	var recipe models.Recipe
	if !bind(c, &recipe, false) {
		return
	}
	created, err := s.engine.Catalog.Create(c.Request.Context(), recipe)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getRecipe(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	recipe, err := s.engine.Catalog.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recipe)
}

func (s *Server) updateRecipe(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var recipe models.Recipe
	if !bind(c, &recipe, false) {
		return
	}
	updated, err := s.engine.Catalog.Update(c.Request.Context(), id, recipe)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteRecipe(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := s.engine.Catalog.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
