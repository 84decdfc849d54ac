package api

import (
	"net/http"

	"mixerline/internal/batches"
	"mixerline/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) listBatches(c *gin.Context) {
	mixerID, ok := uintQuery(c, "mixer")
	if !ok {
		return
	}
	recipeID, ok := uintQuery(c, "recipe")
	if !ok {
		return
	}
	filter := batches.ListFilter{MixerID: mixerID, RecipeID: recipeID, Status: models.BatchStatus(c.Query("status"))}
	list, err := s.engine.Batches.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getBatch(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	batch, err := s.engine.Batches.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) deleteBatch(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := s.engine.Batches.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) batchProgress(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	report, err := s.engine.Batches.Progress(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) batchSteps(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := s.engine.Batches.Steps(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) batchExecutions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := s.engine.Batches.StepExecutions(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) batchDistributions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := s.engine.Batches.Distributions(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) batchTransactions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := s.engine.Ledger.BatchTransactions(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getStepExecution(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	exec, err := s.engine.Batches.StepExecution(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}
