package api

import (
	"net/http"

	"mixerline/internal/batches"
	"mixerline/internal/mixers"

	"github.com/gin-gonic/gin"
)

func (s *Server) listMixers(c *gin.Context) {
	list, err := s.engine.Mixers.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getMixer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	mixer, err := s.engine.Mixers.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mixer)
}

func (s *Server) updateMixer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var update mixers.LiveUpdate
	if !bind(c, &update, false) {
		return
	}
	mixer, err := s.engine.Mixers.UpdateLive(c.Request.Context(), id, update)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mixer)
}

func (s *Server) liveBatch(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	live, err := s.engine.Batches.Live(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, live)
}

func (s *Server) startBatch(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in batches.StartInput
	if !bind(c, &in, false) {
		return
	}
	batch, err := s.engine.Batches.StartBatch(c.Request.Context(), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

func (s *Server) advanceStep(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in batches.AdvanceInput
	if !bind(c, &in, true) {
		return
	}
	res, err := s.engine.Batches.AdvanceStep(c.Request.Context(), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type criterionRequest struct {
	Value   string `json:"value"`
	Comment string `json:"comment"`
}

func (s *Server) markCriterion(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req criterionRequest
	if !bind(c, &req, true) {
		return
	}
	exec, err := s.engine.Batches.MarkCriterion(c.Request.Context(), id, req.Value, req.Comment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

type quantityRequest struct {
	Quantity *float64 `json:"quantity"`
	BatchID  *uint    `json:"batchId"`
}

func (s *Server) recordMeasurement(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req quantityRequest
	if !bind(c, &req, false) {
		return
	}
	if req.Quantity == nil {
		badRequest(c, "quantity is required")
		return
	}
	exec, err := s.engine.Batches.RecordMeasurement(c.Request.Context(), id, *req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) endBatch(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in batches.EndInput
	if !bind(c, &in, false) {
		return
	}
	batch, err := s.engine.Batches.EndBatch(c.Request.Context(), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) abortBatch(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req abortRequest
	if !bind(c, &req, true) {
		return
	}
	batch, err := s.engine.Batches.AbortBatch(c.Request.Context(), id, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}
