package api

import (
	"net/http"

	"mixerline/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) listInventory(c *gin.Context) {
	list, err := s.engine.Ledger.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createInventory(c *gin.Context) {
	var item models.InventoryItem
	if !bind(c, &item, false) {
		return
	}
	created, err := s.engine.Ledger.Create(c.Request.Context(), item)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getInventory(c *gin.Context) {
	item, err := s.engine.Ledger.Get(c.Request.Context(), c.Param("product"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func quantity(c *gin.Context) (*quantityRequest, bool) {
	var req quantityRequest
	if !bind(c, &req, false) {
		return nil, false
	}
	if req.Quantity == nil {
		badRequest(c, "quantity is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) setInventory(c *gin.Context) {
	req, ok := quantity(c)
	if !ok {
		return
	}
	m, err := s.engine.Ledger.SetQuantity(c.Request.Context(), c.Param("product"), *req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) replenish(c *gin.Context) {
	req, ok := quantity(c)
	if !ok {
		return
	}
	m, err := s.engine.Ledger.Replenish(c.Request.Context(), c.Param("product"), *req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) consume(c *gin.Context) {
	req, ok := quantity(c)
	if !ok {
		return
	}
	m, err := s.engine.Ledger.Consume(c.Request.Context(), c.Param("product"), *req.Quantity, req.BatchID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) productTransactions(c *gin.Context) {
	list, err := s.engine.Ledger.Transactions(c.Request.Context(), c.Param("product"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
