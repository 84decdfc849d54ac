package api

import (
	"net/http"

	"mixerline/internal/alarms"
	"mixerline/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) listAlarms(c *gin.Context) {
	mixerID, ok := uintQuery(c, "mixer")
	if !ok {
		return
	}
	batchID, ok := uintQuery(c, "batch")
	if !ok {
		return
	}
	filter := alarms.ListFilter{
		MixerID:  mixerID,
		BatchID:  batchID,
		Status:   models.AlarmStatus(c.Query("status")),
		Severity: models.AlarmSeverity(c.Query("severity")),
	}
	list, err := s.engine.Alarms.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type raiseRequest struct {
	MixerID     uint                 `json:"mixerId"`
	Code        string               `json:"code"`
	Description string               `json:"description"`
	Severity    models.AlarmSeverity `json:"severity"`
}

func (s *Server) raiseAlarm(c *gin.Context) {
	var req raiseRequest
	if !bind(c, &req, false) {
		return
	}
	alarm, err := s.engine.Alarms.Raise(c.Request.Context(), req.MixerID, req.Code, req.Description, req.Severity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, alarm)
}

func (s *Server) getAlarm(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	alarm, err := s.engine.Alarms.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alarm)
}

func (s *Server) acknowledge(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	alarm, err := s.engine.Alarms.Acknowledge(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alarm)
}

func (s *Server) acknowledgeAll(c *gin.Context) {
	var filter alarms.AckFilter
	if !bind(c, &filter, true) {
		return
	}
	report, err := s.engine.Alarms.AcknowledgeAll(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
