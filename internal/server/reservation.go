package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	reservationdomain "github.com/smallbiznis/facilitycore/internal/reservation/domain"
)

type scheduleReservationRequest struct {
	InstrumentID snowflake.ID `json:"instrument_id"`
	OrderLineID  snowflake.ID `json:"order_line_id"`
	Start        time.Time    `json:"reserve_start_at"`
	End          time.Time    `json:"reserve_end_at"`
}

type updateReservationRequest struct {
	Start       time.Time  `json:"reserve_start_at"`
	End         time.Time  `json:"reserve_end_at"`
	ActualStart *time.Time `json:"actual_start_at"`
	ActualEnd   *time.Time `json:"actual_end_at"`
}

type recordUsageRequest struct {
	At     *time.Time `json:"at"`
	Source string     `json:"source"`
}

type cancelReservationRequest struct {
	At *time.Time `json:"at"`
}

func (s *Server) ScheduleReservation(c *gin.Context) {
	var req scheduleReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.reservations.Schedule(c.Request.Context(), reservationdomain.ScheduleRequest{
		Caller:       callerFrom(c),
		InstrumentID: req.InstrumentID,
		OrderLineID:  req.OrderLineID,
		Start:        req.Start,
		End:          req.End,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.reservations.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.reservations.Update(c.Request.Context(), reservationdomain.UpdateRequest{
		Caller:      callerFrom(c),
		ID:          id,
		Start:       req.Start,
		End:         req.End,
		ActualStart: req.ActualStart,
		ActualEnd:   req.ActualEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EarliestPossible(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	window, err := s.reservations.EarliestPossible(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": window})
}

func (s *Server) MoveToEarliest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.reservations.MoveToEarliest(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) StartReservation(c *gin.Context) {
	req, ok := bindUsage(c)
	if !ok {
		return
	}

	resp, err := s.reservations.RecordStart(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EndReservation(c *gin.Context) {
	req, ok := bindUsage(c)
	if !ok {
		return
	}

	resp, err := s.reservations.RecordEnd(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req cancelReservationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.reservations.Cancel(c.Request.Context(), reservationdomain.CancelRequest{
		Caller: callerFrom(c),
		ID:     id,
		At:     req.At,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// bindUsage reads a relay or manual usage event. An empty body records the
// event at the current time from the relay.
func bindUsage(c *gin.Context) (reservationdomain.RecordUsageRequest, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return reservationdomain.RecordUsageRequest{}, false
	}

	var req recordUsageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return reservationdomain.RecordUsageRequest{}, false
		}
	}

	source := instrumentdomain.StatusSourceRelay
	switch req.Source {
	case "", string(instrumentdomain.StatusSourceRelay):
	case string(instrumentdomain.StatusSourceManual):
		source = instrumentdomain.StatusSourceManual
	default:
		AbortWithError(c, newValidationError("source", "invalid_source", "source must be relay or manual"))
		return reservationdomain.RecordUsageRequest{}, false
	}

	out := reservationdomain.RecordUsageRequest{ID: id, Source: source}
	if req.At != nil {
		out.At = *req.At
	}
	return out, true
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := parseSnowflakeID(c.Param(name))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
