package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"golang.org/x/sync/errgroup"
)

func (s *Server) GetInstrument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var (
		instrument *instrumentdomain.Instrument
		rules      []instrumentdomain.ScheduleRule
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		instrument, err = s.instruments.Get(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		rules, err = s.instruments.Rules(ctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"instrument":     instrument,
		"schedule_rules": rules,
	}})
}

// InstrumentStatus reports the last relay observation.
func (s *Server) InstrumentStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.reservations.Status(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListProblemReservations(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.reservations.ListProblems(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
