package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	splitdomain "github.com/smallbiznis/facilitycore/internal/split/domain"
)

type replaceSplitsRequest struct {
	Splits []splitdomain.SplitInput `json:"splits"`
}

type previewJournalRequest struct {
	Lines []splitdomain.ChargeLine `json:"lines"`
}

func (s *Server) ListAccountSplits(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.splits.Splits(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReplaceAccountSplits(c *gin.Context) {
	if err := s.authz.Authorize(callerFrom(c), authorization.ObjectAccountSplit, authorization.ActionManage); err != nil {
		AbortWithError(c, err)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req replaceSplitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.splits.Replace(c.Request.Context(), splitdomain.ReplaceRequest{
		ParentAccountID: id,
		Splits:          req.Splits,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// PreviewJournal builds the journal rows for the given charges without
// exporting them.
func (s *Server) PreviewJournal(c *gin.Context) {
	var req previewJournalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	batch, err := s.splits.Build(c.Request.Context(), req.Lines)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}
