package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	externalservicedomain "github.com/smallbiznis/facilitycore/internal/externalservice/domain"
	"github.com/smallbiznis/facilitycore/pkg/db/pagination"
)

type createExternalServiceRequest struct {
	Location string `json:"location"`
}

type attachExternalServiceRequest struct {
	ReceiverKind string         `json:"receiver_kind"`
	ReceiverID   string         `json:"receiver_id"`
	ResponseData map[string]any `json:"response_data"`
}

func (s *Server) CreateExternalService(c *gin.Context) {
	var req createExternalServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.externalServices.Create(c.Request.Context(), req.Location)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) AttachExternalService(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req attachExternalServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	receiverID, err := parseSnowflakeID(req.ReceiverID)
	if err != nil {
		AbortWithError(c, newValidationError("receiver_id", "invalid_id", "invalid receiver id"))
		return
	}
	receiver, err := externalservicedomain.ParseReceiver(req.ReceiverKind, receiverID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.externalServices.Attach(c.Request.Context(), externalservicedomain.AttachRequest{
		ExternalServiceID: id,
		Receiver:          receiver,
		ResponseData:      req.ResponseData,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListReceiverExternalServices(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	receiver, err := externalservicedomain.ParseReceiver(c.Param("kind"), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.externalServices.ListForReceiver(c.Request.Context(), receiver, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Receivers,
		"page_info": resp.PageInfo,
	})
}
