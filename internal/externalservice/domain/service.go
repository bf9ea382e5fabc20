package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"github.com/smallbiznis/facilitycore/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, location string) (*ExternalService, error)
	// Attach records a service response for a receiver, replacing any
	// earlier response from the same service.
	Attach(ctx context.Context, req AttachRequest) (*ExternalServiceReceiver, error)
	ListForReceiver(ctx context.Context, receiver Receiver, page pagination.Pagination) (*ListResponse, error)
}

type AttachRequest struct {
	ExternalServiceID snowflake.ID   `json:"external_service_id"`
	Receiver          Receiver       `json:"-"`
	ResponseData      map[string]any `json:"response_data"`
}

type ListResponse struct {
	Receivers []ExternalServiceReceiver `json:"receivers"`
	PageInfo  *pagination.PageInfo      `json:"page_info"`
}

var (
	ErrInvalidLocation     = apperror.Validation("invalid_location")
	ErrUnknownReceiverKind = apperror.Validation("unknown_receiver_kind")
	ErrInvalidReceiver     = apperror.Validation("invalid_receiver")
	ErrInvalidPage         = apperror.Validation("invalid_page")
	ErrNotFound            = apperror.NotFound("external_service_not_found")
)
