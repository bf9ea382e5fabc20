package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ReceiverKind is the closed set of entities an external service result can
// be attached to.
type ReceiverKind string

const (
	ReceiverOrderLine   ReceiverKind = "order_line"
	ReceiverReservation ReceiverKind = "reservation"
)

func (k ReceiverKind) Valid() bool {
	switch k {
	case ReceiverOrderLine, ReceiverReservation:
		return true
	}
	return false
}

// Receiver is anything an external service response can be attached to.
type Receiver interface {
	ReceiverKind() ReceiverKind
	ReceiverID() snowflake.ID
}

type receiverRef struct {
	kind ReceiverKind
	id   snowflake.ID
}

func (r receiverRef) ReceiverKind() ReceiverKind { return r.kind }
func (r receiverRef) ReceiverID() snowflake.ID   { return r.id }

func OrderLineReceiver(id snowflake.ID) Receiver {
	return receiverRef{kind: ReceiverOrderLine, id: id}
}

func ReservationReceiver(id snowflake.ID) Receiver {
	return receiverRef{kind: ReceiverReservation, id: id}
}

// ParseReceiver builds a receiver from wire values, rejecting unknown kinds.
func ParseReceiver(kind string, id snowflake.ID) (Receiver, error) {
	k := ReceiverKind(kind)
	if !k.Valid() {
		return nil, ErrUnknownReceiverKind
	}
	if id == 0 {
		return nil, ErrInvalidReceiver
	}
	return receiverRef{kind: k, id: id}, nil
}

// ExternalService is a third-party endpoint (survey, form) whose responses
// are collected per receiver.
type ExternalService struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Location  string       `json:"location" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (ExternalService) TableName() string { return "external_services" }

type ExternalServiceReceiver struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	ExternalServiceID snowflake.ID   `json:"external_service_id" gorm:"column:external_service_id;not null;uniqueIndex:ux_external_service_receivers,priority:1"`
	ReceiverKind      ReceiverKind   `json:"receiver_kind" gorm:"type:text;not null;uniqueIndex:ux_external_service_receivers,priority:2"`
	ReceiverID        snowflake.ID   `json:"receiver_id" gorm:"column:receiver_id;not null;uniqueIndex:ux_external_service_receivers,priority:3"`
	ResponseData      datatypes.JSON `json:"response_data,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null"`
}

func (ExternalServiceReceiver) TableName() string { return "external_service_receivers" }
