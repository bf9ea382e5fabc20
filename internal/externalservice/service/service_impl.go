package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/internal/clock"
	externalservicedomain "github.com/smallbiznis/facilitycore/internal/externalservice/domain"
	"github.com/smallbiznis/facilitycore/pkg/db/option"
	"github.com/smallbiznis/facilitycore/pkg/db/pagination"
	"github.com/smallbiznis/facilitycore/pkg/repository"
	"github.com/smallbiznis/facilitycore/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPageSize = 10

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Services  repository.Repository[externalservicedomain.ExternalService]
	Receivers repository.Repository[externalservicedomain.ExternalServiceReceiver]
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	services  repository.Repository[externalservicedomain.ExternalService]
	receivers repository.Repository[externalservicedomain.ExternalServiceReceiver]
}

func New(p Params) externalservicedomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("externalservice.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		services:  p.Services,
		receivers: p.Receivers,
	}
}

func (s *Service) Create(ctx context.Context, location string) (*externalservicedomain.ExternalService, error) {
	location = strings.TrimSpace(location)
	parsed, err := url.Parse(location)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, externalservicedomain.ErrInvalidLocation
	}

	svc := &externalservicedomain.ExternalService{
		ID:        s.genID.Generate(),
		Location:  location,
		CreatedAt: s.clock.Now(),
	}
	if err := s.services.Create(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) Attach(ctx context.Context, req externalservicedomain.AttachRequest) (*externalservicedomain.ExternalServiceReceiver, error) {
	if req.ExternalServiceID == 0 {
		return nil, externalservicedomain.ErrNotFound
	}
	if req.Receiver == nil {
		return nil, externalservicedomain.ErrInvalidReceiver
	}
	receiver, err := externalservicedomain.ParseReceiver(string(req.Receiver.ReceiverKind()), req.Receiver.ReceiverID())
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req.ResponseData)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var attached *externalservicedomain.ExternalServiceReceiver
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := s.services.WithTrx(tx).FindOne(ctx, &externalservicedomain.ExternalService{ID: req.ExternalServiceID})
		if err != nil {
			return err
		}
		if svc == nil {
			return externalservicedomain.ErrNotFound
		}

		receivers := s.receivers.WithTrx(tx)
		existing, err := receivers.FindOne(ctx, &externalservicedomain.ExternalServiceReceiver{
			ExternalServiceID: svc.ID,
			ReceiverKind:      receiver.ReceiverKind(),
			ReceiverID:        receiver.ReceiverID(),
		})
		if err != nil {
			return err
		}
		if existing != nil {
			if err := receivers.Update(ctx, existing.ID.String(), map[string]any{
				"response_data": datatypes.JSON(payload),
				"updated_at":    now,
			}); err != nil {
				return err
			}
			existing.ResponseData = payload
			existing.UpdatedAt = now
			attached = existing
			return nil
		}

		row := &externalservicedomain.ExternalServiceReceiver{
			ID:                s.genID.Generate(),
			ExternalServiceID: svc.ID,
			ReceiverKind:      receiver.ReceiverKind(),
			ReceiverID:        receiver.ReceiverID(),
			ResponseData:      payload,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := receivers.Create(ctx, row); err != nil {
			return err
		}
		attached = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("external service response attached",
		zap.String("external_service_id", attached.ExternalServiceID.String()),
		zap.String("receiver_kind", string(attached.ReceiverKind)),
		zap.String("receiver_id", attached.ReceiverID.String()),
	)
	return attached, nil
}

func (s *Service) ListForReceiver(ctx context.Context, receiver externalservicedomain.Receiver, page pagination.Pagination) (*externalservicedomain.ListResponse, error) {
	if receiver == nil {
		return nil, externalservicedomain.ErrInvalidReceiver
	}
	if _, err := externalservicedomain.ParseReceiver(string(receiver.ReceiverKind()), receiver.ReceiverID()); err != nil {
		return nil, err
	}
	if page.PageSize == 0 {
		page.PageSize = defaultPageSize
	}
	if err := validation.Struct(page, externalservicedomain.ErrInvalidPage); err != nil {
		return nil, err
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.WithQuerySortBy("id", "asc", map[string]bool{"id": true})),
		option.WithLimit(page.PageSize + 1),
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, externalservicedomain.ErrInvalidPage
		}
		after, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, externalservicedomain.ErrInvalidPage
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.GT, Value: after}))
	}

	rows, err := s.receivers.Find(ctx, &externalservicedomain.ExternalServiceReceiver{
		ReceiverKind: receiver.ReceiverKind(),
		ReceiverID:   receiver.ReceiverID(),
	}, opts...)
	if err != nil {
		return nil, err
	}

	info := pagination.BuildCursorPageInfo(rows, int32(page.PageSize), func(r *externalservicedomain.ExternalServiceReceiver) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: r.ID.String()})
		return token
	})
	if len(rows) > page.PageSize {
		rows = rows[:page.PageSize]
	}
	out := make([]externalservicedomain.ExternalServiceReceiver, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	if !info.HasMore {
		info.NextPageToken = ""
	}
	return &externalservicedomain.ListResponse{Receivers: out, PageInfo: info}, nil
}
