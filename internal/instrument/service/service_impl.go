package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/facilitycore/internal/clock"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  instrumentdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  instrumentdomain.Repository
}

func New(p Params) instrumentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("instrument.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req instrumentdomain.CreateRequest) (*instrumentdomain.Instrument, error) {
	if req.FacilityID == 0 {
		return nil, instrumentdomain.ErrInvalidFacility
	}
	if req.ProductID == 0 {
		return nil, instrumentdomain.ErrInvalidProduct
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, instrumentdomain.ErrInvalidName
	}
	timeZone := strings.TrimSpace(req.TimeZone)
	if timeZone == "" {
		timeZone = "UTC"
	}
	if _, err := time.LoadLocation(timeZone); err != nil {
		return nil, instrumentdomain.ErrInvalidTimeZone
	}
	interval := req.ReserveIntervalMins
	if interval == 0 {
		interval = int(instrumentdomain.DefaultReserveInterval / time.Minute)
	}
	if interval < 0 || (24*60)%interval != 0 {
		return nil, instrumentdomain.ErrInvalidReserveInterval
	}

	now := s.clock.Now()
	instrument := &instrumentdomain.Instrument{
		ID:                  s.genID.Generate(),
		FacilityID:          req.FacilityID,
		ProductID:           req.ProductID,
		Name:                name,
		TimeZone:            timeZone,
		ReserveIntervalMins: interval,
		MinCancelHours:      req.MinCancelHours,
		RelayEnabled:        req.RelayEnabled,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.Metadata != nil {
		instrument.Metadata = datatypes.JSONMap(req.Metadata)
	}

	rules := make([]instrumentdomain.ScheduleRule, 0, len(req.Rules))
	var violations apperror.Violations
	for i, in := range req.Rules {
		rule := instrumentdomain.ScheduleRule{
			ID:             s.genID.Generate(),
			InstrumentID:   instrument.ID,
			DayOfWeek:      in.DayOfWeek,
			StartHour:      in.StartHour,
			StartMin:       in.StartMin,
			EndHour:        in.EndHour,
			EndMin:         in.EndMin,
			MinReserveMins: in.MinReserveMins,
			MaxReserveMins: in.MaxReserveMins,
			CreatedAt:      now,
		}
		for _, v := range apperror.ViolationsOf(rule.Validate()) {
			violations.Add(fmt.Sprintf("rules[%d].%s", i, v.Field), v.Code, v.Message)
		}
		rules = append(rules, rule)
	}
	if err := violations.Err(instrumentdomain.ErrInvalidScheduleRule); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByProductID(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if existing != nil {
			return instrumentdomain.ErrProductTaken
		}

		urlName, err := s.uniqueURLName(ctx, tx, req.FacilityID, name)
		if err != nil {
			return err
		}
		instrument.URLName = urlName

		if err := s.repo.Insert(ctx, tx, instrument); err != nil {
			return err
		}
		return s.repo.InsertRules(ctx, tx, rules)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("instrument created",
		zap.String("instrument_id", instrument.ID.String()),
		zap.String("url_name", instrument.URLName),
		zap.Int("rules", len(rules)),
	)
	return instrument, nil
}

func (s *Service) uniqueURLName(ctx context.Context, tx *gorm.DB, facilityID snowflake.ID, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "instrument"
	}
	candidate := base
	for i := 2; ; i++ {
		count, err := s.repo.CountByURLName(ctx, tx, facilityID, candidate)
		if err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*instrumentdomain.Instrument, error) {
	instrument, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, instrumentdomain.ErrNotFound
	}
	return instrument, nil
}

func (s *Service) GetByProduct(ctx context.Context, productID snowflake.ID) (*instrumentdomain.Instrument, error) {
	instrument, err := s.repo.FindByProductID(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, instrumentdomain.ErrNotFound
	}
	return instrument, nil
}

func (s *Service) Rules(ctx context.Context, id snowflake.ID) ([]instrumentdomain.ScheduleRule, error) {
	return s.repo.ListRules(ctx, s.db, id)
}

func (s *Service) RecordStatus(ctx context.Context, req instrumentdomain.RecordStatusRequest) (*instrumentdomain.InstrumentStatus, error) {
	if _, err := s.Get(ctx, req.InstrumentID); err != nil {
		return nil, err
	}
	source := req.Source
	if source == "" {
		source = instrumentdomain.StatusSourceManual
	}
	status := &instrumentdomain.InstrumentStatus{
		ID:            s.genID.Generate(),
		InstrumentID:  req.InstrumentID,
		ReservationID: req.ReservationID,
		IsOn:          req.IsOn,
		Source:        source,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.InsertStatus(ctx, s.db, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (s *Service) CurrentStatus(ctx context.Context, id snowflake.ID) (*instrumentdomain.StatusResponse, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	status, err := s.repo.LatestStatus(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	resp := &instrumentdomain.StatusResponse{InstrumentID: id.String()}
	if status == nil {
		return resp, nil
	}
	changedAt := status.CreatedAt
	resp.IsOn = status.IsOn
	resp.Known = true
	resp.ChangedAt = &changedAt
	return resp, nil
}
