package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/internal/availability"
	"github.com/smallbiznis/facilitycore/internal/clock"
	"github.com/smallbiznis/facilitycore/internal/config"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"github.com/smallbiznis/facilitycore/internal/locking"
	"github.com/smallbiznis/facilitycore/internal/observability/metrics"
	orderlinedomain "github.com/smallbiznis/facilitycore/internal/orderline/domain"
	pricepolicydomain "github.com/smallbiznis/facilitycore/internal/pricepolicy/domain"
	reservationdomain "github.com/smallbiznis/facilitycore/internal/reservation/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	dbpkg "github.com/smallbiznis/facilitycore/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("facilitycore/reservation")

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           reservationdomain.Repository
	Instruments    instrumentdomain.Service
	InstrumentRepo instrumentdomain.Repository
	OrderLines     orderlinedomain.Repository
	Pricing        pricepolicydomain.Service
	PolicyRepo     pricepolicydomain.Repository
	Locker         locking.Locker
	Authz          authorization.Authorizer
	Scheduling     *config.SchedulingConfigHolder
	Metrics        *metrics.Metrics     `optional:"true"`
	LockMetrics    *metrics.LockMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           reservationdomain.Repository
	instruments    instrumentdomain.Service
	instrumentRepo instrumentdomain.Repository
	orderLines     orderlinedomain.Repository
	pricing        pricepolicydomain.Service
	policyRepo     pricepolicydomain.Repository
	locker         locking.Locker
	authz          authorization.Authorizer
	scheduling     *config.SchedulingConfigHolder
	metrics        *metrics.Metrics
	lockMetrics    *metrics.LockMetrics
}

func New(p Params) reservationdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("reservation.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		instruments:    p.Instruments,
		instrumentRepo: p.InstrumentRepo,
		orderLines:     p.OrderLines,
		pricing:        p.Pricing,
		policyRepo:     p.PolicyRepo,
		locker:         p.Locker,
		authz:          p.Authz,
		scheduling:     p.Scheduling,
		metrics:        p.Metrics,
		lockMetrics:    p.LockMetrics,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*reservationdomain.Reservation, error) {
	reservation, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, reservationdomain.ErrNotFound
	}
	return reservation, nil
}

// Schedule books a new window. Operators may book in the past; a past
// window booked by an operator is completed on the spot with actuals
// taken from the planned window.
func (s *Service) Schedule(ctx context.Context, req reservationdomain.ScheduleRequest) (*reservationdomain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.Schedule")
	defer span.End()

	created, err := s.schedule(ctx, req)
	s.record(ctx, "schedule", err)
	return created, err
}

func (s *Service) schedule(ctx context.Context, req reservationdomain.ScheduleRequest) (*reservationdomain.Reservation, error) {
	if !req.Caller.Valid() {
		return nil, authorization.ErrInvalidCaller
	}
	instrument, err := s.instruments.Get(ctx, req.InstrumentID)
	if err != nil {
		return nil, err
	}
	line, err := s.orderLine(ctx, s.db, req.OrderLineID)
	if err != nil {
		return nil, err
	}
	if line.ProductID != instrument.ProductID {
		return nil, reservationdomain.ErrProductMismatch
	}

	window := availability.NewWindow(req.Start, req.End)
	if window.Valid() {
		if err := s.pricing.ValidateBookingWindow(ctx, req.Caller, line.PriceGroupID, instrument.ProductID, window.Start); err != nil {
			return nil, err
		}
	}
	rules, err := s.instruments.Rules(ctx, instrument.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	allowPast := s.authz.Can(req.Caller, authorization.ObjectReservation, authorization.ActionBackdate)
	autocomplete := allowPast && window.Valid() && !window.End.After(now)

	var created *reservationdomain.Reservation
	err = s.locker.WithLock(ctx, locking.InstrumentKey(instrument.ID), func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			taken, err := s.repo.FindActiveByOrderLine(ctx, tx, line.ID)
			if err != nil {
				return err
			}
			if taken != nil {
				return reservationdomain.ErrOrderLineReserved
			}

			decision, err := s.check(ctx, tx, *instrument, rules, window, 0, now, allowPast)
			if err != nil {
				return err
			}
			if err := decision.Err(); err != nil {
				return err
			}

			policy, err := s.resolvePolicy(ctx, tx, line, window.Start)
			if err != nil {
				return err
			}
			if policy != nil && !policy.CanPurchase {
				return reservationdomain.ErrCannotPurchase
			}

			reservation := &reservationdomain.Reservation{
				ID:             s.genID.Generate(),
				InstrumentID:   instrument.ID,
				OrderLineID:    line.ID,
				ReserveStartAt: window.Start,
				ReserveEndAt:   window.End,
				Status:         reservationdomain.StatusScheduled,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if autocomplete {
				start, end := window.Start, window.End
				reservation.ActualStartAt = &start
				reservation.ActualEndAt = &end
				reservation.Status = reservationdomain.StatusCompleted
			}
			if err := s.repo.Insert(ctx, tx, reservation); err != nil {
				return dbpkg.Classify(err)
			}

			costs := costsFor(policy, window)
			if err := s.orderLines.RecordEstimate(ctx, tx, line.ID, costs, now); err != nil {
				return err
			}
			if autocomplete {
				fulfilled := window.End
				if err := s.orderLines.RecordActual(ctx, tx, line.ID, costs, orderlinedomain.StateComplete, &fulfilled, now); err != nil {
					return err
				}
			}
			created = reservation
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reservation scheduled",
		zap.String("reservation_id", created.ID.String()),
		zap.String("instrument_id", created.InstrumentID.String()),
		zap.Time("reserve_start_at", created.ReserveStartAt),
		zap.Time("reserve_end_at", created.ReserveEndAt),
		zap.Bool("autocomplete", autocomplete),
	)
	return created, nil
}

// Update moves a reservation to an explicit window and re-prices it.
// Started reservations can only be corrected by privileged callers; the
// correction re-runs both the estimate and the actual pricing.
func (s *Service) Update(ctx context.Context, req reservationdomain.UpdateRequest) (*reservationdomain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.Update")
	defer span.End()

	updated, err := s.update(ctx, req)
	s.record(ctx, "update", err)
	return updated, err
}

func (s *Service) update(ctx context.Context, req reservationdomain.UpdateRequest) (*reservationdomain.Reservation, error) {
	if !req.Caller.Valid() {
		return nil, authorization.ErrInvalidCaller
	}
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if current.Canceled() {
		return nil, reservationdomain.ErrCanceled
	}
	canCorrect := s.authz.Can(req.Caller, authorization.ObjectReservation, authorization.ActionEditStarted)
	if current.Started() && !canCorrect {
		return nil, reservationdomain.ErrStarted
	}
	if (req.ActualStart != nil || req.ActualEnd != nil) && !canCorrect {
		return nil, authorization.ErrForbidden
	}

	instrument, err := s.instruments.Get(ctx, current.InstrumentID)
	if err != nil {
		return nil, err
	}
	line, err := s.orderLine(ctx, s.db, current.OrderLineID)
	if err != nil {
		return nil, err
	}
	window := availability.NewWindow(req.Start, req.End)
	if !current.Started() && window.Valid() {
		if err := s.pricing.ValidateBookingWindow(ctx, req.Caller, line.PriceGroupID, instrument.ProductID, window.Start); err != nil {
			return nil, err
		}
	}
	rules, err := s.instruments.Rules(ctx, instrument.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	allowPast := current.Started() || s.authz.Can(req.Caller, authorization.ObjectReservation, authorization.ActionBackdate)

	var updated *reservationdomain.Reservation
	err = s.locker.WithLock(ctx, locking.InstrumentKey(instrument.ID), func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			fresh, err := s.repo.FindByID(ctx, tx, current.ID)
			if err != nil {
				return err
			}
			if fresh == nil {
				return reservationdomain.ErrNotFound
			}
			if fresh.LockVersion != current.LockVersion {
				return reservationdomain.ErrStaleReservation
			}

			next := *fresh
			next.ReserveStartAt = window.Start
			next.ReserveEndAt = window.End
			if req.ActualStart != nil {
				at := req.ActualStart.UTC()
				next.ActualStartAt = &at
			}
			if req.ActualEnd != nil {
				at := req.ActualEnd.UTC()
				next.ActualEndAt = &at
			}
			if err := validateActuals(next); err != nil {
				return err
			}
			next.Status = statusOf(next)
			next.UpdatedAt = now

			decision, err := s.check(ctx, tx, *instrument, rules, window, next.ID, now, allowPast)
			if err != nil {
				return err
			}
			if err := decision.Err(); err != nil {
				return err
			}

			rows, err := s.repo.UpdateWindow(ctx, tx, &next, current.LockVersion)
			if err != nil {
				return dbpkg.Classify(err)
			}
			if rows == 0 {
				return reservationdomain.ErrStaleReservation
			}
			next.LockVersion++

			if err := s.reprice(ctx, tx, line, next, now); err != nil {
				return err
			}
			updated = &next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reservation updated",
		zap.String("reservation_id", updated.ID.String()),
		zap.Time("reserve_start_at", updated.ReserveStartAt),
		zap.Bool("correction", current.Started()),
	)
	return updated, nil
}

// MoveToEarliest relocates the reservation to the earliest open window.
// Moved is false when the current window is already the earliest.
func (s *Service) MoveToEarliest(ctx context.Context, caller authorization.Caller, id snowflake.ID) (*reservationdomain.MoveResult, error) {
	ctx, span := tracer.Start(ctx, "reservation.MoveToEarliest")
	defer span.End()

	result, err := s.moveToEarliest(ctx, caller, id)
	s.record(ctx, "move_to_earliest", err)
	return result, err
}

func (s *Service) moveToEarliest(ctx context.Context, caller authorization.Caller, id snowflake.ID) (*reservationdomain.MoveResult, error) {
	if !caller.Valid() {
		return nil, authorization.ErrInvalidCaller
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Canceled() {
		return nil, reservationdomain.ErrCanceled
	}
	if current.Started() {
		return &reservationdomain.MoveResult{Reservation: *current}, nil
	}

	instrument, err := s.instruments.Get(ctx, current.InstrumentID)
	if err != nil {
		return nil, err
	}
	line, err := s.orderLine(ctx, s.db, current.OrderLineID)
	if err != nil {
		return nil, err
	}
	rules, err := s.instruments.Rules(ctx, instrument.ID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var result *reservationdomain.MoveResult
	err = s.locker.WithLock(ctx, locking.InstrumentKey(instrument.ID), func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			fresh, err := s.repo.FindByID(ctx, tx, current.ID)
			if err != nil {
				return err
			}
			if fresh == nil {
				return reservationdomain.ErrNotFound
			}
			if fresh.LockVersion != current.LockVersion {
				return reservationdomain.ErrStaleReservation
			}

			req, err := s.availabilityRequest(ctx, tx, *instrument, rules, fresh.Window(), fresh.ID, now)
			if err != nil {
				return err
			}
			req.ActualStart = fresh.ActualStartAt
			target := s.resolver().EarliestPossible(req)
			if target == nil {
				result = &reservationdomain.MoveResult{Reservation: *fresh}
				return nil
			}

			next := *fresh
			next.ReserveStartAt = target.Start
			next.ReserveEndAt = target.End
			next.UpdatedAt = now
			rows, err := s.repo.UpdateWindow(ctx, tx, &next, fresh.LockVersion)
			if err != nil {
				return dbpkg.Classify(err)
			}
			if rows == 0 {
				return reservationdomain.ErrStaleReservation
			}
			next.LockVersion++

			if err := s.reprice(ctx, tx, line, next, now); err != nil {
				return err
			}
			result = &reservationdomain.MoveResult{Reservation: next, Moved: true}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Moved {
		s.log.Info("reservation moved to earliest",
			zap.String("reservation_id", result.Reservation.ID.String()),
			zap.Time("from", current.ReserveStartAt),
			zap.Time("to", result.Reservation.ReserveStartAt),
		)
	}
	return result, nil
}

// RecordStart stores the relay "on" (or manual) start. Two writers racing
// on the same reservation cannot both succeed.
func (s *Service) RecordStart(ctx context.Context, req reservationdomain.RecordUsageRequest) (*reservationdomain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.RecordStart")
	defer span.End()

	updated, err := s.recordStart(ctx, req)
	s.record(ctx, "record_start", err)
	return updated, err
}

func (s *Service) recordStart(ctx context.Context, req reservationdomain.RecordUsageRequest) (*reservationdomain.Reservation, error) {
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if current.Canceled() {
		return nil, reservationdomain.ErrCanceled
	}
	if current.Started() {
		return nil, reservationdomain.ErrAlreadyStarted
	}

	now := s.clock.Now()
	at := usageTime(req.At, now)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.RecordStart(ctx, tx, current.ID, current.LockVersion, at, now)
		if err != nil {
			return dbpkg.Classify(err)
		}
		if rows == 0 {
			return reservationdomain.ErrStaleReservation
		}
		return s.instrumentRepo.InsertStatus(ctx, tx, s.statusRow(current, true, req.Source, now))
	})
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.ActualStartAt = &at
	updated.Status = reservationdomain.StatusInProgress
	updated.LockVersion++
	updated.UpdatedAt = now
	return &updated, nil
}

// RecordEnd stores the relay "off" (or manual) end and prices the realized
// usage.
func (s *Service) RecordEnd(ctx context.Context, req reservationdomain.RecordUsageRequest) (*reservationdomain.EndResult, error) {
	ctx, span := tracer.Start(ctx, "reservation.RecordEnd")
	defer span.End()

	result, err := s.recordEnd(ctx, req)
	s.record(ctx, "record_end", err)
	return result, err
}

func (s *Service) recordEnd(ctx context.Context, req reservationdomain.RecordUsageRequest) (*reservationdomain.EndResult, error) {
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if current.Canceled() {
		return nil, reservationdomain.ErrCanceled
	}
	if !current.Started() {
		return nil, reservationdomain.ErrNotStarted
	}
	if current.Ended() {
		return nil, reservationdomain.ErrAlreadyEnded
	}

	now := s.clock.Now()
	at := usageTime(req.At, now)
	if !at.After(*current.ActualStartAt) {
		return nil, reservationdomain.ErrInvalidActualWindow
	}
	line, err := s.orderLine(ctx, s.db, current.OrderLineID)
	if err != nil {
		return nil, err
	}

	usage := availability.Window{Start: current.ActualStartAt.UTC(), End: at}
	var policy *pricepolicydomain.PricePolicy
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.RecordEnd(ctx, tx, current.ID, current.LockVersion, at, now)
		if err != nil {
			return dbpkg.Classify(err)
		}
		if rows == 0 {
			return reservationdomain.ErrStaleReservation
		}

		policy, err = s.resolvePolicy(ctx, tx, line, usage.Start)
		if err != nil {
			return err
		}
		if err := s.orderLines.RecordActual(ctx, tx, line.ID, costsFor(policy, usage), orderlinedomain.StateComplete, &at, now); err != nil {
			return err
		}
		return s.instrumentRepo.InsertStatus(ctx, tx, s.statusRow(current, false, req.Source, now))
	})
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.ActualEndAt = &at
	updated.Status = reservationdomain.StatusCompleted
	updated.LockVersion++
	updated.UpdatedAt = now

	result := &reservationdomain.EndResult{Reservation: updated, Uncosted: policy == nil}
	if policy != nil {
		costs := pricepolicydomain.Calculate(*policy, usage.Start, usage.End)
		result.Costs = &costs
		result.PolicyID = &policy.ID
	} else {
		s.log.Warn("reservation completed without a price policy",
			zap.String("reservation_id", current.ID.String()),
			zap.String("order_line_id", line.ID.String()),
		)
	}
	return result, nil
}

// Cancel is allowed only before usage starts. Cancelling inside the
// instrument's cancellation window charges the policy's cancellation cost.
func (s *Service) Cancel(ctx context.Context, req reservationdomain.CancelRequest) (*reservationdomain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.Cancel")
	defer span.End()

	canceled, err := s.cancel(ctx, req)
	s.record(ctx, "cancel", err)
	return canceled, err
}

func (s *Service) cancel(ctx context.Context, req reservationdomain.CancelRequest) (*reservationdomain.Reservation, error) {
	if !req.Caller.Valid() {
		return nil, authorization.ErrInvalidCaller
	}
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if current.Canceled() {
		return nil, reservationdomain.ErrCanceled
	}
	if current.Started() {
		return nil, reservationdomain.ErrStarted
	}
	instrument, err := s.instruments.Get(ctx, current.InstrumentID)
	if err != nil {
		return nil, err
	}
	line, err := s.orderLine(ctx, s.db, current.OrderLineID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	at := now
	if req.At != nil && s.authz.Can(req.Caller, authorization.ObjectReservation, authorization.ActionBackdate) {
		at = req.At.UTC()
		if at.Before(current.CreatedAt) || at.After(now) {
			return nil, reservationdomain.ErrInvalidCancelTime
		}
	}
	by := req.Caller.UserID

	var fee orderlinedomain.Costs
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.Cancel(ctx, tx, current.ID, current.LockVersion, at, &by, now)
		if err != nil {
			return dbpkg.Classify(err)
		}
		if rows == 0 {
			return reservationdomain.ErrStaleReservation
		}

		policy, err := s.resolvePolicy(ctx, tx, line, current.ReserveStartAt)
		if err != nil {
			return err
		}
		if lateCancellation(*instrument, policy, *current, at) {
			costs := pricepolicydomain.CancellationCosts(*policy)
			fee = orderlinedomain.Costs{PolicyID: &policy.ID, Cost: &costs.CostCents, Subsidy: &costs.SubsidyCents}
		}
		return s.orderLines.MarkCanceled(ctx, tx, line.ID, fee, now)
	})
	if err != nil {
		return nil, err
	}

	canceled := *current
	canceled.CanceledAt = &at
	canceled.CanceledBy = &by
	canceled.Status = reservationdomain.StatusCanceled
	canceled.LockVersion++
	canceled.UpdatedAt = now

	fields := []zap.Field{zap.String("reservation_id", current.ID.String())}
	if fee.Cost != nil {
		fields = append(fields, zap.Int64("cancellation_fee_cents", *fee.Cost))
	}
	s.log.Info("reservation canceled", fields...)
	return &canceled, nil
}

func (s *Service) EarliestPossible(ctx context.Context, id snowflake.ID) (*availability.Window, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Canceled() || current.Started() {
		return nil, nil
	}
	instrument, err := s.instruments.Get(ctx, current.InstrumentID)
	if err != nil {
		return nil, err
	}
	rules, err := s.instruments.Rules(ctx, instrument.ID)
	if err != nil {
		return nil, err
	}
	req, err := s.availabilityRequest(ctx, s.db, *instrument, rules, current.Window(), current.ID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.resolver().EarliestPossible(req), nil
}

func (s *Service) ListProblems(ctx context.Context, instrumentID snowflake.ID) ([]reservationdomain.Reservation, error) {
	now := s.clock.Now()
	pastDue, err := s.repo.ListPastDue(ctx, s.db, instrumentID, now)
	if err != nil {
		return nil, err
	}
	problems := make([]reservationdomain.Reservation, 0)
	for _, r := range pastDue {
		line, err := s.orderLines.FindByID(ctx, s.db, r.OrderLineID)
		if err != nil {
			return nil, err
		}
		if reservationdomain.IsProblem(r, line, now) {
			problems = append(problems, r)
		}
	}
	return problems, nil
}

func (s *Service) BookingWindow(ctx context.Context, caller authorization.Caller, priceGroupID, productID snowflake.ID) (*pricepolicydomain.BookingWindow, error) {
	return s.pricing.BookingWindow(ctx, caller, priceGroupID, productID)
}

func (s *Service) Status(ctx context.Context, instrumentID snowflake.ID) (*instrumentdomain.StatusResponse, error) {
	return s.instruments.CurrentStatus(ctx, instrumentID)
}

func (s *Service) resolver() *availability.Resolver {
	return availability.NewResolver(s.scheduling.Get().SearchHorizon())
}

// availabilityRequest snapshots the instrument's live reservations. Inside
// the instrument lock the snapshot cannot go stale before the write.
func (s *Service) availabilityRequest(ctx context.Context, db *gorm.DB, instrument instrumentdomain.Instrument, rules []instrumentdomain.ScheduleRule, window availability.Window, exclude snowflake.ID, now time.Time) (availability.Request, error) {
	since := now
	if window.Start.Before(since) {
		since = window.Start
	}
	existing, err := s.repo.ListActive(ctx, db, instrument.ID, since)
	if err != nil {
		return availability.Request{}, err
	}
	bookings := make([]availability.Booking, 0, len(existing))
	for _, r := range existing {
		bookings = append(bookings, availability.Booking{ID: r.ID, Window: r.Window()})
	}
	return availability.Request{
		Instrument: instrument,
		Rules:      rules,
		Existing:   bookings,
		Candidate:  window,
		ExcludeID:  exclude,
		Now:        now,
	}, nil
}

func (s *Service) check(ctx context.Context, tx *gorm.DB, instrument instrumentdomain.Instrument, rules []instrumentdomain.ScheduleRule, window availability.Window, exclude snowflake.ID, now time.Time, allowPast bool) (availability.Decision, error) {
	req, err := s.availabilityRequest(ctx, tx, instrument, rules, window, exclude, now)
	if err != nil {
		return availability.Decision{}, err
	}
	req.AllowPast = allowPast
	return s.resolver().Check(req), nil
}

func (s *Service) resolvePolicy(ctx context.Context, tx *gorm.DB, line *orderlinedomain.OrderLine, at time.Time) (*pricepolicydomain.PricePolicy, error) {
	policy, err := s.policyRepo.FindCovering(ctx, tx, line.ProductID, line.PriceGroupID, pricepolicydomain.DateOf(at))
	if err != nil {
		return nil, err
	}
	if policy == nil {
		s.metrics.RecordPolicyResolution(ctx, "uncosted")
		return nil, nil
	}
	s.metrics.RecordPolicyResolution(ctx, "resolved")
	return policy, nil
}

// reprice recomputes the estimate from the planned window and, once usage
// is known, the actual cost from the realized window.
func (s *Service) reprice(ctx context.Context, tx *gorm.DB, line *orderlinedomain.OrderLine, r reservationdomain.Reservation, now time.Time) error {
	planned := r.Window()
	policy, err := s.resolvePolicy(ctx, tx, line, planned.Start)
	if err != nil {
		return err
	}
	if err := s.orderLines.RecordEstimate(ctx, tx, line.ID, costsFor(policy, planned), now); err != nil {
		return err
	}

	usage, ok := r.ActualWindow()
	if !ok {
		return nil
	}
	actualPolicy, err := s.resolvePolicy(ctx, tx, line, usage.Start)
	if err != nil {
		return err
	}
	fulfilled := usage.End
	return s.orderLines.RecordActual(ctx, tx, line.ID, costsFor(actualPolicy, usage), orderlinedomain.StateComplete, &fulfilled, now)
}

func (s *Service) orderLine(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderlinedomain.OrderLine, error) {
	line, err := s.orderLines.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, reservationdomain.ErrOrderLineNotFound
	}
	return line, nil
}

func (s *Service) statusRow(r *reservationdomain.Reservation, on bool, source instrumentdomain.StatusSource, now time.Time) *instrumentdomain.InstrumentStatus {
	if source == "" {
		source = instrumentdomain.StatusSourceRelay
	}
	id := r.ID
	return &instrumentdomain.InstrumentStatus{
		ID:            s.genID.Generate(),
		InstrumentID:  r.InstrumentID,
		ReservationID: &id,
		IsOn:          on,
		Source:        source,
		CreatedAt:     now,
	}
}

func (s *Service) record(ctx context.Context, transition string, err error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("reservation.transition", transition))
	if err == nil {
		s.metrics.RecordReservationTransition(ctx, transition, "ok")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, apperror.CodeOf(err))

	reason := metrics.ClassifyReason(err)
	s.metrics.RecordReservationTransition(ctx, transition, reason)
	if transition == "schedule" && apperror.KindOf(err) != "" {
		s.lockMetrics.IncBookingRejected(reason)
	}
	if apperror.IsState(err) {
		s.log.Warn("reservation transition rejected",
			zap.String("transition", transition),
			zap.Error(err),
		)
	}
}

func costsFor(policy *pricepolicydomain.PricePolicy, w availability.Window) orderlinedomain.Costs {
	if policy == nil {
		return orderlinedomain.Costs{}
	}
	costs := pricepolicydomain.Calculate(*policy, w.Start, w.End)
	id := policy.ID
	return orderlinedomain.Costs{PolicyID: &id, Cost: &costs.CostCents, Subsidy: &costs.SubsidyCents}
}

func lateCancellation(instrument instrumentdomain.Instrument, policy *pricepolicydomain.PricePolicy, r reservationdomain.Reservation, at time.Time) bool {
	if policy == nil || policy.CancellationCostCents <= 0 || instrument.MinCancelHours <= 0 {
		return false
	}
	return at.After(r.ReserveStartAt.Add(-instrument.CancelWindow()))
}

func validateActuals(r reservationdomain.Reservation) error {
	if r.ActualEndAt != nil && r.ActualStartAt == nil {
		return reservationdomain.ErrInvalidActualWindow
	}
	if r.ActualStartAt != nil && r.ActualEndAt != nil && !r.ActualEndAt.After(*r.ActualStartAt) {
		return reservationdomain.ErrInvalidActualWindow
	}
	return nil
}

func statusOf(r reservationdomain.Reservation) reservationdomain.Status {
	switch {
	case r.Canceled():
		return reservationdomain.StatusCanceled
	case r.Ended():
		return reservationdomain.StatusCompleted
	case r.Started():
		return reservationdomain.StatusInProgress
	default:
		return reservationdomain.StatusScheduled
	}
}

func usageTime(at, now time.Time) time.Time {
	if at.IsZero() {
		return now.UTC()
	}
	return at.UTC()
}
