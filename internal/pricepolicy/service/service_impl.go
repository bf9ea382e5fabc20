package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/internal/clock"
	"github.com/smallbiznis/facilitycore/internal/config"
	"github.com/smallbiznis/facilitycore/internal/locking"
	"github.com/smallbiznis/facilitycore/internal/observability/metrics"
	orderlinedomain "github.com/smallbiznis/facilitycore/internal/orderline/domain"
	pricepolicydomain "github.com/smallbiznis/facilitycore/internal/pricepolicy/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"github.com/smallbiznis/facilitycore/pkg/db/option"
	"github.com/smallbiznis/facilitycore/pkg/repository"
	"github.com/smallbiznis/facilitycore/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          pricepolicydomain.Repository
	PriceGroups   repository.Repository[pricepolicydomain.PriceGroup]
	GroupProducts repository.Repository[pricepolicydomain.PriceGroupProduct]
	OrderLines    orderlinedomain.Repository
	Locker        locking.Locker
	Authz         authorization.Authorizer
	Scheduling    *config.SchedulingConfigHolder
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          pricepolicydomain.Repository
	priceGroups   repository.Repository[pricepolicydomain.PriceGroup]
	groupProducts repository.Repository[pricepolicydomain.PriceGroupProduct]
	orderLines    orderlinedomain.Repository
	locker        locking.Locker
	authz         authorization.Authorizer
	scheduling    *config.SchedulingConfigHolder
	metrics       *metrics.Metrics
}

func New(p Params) pricepolicydomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("pricepolicy.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		priceGroups:   p.PriceGroups,
		groupProducts: p.GroupProducts,
		orderLines:    p.OrderLines,
		locker:        p.Locker,
		authz:         p.Authz,
		scheduling:    p.Scheduling,
		metrics:       p.Metrics,
	}
}

var priceGroupSort = option.WithQuerySortBy("display_order", "asc", map[string]bool{
	"display_order": true,
	"id":            true,
})

func (s *Service) Resolve(ctx context.Context, productID, priceGroupID snowflake.ID, date time.Time) (*pricepolicydomain.PricePolicy, error) {
	policy, err := s.repo.FindCovering(ctx, s.db, productID, priceGroupID, pricepolicydomain.DateOf(date))
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

func (s *Service) Price(ctx context.Context, productID, priceGroupID snowflake.ID, start, end time.Time) (*pricepolicydomain.Priced, error) {
	policy, err := s.Resolve(ctx, productID, priceGroupID, start)
	if err != nil || policy == nil {
		return nil, err
	}
	return &pricepolicydomain.Priced{
		Policy: *policy,
		Costs:  pricepolicydomain.Calculate(*policy, start, end),
	}, nil
}

func (s *Service) GenerateExpireDate(start time.Time) time.Time {
	return pricepolicydomain.FiscalYearEnd(start, s.scheduling.Get().FiscalYearStart())
}

func (s *Service) NewPolicyDefaults(ctx context.Context, facilityID, productID snowflake.ID) (*pricepolicydomain.PolicyDefaults, error) {
	today := pricepolicydomain.DateOf(s.clock.Now())
	active, err := s.repo.CountCovering(ctx, s.db, productID, today)
	if err != nil {
		return nil, err
	}
	start := today
	if active > 0 {
		start = today.AddDate(0, 0, 1)
	}
	expire := s.GenerateExpireDate(start)

	groups, err := s.listGroups(ctx, s.db, facilityID)
	if err != nil {
		return nil, err
	}
	policies := make([]pricepolicydomain.PricePolicy, 0, len(groups))
	for _, g := range groups {
		policies = append(policies, pricepolicydomain.PricePolicy{
			ProductID:    productID,
			PriceGroupID: g.ID,
			StartDate:    start,
			ExpireDate:   expire,
			CanPurchase:  true,
		})
	}
	return &pricepolicydomain.PolicyDefaults{StartDate: start, ExpireDate: expire, Policies: policies}, nil
}

func (s *Service) Create(ctx context.Context, req pricepolicydomain.CreateRequest) ([]pricepolicydomain.PricePolicy, error) {
	if err := s.authz.Authorize(req.Caller, authorization.ObjectPricePolicy, authorization.ActionManage); err != nil {
		return nil, err
	}
	if err := validation.Struct(req, pricepolicydomain.ErrInvalidRequest); err != nil {
		return nil, err
	}
	if req.StartDate.IsZero() {
		return nil, pricepolicydomain.ErrInvalidStartDate
	}
	start := pricepolicydomain.DateOf(req.StartDate)
	expire, explicit, err := s.expireFor(start, req.ExpireDate)
	if err != nil {
		return nil, err
	}

	groups, err := s.listGroups(ctx, s.db, req.FacilityID)
	if err != nil {
		return nil, err
	}
	params, err := paramsByGroup(groups, req.Groups)
	if err != nil {
		return nil, err
	}

	var created []pricepolicydomain.PricePolicy
	err = locking.WithLocks(ctx, s.locker, pairKeys(req.ProductID, groups), func(ctx context.Context) error {
		created = created[:0]
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			for _, g := range groups {
				others, err := s.repo.ListForPair(ctx, tx, req.ProductID, g.ID)
				if err != nil {
					return err
				}
				groupExpire, err := s.placeInPair(ctx, tx, others, start, expire, explicit, now)
				if err != nil {
					return err
				}
				policy := newPolicy(s.genID.Generate(), req.ProductID, g.ID, start, groupExpire, params[g.ID], now)
				if err := s.repo.Insert(ctx, tx, &policy); err != nil {
					return err
				}
				created = append(created, policy)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("price policies created",
		zap.String("product_id", req.ProductID.String()),
		zap.Time("start_date", start),
		zap.Int("count", len(created)),
	)
	return created, nil
}

func (s *Service) Update(ctx context.Context, req pricepolicydomain.UpdateRequest) ([]pricepolicydomain.PricePolicy, error) {
	if err := s.authz.Authorize(req.Caller, authorization.ObjectPricePolicy, authorization.ActionManage); err != nil {
		return nil, err
	}
	if err := validation.Struct(req, pricepolicydomain.ErrInvalidRequest); err != nil {
		return nil, err
	}
	if req.CurrentStartDate.IsZero() {
		return nil, pricepolicydomain.ErrInvalidStartDate
	}
	current := pricepolicydomain.DateOf(req.CurrentStartDate)
	start := current
	if req.StartDate != nil {
		start = pricepolicydomain.DateOf(*req.StartDate)
	}
	expire, explicit, err := s.expireFor(start, req.ExpireDate)
	if err != nil {
		return nil, err
	}

	groups, err := s.listGroups(ctx, s.db, req.FacilityID)
	if err != nil {
		return nil, err
	}
	params, err := paramsByGroup(groups, req.Groups)
	if err != nil {
		return nil, err
	}

	var updated []pricepolicydomain.PricePolicy
	err = locking.WithLocks(ctx, s.locker, pairKeys(req.ProductID, groups), func(ctx context.Context) error {
		updated = updated[:0]
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.repo.ListByStartDate(ctx, tx, req.ProductID, current)
			if err != nil {
				return err
			}
			if len(existing) == 0 {
				return pricepolicydomain.ErrNotFound
			}
			if err := s.ensureUnused(ctx, tx, existing); err != nil {
				return err
			}

			byGroup := make(map[snowflake.ID]pricepolicydomain.PricePolicy, len(existing))
			for _, p := range existing {
				byGroup[p.PriceGroupID] = p
			}

			now := s.clock.Now()
			for _, g := range groups {
				pair, err := s.repo.ListForPair(ctx, tx, req.ProductID, g.ID)
				if err != nil {
					return err
				}
				prior, exists := byGroup[g.ID]
				others := withoutPolicy(pair, prior.ID)
				groupExpire, err := s.placeInPair(ctx, tx, others, start, expire, explicit, now)
				if err != nil {
					return err
				}

				if !exists {
					policy := newPolicy(s.genID.Generate(), req.ProductID, g.ID, start, groupExpire, params[g.ID], now)
					if err := s.repo.Insert(ctx, tx, &policy); err != nil {
						return err
					}
					updated = append(updated, policy)
					continue
				}

				policy := prior
				if p, ok := params[g.ID]; ok && p != nil {
					applyParams(&policy, *p)
				}
				policy.StartDate = start
				policy.ExpireDate = groupExpire
				policy.UpdatedAt = now
				if err := s.repo.Update(ctx, tx, &policy); err != nil {
					return err
				}
				updated = append(updated, policy)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("price policies updated",
		zap.String("product_id", req.ProductID.String()),
		zap.Time("start_date", start),
		zap.Int("count", len(updated)),
	)
	return updated, nil
}

func (s *Service) Destroy(ctx context.Context, caller authorization.Caller, productID snowflake.ID, startDate time.Time) error {
	if err := s.authz.Authorize(caller, authorization.ObjectPricePolicy, authorization.ActionManage); err != nil {
		return err
	}
	start := pricepolicydomain.DateOf(startDate)

	existing, err := s.repo.ListByStartDate(ctx, s.db, productID, start)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return pricepolicydomain.ErrNotFound
	}
	keys := make([]string, 0, len(existing))
	for _, p := range existing {
		keys = append(keys, locking.PricePolicyKey(productID, p.PriceGroupID))
	}

	return locking.WithLocks(ctx, s.locker, keys, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			policies, err := s.repo.ListByStartDate(ctx, tx, productID, start)
			if err != nil {
				return err
			}
			if len(policies) == 0 {
				return pricepolicydomain.ErrNotFound
			}
			today := s.clock.Now()
			ids := make([]snowflake.ID, 0, len(policies))
			for _, p := range policies {
				if p.Covers(today) {
					return pricepolicydomain.ErrPolicyActive
				}
				ids = append(ids, p.ID)
			}
			if err := s.ensureUnused(ctx, tx, policies); err != nil {
				return err
			}
			if err := s.repo.Delete(ctx, tx, ids); err != nil {
				return err
			}
			s.log.Info("price policies destroyed",
				zap.String("product_id", productID.String()),
				zap.Time("start_date", start),
				zap.Int("count", len(ids)),
			)
			return nil
		})
	})
}

func (s *Service) CreatePriceGroup(ctx context.Context, req pricepolicydomain.CreatePriceGroupRequest) (*pricepolicydomain.PriceGroup, error) {
	if err := validation.Struct(req, pricepolicydomain.ErrInvalidRequest); err != nil {
		return nil, err
	}
	group := &pricepolicydomain.PriceGroup{
		ID:           s.genID.Generate(),
		FacilityID:   req.FacilityID,
		Name:         strings.TrimSpace(req.Name),
		IsInternal:   req.IsInternal,
		DisplayOrder: req.DisplayOrder,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.priceGroups.Create(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Service) AssignProduct(ctx context.Context, req pricepolicydomain.AssignProductRequest) (*pricepolicydomain.PriceGroupProduct, error) {
	if err := validation.Struct(req, pricepolicydomain.ErrInvalidRequest); err != nil {
		return nil, err
	}
	group, err := s.priceGroups.FindOne(ctx, &pricepolicydomain.PriceGroup{ID: req.PriceGroupID})
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, pricepolicydomain.ErrPriceGroupNotFound
	}
	assignment := &pricepolicydomain.PriceGroupProduct{
		ID:                s.genID.Generate(),
		PriceGroupID:      req.PriceGroupID,
		ProductID:         req.ProductID,
		ReservationWindow: req.ReservationWindow,
		CreatedAt:         s.clock.Now(),
	}
	if err := s.groupProducts.Create(ctx, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

// BookingWindow returns the start dates open to the caller. Operators get a
// symmetric window and bypass the restriction; everyone else books from
// today up to the group's lead time for the product.
func (s *Service) BookingWindow(ctx context.Context, caller authorization.Caller, priceGroupID, productID snowflake.ID) (*pricepolicydomain.BookingWindow, error) {
	cfg := s.scheduling.Get()
	today := pricepolicydomain.DateOf(s.clock.Now())

	if s.authz.Can(caller, authorization.ObjectReservation, authorization.ActionBookOutsideWindow) {
		days := cfg.OperatorWindowDays
		return &pricepolicydomain.BookingWindow{
			MaxWindow:    days,
			MaxDaysAgo:   -days,
			MinDate:      today.AddDate(0, 0, -days),
			MaxDate:      today.AddDate(0, 0, days),
			Unrestricted: true,
		}, nil
	}

	window := cfg.DefaultReservationWindow
	if priceGroupID != 0 {
		assignment, err := s.groupProducts.FindOne(ctx, &pricepolicydomain.PriceGroupProduct{
			PriceGroupID: priceGroupID,
			ProductID:    productID,
		})
		if err != nil {
			return nil, err
		}
		if assignment != nil && assignment.ReservationWindow > 0 {
			window = assignment.ReservationWindow
		}
	}
	return &pricepolicydomain.BookingWindow{
		MaxWindow:  window,
		MaxDaysAgo: 0,
		MinDate:    today,
		MaxDate:    today.AddDate(0, 0, window),
	}, nil
}

func (s *Service) ValidateBookingWindow(ctx context.Context, caller authorization.Caller, priceGroupID, productID snowflake.ID, start time.Time) error {
	window, err := s.BookingWindow(ctx, caller, priceGroupID, productID)
	if err != nil {
		return err
	}
	if window.Allows(start) {
		return nil
	}
	return pricepolicydomain.ErrOutsideBookingWindow.WithViolations(apperror.Violation{
		Field: "start",
		Code:  pricepolicydomain.ErrOutsideBookingWindow.Code,
		Message: fmt.Sprintf("reservations may start between %s and %s",
			window.MinDate.Format(time.DateOnly), window.MaxDate.Format(time.DateOnly)),
	})
}

// expireFor validates an explicit expire date or defaults it to the end of
// the fiscal year containing start.
func (s *Service) expireFor(start time.Time, explicit *time.Time) (time.Time, bool, error) {
	fiscalEnd := s.GenerateExpireDate(start)
	if explicit == nil || explicit.IsZero() {
		return fiscalEnd, false, nil
	}
	expire := pricepolicydomain.DateOf(*explicit)
	if expire.Before(start) {
		return time.Time{}, false, pricepolicydomain.ErrExpireBeforeStart
	}
	if expire.After(fiscalEnd) {
		return time.Time{}, false, pricepolicydomain.ErrExpireAfterFiscalYear
	}
	return expire, true, nil
}

// placeInPair makes room for [start, expire] among a pair's other policies.
// An earlier policy containing start is truncated to the day before; a
// later policy clamps a defaulted expire and rejects an explicit one.
func (s *Service) placeInPair(ctx context.Context, tx *gorm.DB, others []pricepolicydomain.PricePolicy, start, expire time.Time, explicit bool, now time.Time) (time.Time, error) {
	for _, other := range others {
		otherStart := pricepolicydomain.DateOf(other.StartDate)
		otherExpire := pricepolicydomain.DateOf(other.ExpireDate)
		switch {
		case otherStart.Equal(start):
			return time.Time{}, pricepolicydomain.ErrDuplicateStartDate
		case otherStart.Before(start) && !otherExpire.Before(start):
			used, err := s.orderLines.CountFulfilledOnOrAfter(ctx, tx, []snowflake.ID{other.ID}, start)
			if err != nil {
				return time.Time{}, err
			}
			if used > 0 {
				return time.Time{}, pricepolicydomain.ErrPolicyInUse
			}
			if err := s.repo.UpdateExpireDate(ctx, tx, other.ID, start.AddDate(0, 0, -1), now); err != nil {
				return time.Time{}, err
			}
		case otherStart.After(start) && !otherStart.After(expire):
			if explicit {
				return time.Time{}, pricepolicydomain.ErrOverlapsLaterPolicy
			}
			expire = otherStart.AddDate(0, 0, -1)
		}
	}
	return expire, nil
}

func (s *Service) ensureUnused(ctx context.Context, tx *gorm.DB, policies []pricepolicydomain.PricePolicy) error {
	ids := make([]snowflake.ID, 0, len(policies))
	for _, p := range policies {
		ids = append(ids, p.ID)
	}
	used, err := s.orderLines.CountPricedWith(ctx, tx, ids)
	if err != nil {
		return err
	}
	if used > 0 {
		return pricepolicydomain.ErrPolicyInUse
	}
	return nil
}

func (s *Service) listGroups(ctx context.Context, db *gorm.DB, facilityID snowflake.ID) ([]*pricepolicydomain.PriceGroup, error) {
	groups, err := s.priceGroups.WithTrx(db).Find(ctx,
		&pricepolicydomain.PriceGroup{FacilityID: facilityID},
		option.WithSortBy(priceGroupSort),
	)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, pricepolicydomain.ErrNoPriceGroups
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].DisplayOrder != groups[j].DisplayOrder {
			return groups[i].DisplayOrder < groups[j].DisplayOrder
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

func paramsByGroup(groups []*pricepolicydomain.PriceGroup, in []pricepolicydomain.GroupParams) (map[snowflake.ID]*pricepolicydomain.GroupParams, error) {
	known := make(map[snowflake.ID]struct{}, len(groups))
	for _, g := range groups {
		known[g.ID] = struct{}{}
	}
	out := make(map[snowflake.ID]*pricepolicydomain.GroupParams, len(in))
	var v apperror.Violations
	for i := range in {
		p := in[i]
		if _, ok := known[p.PriceGroupID]; !ok {
			v.Add(fmt.Sprintf("groups[%d].price_group_id", i), pricepolicydomain.ErrUnknownPriceGroup.Code, "price group does not belong to the facility")
			continue
		}
		out[p.PriceGroupID] = &p
	}
	if err := v.Err(pricepolicydomain.ErrUnknownPriceGroup); err != nil {
		return nil, err
	}
	return out, nil
}

func pairKeys(productID snowflake.ID, groups []*pricepolicydomain.PriceGroup) []string {
	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		keys = append(keys, locking.PricePolicyKey(productID, g.ID))
	}
	return keys
}

func withoutPolicy(policies []pricepolicydomain.PricePolicy, id snowflake.ID) []pricepolicydomain.PricePolicy {
	out := make([]pricepolicydomain.PricePolicy, 0, len(policies))
	for _, p := range policies {
		if id != 0 && p.ID == id {
			continue
		}
		out = append(out, p)
	}
	return out
}

func newPolicy(id, productID, priceGroupID snowflake.ID, start, expire time.Time, params *pricepolicydomain.GroupParams, now time.Time) pricepolicydomain.PricePolicy {
	policy := pricepolicydomain.PricePolicy{
		ID:           id,
		ProductID:    productID,
		PriceGroupID: priceGroupID,
		StartDate:    start,
		ExpireDate:   expire,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if params != nil {
		applyParams(&policy, *params)
	}
	return policy
}

func applyParams(policy *pricepolicydomain.PricePolicy, p pricepolicydomain.GroupParams) {
	policy.UsageRateCents = p.UsageRateCents
	policy.UsageSubsidyCents = p.UsageSubsidyCents
	policy.MinimumCostCents = p.MinimumCostCents
	policy.CancellationCostCents = p.CancellationCostCents
	policy.CanPurchase = p.CanPurchase
	policy.Note = strings.TrimSpace(p.Note)
}
