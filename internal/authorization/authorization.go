package authorization

import (
	_ "embed"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleGuest                 = "guest"
	RoleStaff                 = "staff"
	RoleSeniorStaff           = "senior_staff"
	RoleFacilityDirector      = "facility_director"
	RoleFacilityAdministrator = "facility_administrator"
	RoleAdministrator         = "administrator"

	// roleOperator is the shared parent of every facility staff role.
	roleOperator = "operator"
)

const (
	ObjectReservation  = "reservation"
	ObjectPricePolicy  = "price_policy"
	ObjectAccountSplit = "account_split"
)

const (
	ActionBookOutsideWindow = "book_outside_window"
	ActionBackdate          = "backdate"
	ActionEditStarted       = "edit_started"
	ActionManage            = "manage"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidCaller = errors.New("invalid_caller")
)

// Caller is the pre-authenticated identity acting on the core.
type Caller struct {
	UserID snowflake.ID
	Role   string
}

func (c Caller) Valid() bool {
	return c.UserID != 0 && strings.TrimSpace(c.Role) != ""
}

// Authorizer answers capability questions for a role.
type Authorizer interface {
	Can(caller Caller, object, action string) bool
	Authorize(caller Caller, object, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type Service struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewService(p Params) Authorizer {
	return &Service{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// NewEnforcer builds an enforcer persisted in casbin_rule through gorm.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer builds a seeded enforcer without persistence.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func (s *Service) Can(caller Caller, object, action string) bool {
	role := strings.ToLower(strings.TrimSpace(caller.Role))
	if role == "" {
		return false
	}
	allowed, err := s.enforcer.Enforce(role, object, action)
	if err != nil {
		s.log.Warn("enforce failed",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
			zap.Error(err),
		)
		return false
	}
	return allowed
}

func (s *Service) Authorize(caller Caller, object, action string) error {
	if !caller.Valid() {
		return ErrInvalidCaller
	}
	if !s.Can(caller, object, action) {
		return ErrForbidden
	}
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	groupings := [][]string{
		{RoleStaff, roleOperator},
		{RoleSeniorStaff, RoleStaff},
		{RoleFacilityDirector, RoleSeniorStaff},
		{RoleFacilityAdministrator, RoleFacilityDirector},
		{RoleAdministrator, RoleFacilityAdministrator},
	}
	for _, g := range groupings {
		if _, err := enforcer.AddGroupingPolicy(g); err != nil {
			return err
		}
	}

	policies := [][]string{
		{roleOperator, ObjectReservation, ActionBookOutsideWindow},
		{roleOperator, ObjectReservation, ActionBackdate},
		{RoleSeniorStaff, ObjectReservation, ActionEditStarted},
		{RoleFacilityDirector, ObjectPricePolicy, ActionManage},
		{RoleFacilityDirector, ObjectAccountSplit, ActionManage},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
