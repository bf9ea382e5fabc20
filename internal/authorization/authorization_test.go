package authorization

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthorizer(t *testing.T) Authorizer {
	t.Helper()
	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestRoleCapabilities(t *testing.T) {
	authz := newTestAuthorizer(t)
	node, _ := snowflake.NewNode(1)

	cases := []struct {
		role              string
		bookOutside       bool
		editStarted       bool
		managePricePolicy bool
	}{
		{role: RoleGuest},
		{role: RoleStaff, bookOutside: true},
		{role: RoleSeniorStaff, bookOutside: true, editStarted: true},
		{role: RoleFacilityDirector, bookOutside: true, editStarted: true, managePricePolicy: true},
		{role: RoleAdministrator, bookOutside: true, editStarted: true, managePricePolicy: true},
	}

	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			caller := Caller{UserID: node.Generate(), Role: tc.role}
			assert.Equal(t, tc.bookOutside, authz.Can(caller, ObjectReservation, ActionBookOutsideWindow))
			assert.Equal(t, tc.bookOutside, authz.Can(caller, ObjectReservation, ActionBackdate))
			assert.Equal(t, tc.editStarted, authz.Can(caller, ObjectReservation, ActionEditStarted))
			assert.Equal(t, tc.managePricePolicy, authz.Can(caller, ObjectPricePolicy, ActionManage))
			assert.Equal(t, tc.managePricePolicy, authz.Can(caller, ObjectAccountSplit, ActionManage))
		})
	}
}

func TestAuthorize(t *testing.T) {
	authz := newTestAuthorizer(t)
	node, _ := snowflake.NewNode(1)

	assert.ErrorIs(t, authz.Authorize(Caller{Role: RoleStaff}, ObjectReservation, ActionBackdate), ErrInvalidCaller)
	assert.ErrorIs(t, authz.Authorize(Caller{UserID: node.Generate(), Role: RoleGuest}, ObjectReservation, ActionBackdate), ErrForbidden)
	assert.NoError(t, authz.Authorize(Caller{UserID: node.Generate(), Role: "STAFF"}, ObjectReservation, ActionBackdate))
}
