package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/facilitycore/internal/clock"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"github.com/smallbiznis/facilitycore/internal/instrument/repository"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (instrumentdomain.Service, *snowflake.Node, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&instrumentdomain.Instrument{},
		&instrumentdomain.ScheduleRule{},
		&instrumentdomain.InstrumentStatus{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, node, clk
}

func weekdayRules() []instrumentdomain.RuleInput {
	rules := make([]instrumentdomain.RuleInput, 0, 5)
	for d := 1; d <= 5; d++ {
		rules = append(rules, instrumentdomain.RuleInput{DayOfWeek: d, StartHour: 9, EndHour: 17})
	}
	return rules
}

func TestCreate_PersistsInstrumentAndRules(t *testing.T) {
	svc, node, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, instrumentdomain.CreateRequest{
		FacilityID: node.Generate(),
		ProductID:  node.Generate(),
		Name:       "Confocal Microscope #2",
		TimeZone:   "America/Chicago",
		Rules:      weekdayRules(),
	})
	require.NoError(t, err)
	assert.Equal(t, "confocal-microscope-2", created.URLName)
	assert.Equal(t, 15, created.ReserveIntervalMins)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, "America/Chicago", got.Location().String())

	rules, err := svc.Rules(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, rules, 5)
	assert.Equal(t, 1, rules[0].DayOfWeek)
	assert.Equal(t, 17*60, rules[0].EndMinute())
}

func TestCreate_DeduplicatesURLNamePerFacility(t *testing.T) {
	svc, node, _ := setupService(t)
	ctx := context.Background()
	facilityID := node.Generate()

	first, err := svc.Create(ctx, instrumentdomain.CreateRequest{FacilityID: facilityID, ProductID: node.Generate(), Name: "NMR"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, instrumentdomain.CreateRequest{FacilityID: facilityID, ProductID: node.Generate(), Name: "nmr"})
	require.NoError(t, err)
	other, err := svc.Create(ctx, instrumentdomain.CreateRequest{FacilityID: node.Generate(), ProductID: node.Generate(), Name: "NMR"})
	require.NoError(t, err)

	assert.Equal(t, "nmr", first.URLName)
	assert.Equal(t, "nmr-2", second.URLName)
	assert.Equal(t, "nmr", other.URLName)
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	svc, node, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  instrumentdomain.CreateRequest
		want error
	}{
		{"missing name", instrumentdomain.CreateRequest{FacilityID: node.Generate(), ProductID: node.Generate()}, instrumentdomain.ErrInvalidName},
		{"bad zone", instrumentdomain.CreateRequest{FacilityID: node.Generate(), ProductID: node.Generate(), Name: "x", TimeZone: "Mars/Olympus"}, instrumentdomain.ErrInvalidTimeZone},
		{"bad interval", instrumentdomain.CreateRequest{FacilityID: node.Generate(), ProductID: node.Generate(), Name: "x", ReserveIntervalMins: 7}, instrumentdomain.ErrInvalidReserveInterval},
		{"inverted rule", instrumentdomain.CreateRequest{
			FacilityID: node.Generate(), ProductID: node.Generate(), Name: "x",
			Rules: []instrumentdomain.RuleInput{{DayOfWeek: 1, StartHour: 17, EndHour: 9}},
		}, instrumentdomain.ErrInvalidScheduleRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, apperror.IsValidation(err))
		})
	}
}

func TestCreate_RuleViolationsAreIndexed(t *testing.T) {
	svc, node, _ := setupService(t)
	_, err := svc.Create(context.Background(), instrumentdomain.CreateRequest{
		FacilityID: node.Generate(),
		ProductID:  node.Generate(),
		Name:       "x",
		Rules: []instrumentdomain.RuleInput{
			{DayOfWeek: 1, StartHour: 9, EndHour: 17},
			{DayOfWeek: 9, StartHour: 9, EndHour: 17},
		},
	})
	require.Error(t, err)
	violations := apperror.ViolationsOf(err)
	require.Len(t, violations, 1)
	assert.Equal(t, "rules[1].day_of_week", violations[0].Field)
}

func TestCreate_OneInstrumentPerProduct(t *testing.T) {
	svc, node, _ := setupService(t)
	ctx := context.Background()
	productID := node.Generate()

	_, err := svc.Create(ctx, instrumentdomain.CreateRequest{FacilityID: node.Generate(), ProductID: productID, Name: "a"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, instrumentdomain.CreateRequest{FacilityID: node.Generate(), ProductID: productID, Name: "b"})
	assert.ErrorIs(t, err, instrumentdomain.ErrProductTaken)
}

func TestGet_NotFound(t *testing.T) {
	svc, node, _ := setupService(t)
	_, err := svc.Get(context.Background(), node.Generate())
	assert.ErrorIs(t, err, instrumentdomain.ErrNotFound)
	assert.True(t, apperror.IsNotFound(err))
}

func TestCurrentStatus_ReturnsNewestObservation(t *testing.T) {
	svc, node, clk := setupService(t)
	ctx := context.Background()

	inst, err := svc.Create(ctx, instrumentdomain.CreateRequest{FacilityID: node.Generate(), ProductID: node.Generate(), Name: "laser", RelayEnabled: true})
	require.NoError(t, err)

	status, err := svc.CurrentStatus(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, status.Known)

	_, err = svc.RecordStatus(ctx, instrumentdomain.RecordStatusRequest{InstrumentID: inst.ID, IsOn: true, Source: instrumentdomain.StatusSourceRelay})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = svc.RecordStatus(ctx, instrumentdomain.RecordStatusRequest{InstrumentID: inst.ID, IsOn: false})
	require.NoError(t, err)

	status, err = svc.CurrentStatus(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, status.Known)
	assert.False(t, status.IsOn)
	require.NotNil(t, status.ChangedAt)
	assert.True(t, status.ChangedAt.Equal(clk.Now()))
}
