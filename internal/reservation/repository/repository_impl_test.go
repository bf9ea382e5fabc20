package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	reservationdomain "github.com/smallbiznis/facilitycore/internal/reservation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&reservationdomain.Reservation{}))
	return db
}

func seed(t *testing.T, db *gorm.DB, node *snowflake.Node, instrumentID snowflake.ID, start time.Time, d time.Duration) *reservationdomain.Reservation {
	t.Helper()
	r := &reservationdomain.Reservation{
		ID:             node.Generate(),
		InstrumentID:   instrumentID,
		OrderLineID:    node.Generate(),
		ReserveStartAt: start,
		ReserveEndAt:   start.Add(d),
		Status:         reservationdomain.StatusScheduled,
		CreatedAt:      start.Add(-24 * time.Hour),
		UpdatedAt:      start.Add(-24 * time.Hour),
	}
	require.NoError(t, Provide().Insert(context.Background(), db, r))
	return r
}

func TestRepository_GuardedWritesRejectStaleVersion(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()
	start := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	r := seed(t, db, node, node.Generate(), start, time.Hour)

	moved := *r
	moved.ReserveStartAt = start.Add(time.Hour)
	moved.ReserveEndAt = start.Add(2 * time.Hour)
	rows, err := repo.UpdateWindow(ctx, db, &moved, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = repo.UpdateWindow(ctx, db, &moved, 0)
	require.NoError(t, err)
	assert.Zero(t, rows)

	rows, err = repo.RecordStart(ctx, db, r.ID, 0, start, start)
	require.NoError(t, err)
	assert.Zero(t, rows)

	rows, err = repo.RecordStart(ctx, db, r.ID, 1, start.Add(time.Hour), start)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, err := repo.FindByID(ctx, db, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.LockVersion)
	assert.Equal(t, reservationdomain.StatusInProgress, got.Status)

	// Started reservations cannot be canceled even with a fresh version.
	rows, err = repo.Cancel(ctx, db, r.ID, 2, start, nil, start)
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestRepository_ListActiveSkipsCanceledAndEnded(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()
	instrumentID := node.Generate()
	base := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	past := seed(t, db, node, instrumentID, base, time.Hour)
	live := seed(t, db, node, instrumentID, base.Add(2*time.Hour), time.Hour)
	canceled := seed(t, db, node, instrumentID, base.Add(4*time.Hour), time.Hour)
	seed(t, db, node, node.Generate(), base.Add(2*time.Hour), time.Hour)

	rows, err := repo.Cancel(ctx, db, canceled.ID, 0, base, nil, base)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	active, err := repo.ListActive(ctx, db, instrumentID, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	due, err := repo.ListPastDue(ctx, db, instrumentID, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, past.ID, due[0].ID)
	assert.Equal(t, live.ID, due[1].ID)
}

func TestRepository_FindActiveByOrderLine(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()
	r := seed(t, db, node, node.Generate(), time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), time.Hour)

	found, err := repo.FindActiveByOrderLine(ctx, db, r.OrderLineID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, r.ID, found.ID)

	rows, err := repo.Cancel(ctx, db, r.ID, 0, r.ReserveStartAt, nil, r.ReserveStartAt)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	found, err = repo.FindActiveByOrderLine(ctx, db, r.OrderLineID)
	require.NoError(t, err)
	assert.Nil(t, found)

	missing, err := repo.FindByID(ctx, db, node.Generate())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
