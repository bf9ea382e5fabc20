package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/internal/availability"
	"github.com/smallbiznis/facilitycore/internal/config"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	pricepolicydomain "github.com/smallbiznis/facilitycore/internal/pricepolicy/domain"
	reservationdomain "github.com/smallbiznis/facilitycore/internal/reservation/domain"
	splitdomain "github.com/smallbiznis/facilitycore/internal/split/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReservationService struct {
	reservationdomain.Service

	scheduled   []reservationdomain.ScheduleRequest
	scheduleErr error
	getErr      error
	startErr    error
	started     []reservationdomain.RecordUsageRequest
	cancelErr   error
	updateErr   error
}

func (f *fakeReservationService) Schedule(ctx context.Context, req reservationdomain.ScheduleRequest) (*reservationdomain.Reservation, error) {
	f.scheduled = append(f.scheduled, req)
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return &reservationdomain.Reservation{ID: 900, InstrumentID: req.InstrumentID}, nil
}

func (f *fakeReservationService) Get(ctx context.Context, id snowflake.ID) (*reservationdomain.Reservation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &reservationdomain.Reservation{ID: id}, nil
}

func (f *fakeReservationService) Update(ctx context.Context, req reservationdomain.UpdateRequest) (*reservationdomain.Reservation, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &reservationdomain.Reservation{ID: req.ID}, nil
}

func (f *fakeReservationService) RecordStart(ctx context.Context, req reservationdomain.RecordUsageRequest) (*reservationdomain.Reservation, error) {
	f.started = append(f.started, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &reservationdomain.Reservation{ID: req.ID}, nil
}

func (f *fakeReservationService) Cancel(ctx context.Context, req reservationdomain.CancelRequest) (*reservationdomain.Reservation, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &reservationdomain.Reservation{ID: req.ID}, nil
}

func (f *fakeReservationService) Status(ctx context.Context, instrumentID snowflake.ID) (*instrumentdomain.StatusResponse, error) {
	return &instrumentdomain.StatusResponse{InstrumentID: instrumentID.String(), IsOn: true, Known: true}, nil
}

type fakeInstrumentService struct {
	instrumentdomain.Service
}

func (f *fakeInstrumentService) Get(ctx context.Context, id snowflake.ID) (*instrumentdomain.Instrument, error) {
	if id != 42 {
		return nil, instrumentdomain.ErrNotFound
	}
	return &instrumentdomain.Instrument{ID: id, Name: "Confocal"}, nil
}

func (f *fakeInstrumentService) Rules(ctx context.Context, id snowflake.ID) ([]instrumentdomain.ScheduleRule, error) {
	return []instrumentdomain.ScheduleRule{{InstrumentID: id, DayOfWeek: 1, StartHour: 9, EndHour: 17}}, nil
}

type mockPricePolicyService struct {
	pricepolicydomain.Service
	mock.Mock
}

func (m *mockPricePolicyService) Resolve(ctx context.Context, productID, priceGroupID snowflake.ID, date time.Time) (*pricepolicydomain.PricePolicy, error) {
	args := m.Called(ctx, productID, priceGroupID, date)
	policy, _ := args.Get(0).(*pricepolicydomain.PricePolicy)
	return policy, args.Error(1)
}

type fakeSplitService struct {
	splitdomain.Service

	lines []splitdomain.ChargeLine
}

func (f *fakeSplitService) Build(ctx context.Context, lines []splitdomain.ChargeLine) (*splitdomain.JournalBatch, error) {
	f.lines = lines
	return &splitdomain.JournalBatch{
		Reference: "batch",
		Rows: []splitdomain.JournalRow{
			{Account: "1000-01", Amount: 500},
			{Account: "51234", Amount: -500},
		},
	}, nil
}

type testServer struct {
	engine       *gin.Engine
	reservations *fakeReservationService
	policies     *mockPricePolicyService
	splits       *fakeSplitService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	ts := &testServer{
		engine:       NewEngine(zap.NewNop()),
		reservations: &fakeReservationService{},
		policies:     &mockPricePolicyService{},
		splits:       &fakeSplitService{},
	}
	NewServer(Params{
		Engine:        ts.engine,
		Cfg:           config.Config{Environment: "test"},
		Log:           zap.NewNop(),
		Authz:         authz,
		Reservations:  ts.reservations,
		PricePolicies: ts.policies,
		Instruments:   &fakeInstrumentService{},
		Splits:        ts.splits,
	})
	return ts
}

func (ts *testServer) do(method, path, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(headerUserID, "77")
		req.Header.Set(headerRole, role)
		req.Header.Set(headerPriceGroupID, "5")
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresCaller(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/v1/reservations/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Type)
}

func TestScheduleReservation(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/v1/reservations", authorization.RoleGuest, map[string]any{
		"instrument_id":    "10",
		"order_line_id":    "20",
		"reserve_start_at": "2026-03-02T10:00:00Z",
		"reserve_end_at":   "2026-03-02T11:00:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, ts.reservations.scheduled, 1)

	req := ts.reservations.scheduled[0]
	assert.Equal(t, snowflake.ID(77), req.Caller.UserID)
	assert.Equal(t, authorization.RoleGuest, req.Caller.Role)
	assert.Equal(t, snowflake.ID(10), req.InstrumentID)
	assert.Equal(t, snowflake.ID(20), req.OrderLineID)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), req.Start.UTC())
}

func TestScheduleRejectionCarriesSuggestion(t *testing.T) {
	ts := newTestServer(t)
	suggestion := availability.NewWindow(
		time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
	)
	ts.reservations.scheduleErr = availability.Decision{
		Violations: []apperror.Violation{{Field: "window", Code: "overlaps_reservation", Message: "overlaps an existing reservation"}},
		Suggestion: &suggestion,
	}.Err()

	w := ts.do(http.MethodPost, "/api/v1/reservations", authorization.RoleGuest, map[string]any{
		"instrument_id":    "10",
		"order_line_id":    "20",
		"reserve_start_at": "2026-03-02T10:00:00Z",
		"reserve_end_at":   "2026-03-02T11:00:00Z",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	payload := decodeError(t, w)
	assert.Equal(t, "validation_error", payload.Type)
	assert.Equal(t, "window_unavailable", payload.Code)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "overlaps_reservation", payload.Errors[0].Code)
	require.NotNil(t, payload.Suggestion)
	assert.True(t, suggestion.Start.Equal(payload.Suggestion.Start))
}

func TestScheduleRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/v1/reservations", authorization.RoleGuest, map[string]any{
		"instrument_id": 10,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.reservations.scheduled)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fakeReservationService)
		method string
		path   string
		body   any
		status int
		typ    string
	}{
		{
			name:   "not found",
			setup:  func(f *fakeReservationService) { f.getErr = reservationdomain.ErrNotFound },
			method: http.MethodGet,
			path:   "/api/v1/reservations/5",
			status: http.StatusNotFound,
			typ:    "not_found",
		},
		{
			name:   "stale write",
			setup:  func(f *fakeReservationService) { f.startErr = reservationdomain.ErrStaleReservation },
			method: http.MethodPost,
			path:   "/api/v1/reservations/5/start",
			status: http.StatusConflict,
			typ:    "conflict",
		},
		{
			name:   "wrong state",
			setup:  func(f *fakeReservationService) { f.cancelErr = reservationdomain.ErrCanceled },
			method: http.MethodPost,
			path:   "/api/v1/reservations/5/cancel",
			status: http.StatusConflict,
			typ:    "invalid_state",
		},
		{
			name:   "forbidden correction",
			setup:  func(f *fakeReservationService) { f.updateErr = authorization.ErrForbidden },
			method: http.MethodPatch,
			path:   "/api/v1/reservations/5",
			body: map[string]any{
				"reserve_start_at": "2026-03-02T10:00:00Z",
				"reserve_end_at":   "2026-03-02T11:00:00Z",
			},
			status: http.StatusForbidden,
			typ:    "forbidden",
		},
		{
			name:   "bad id",
			setup:  func(f *fakeReservationService) {},
			method: http.MethodGet,
			path:   "/api/v1/reservations/abc",
			status: http.StatusBadRequest,
			typ:    "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			tt.setup(ts.reservations)
			w := ts.do(tt.method, tt.path, authorization.RoleStaff, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.typ, decodeError(t, w).Type)
		})
	}
}

func TestStartDefaultsToRelaySource(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/v1/reservations/5/start", authorization.RoleStaff, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.reservations.started, 1)
	assert.Equal(t, instrumentdomain.StatusSourceRelay, ts.reservations.started[0].Source)
	assert.True(t, ts.reservations.started[0].At.IsZero())

	w = ts.do(http.MethodPost, "/api/v1/reservations/5/start", authorization.RoleStaff, map[string]any{"source": "telepathy"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInstrumentStatus(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/v1/instruments/42/status", authorization.RoleGuest, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data instrumentdomain.StatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.Data.InstrumentID)
	assert.True(t, resp.Data.IsOn)
}

func TestGetInstrument(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/v1/instruments/42", authorization.RoleGuest, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Instrument instrumentdomain.Instrument     `json:"instrument"`
			Rules      []instrumentdomain.ScheduleRule `json:"schedule_rules"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Confocal", resp.Data.Instrument.Name)
	assert.Len(t, resp.Data.Rules, 1)

	w = ts.do(http.MethodGet, "/api/v1/instruments/43", authorization.RoleGuest, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolvePricePolicyFallsBackToCallerGroup(t *testing.T) {
	ts := newTestServer(t)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ts.policies.On("Resolve", mock.Anything, snowflake.ID(9), snowflake.ID(5), date).
		Return(&pricepolicydomain.PricePolicy{ID: 3, UsageRateCents: 6000, CanPurchase: true}, nil).Once()

	w := ts.do(http.MethodGet, "/api/v1/price-policies/resolve?product_id=9&date=2026-03-02", authorization.RoleGuest, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data pricepolicydomain.PricePolicy `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(6000), resp.Data.UsageRateCents)

	w = ts.do(http.MethodGet, "/api/v1/price-policies/resolve?product_id=9", authorization.RoleGuest, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.policies.AssertExpectations(t)
}

func TestResolvePricePolicyUncosted(t *testing.T) {
	ts := newTestServer(t)
	ts.policies.On("Resolve", mock.Anything, snowflake.ID(9), snowflake.ID(6), mock.Anything).
		Return(nil, nil).Once()

	w := ts.do(http.MethodGet, "/api/v1/price-policies/resolve?product_id=9&price_group_id=6&date=2026-03-02", authorization.RoleGuest, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":null}`, w.Body.String())
	ts.policies.AssertExpectations(t)
}

func TestReplaceSplitsRequiresManager(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPut, "/api/v1/accounts/1/splits", authorization.RoleStaff, map[string]any{
		"splits": []map[string]any{},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPreviewJournal(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/v1/journal/preview", authorization.RoleStaff, map[string]any{
		"lines": []map[string]any{{
			"order_line_id":   "20",
			"account_id":      "1",
			"account_number":  "1000",
			"revenue_account": "51234",
			"cost_cents":      600,
			"subsidy_cents":   100,
		}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.splits.lines, 1)
	assert.Equal(t, int64(500), ts.splits.lines[0].Total())

	var resp struct {
		Data splitdomain.JournalBatch `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Rows, 2)
	assert.Zero(t, resp.Data.Sum())
}
