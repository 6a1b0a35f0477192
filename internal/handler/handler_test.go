package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/dto"
	"github.com/prohmpiriya/aievent-booking/internal/worker"
	"github.com/prohmpiriya/aievent-booking/pkg/middleware"
	"github.com/prohmpiriya/aievent-booking/pkg/response"
)

// MockBookingService is a mock implementation of BookingService for testing
type MockBookingService struct {
	CreateBookingFunc      func(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.BookingConfirmation, error)
	CancelBookingFunc      func(ctx context.Context, bookingID, userID string) (*dto.CancelBookingResponse, error)
	GetBookingFunc         func(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)
	ReissueTicketsFunc     func(ctx context.Context, bookingID string) (*dto.ReissueResponse, error)
	ListFailedIssuanceFunc func(ctx context.Context, limit int) ([]*dto.BookingResponse, error)
}

func (m *MockBookingService) CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.BookingConfirmation, error) {
	if m.CreateBookingFunc != nil {
		return m.CreateBookingFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockBookingService) ExecuteBooking(ctx context.Context, userID, eventID string, lines []domain.BookingLine) (*dto.BookingConfirmation, error) {
	return m.CreateBooking(ctx, userID, &dto.CreateBookingRequest{EventID: eventID})
}

func (m *MockBookingService) CancelBooking(ctx context.Context, bookingID, userID string) (*dto.CancelBookingResponse, error) {
	if m.CancelBookingFunc != nil {
		return m.CancelBookingFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockBookingService) GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockBookingService) ReissueTickets(ctx context.Context, bookingID string) (*dto.ReissueResponse, error) {
	if m.ReissueTicketsFunc != nil {
		return m.ReissueTicketsFunc(ctx, bookingID)
	}
	return nil, nil
}

func (m *MockBookingService) ListFailedIssuance(ctx context.Context, limit int) ([]*dto.BookingResponse, error) {
	if m.ListFailedIssuanceFunc != nil {
		return m.ListFailedIssuanceFunc(ctx, limit)
	}
	return nil, nil
}

type stubStats struct{}

func (stubStats) GetStats() *worker.OutboxWorkerStats {
	return &worker.OutboxWorkerStats{IsRunning: true, Published: 3}
}

func setupTestRouter(svc *MockBookingService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	bookings := NewBookingHandler(svc)
	admin := NewAdminHandler(svc, stubStats{})

	v1 := router.Group("/api/v1", middleware.RequireUser())
	v1.POST("/bookings", bookings.CreateBooking)
	v1.GET("/bookings/:id", bookings.GetBooking)
	v1.POST("/bookings/:id/cancel", bookings.CancelBooking)

	ops := v1.Group("/admin", middleware.RequireRole("admin"))
	ops.POST("/bookings/:id/reissue", admin.ReissueTickets)
	ops.GET("/bookings/failed-issuance", admin.ListFailedIssuance)
	ops.GET("/worker", admin.WorkerStatus)

	return router
}

func doRequest(router *gin.Engine, method, path, userID, role string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	if role != "" {
		req.Header.Set(middleware.RoleHeader, role)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *response.ErrorData {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

var validBody = dto.CreateBookingRequest{
	EventID: "event-1",
	Items:   []dto.BookingItemRequest{{TicketTypeID: "vip", Quantity: 2}},
}

func TestCreateBooking_Success(t *testing.T) {
	svc := &MockBookingService{
		CreateBookingFunc: func(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.BookingConfirmation, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, []domain.BookingLine{{TicketTypeID: "vip", Quantity: 2}}, req.Lines())
			balance := decimal.NewFromInt(700)
			return &dto.BookingConfirmation{
				BookingResponse: dto.BookingResponse{ID: "booking-1", Status: "confirmed", TotalAmount: decimal.NewFromInt(300)},
				BalanceAfter:    &balance,
			}, nil
		},
	}

	w := doRequest(setupTestRouter(svc), http.MethodPost, "/api/v1/bookings", "user-1", "", validBody)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool                    `json:"success"`
		Data    dto.BookingConfirmation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "booking-1", resp.Data.ID)
	assert.True(t, resp.Data.BalanceAfter.Equal(decimal.NewFromInt(700)))
}

func TestCreateBooking_RequestValidation(t *testing.T) {
	called := false
	svc := &MockBookingService{
		CreateBookingFunc: func(context.Context, string, *dto.CreateBookingRequest) (*dto.BookingConfirmation, error) {
			called = true
			return nil, nil
		},
	}
	router := setupTestRouter(svc)

	tests := []struct {
		name   string
		userID string
		body   interface{}
		want   int
	}{
		{name: "missing user", body: validBody, want: http.StatusUnauthorized},
		{name: "missing event", userID: "u", body: dto.CreateBookingRequest{Items: validBody.Items}, want: http.StatusBadRequest},
		{name: "no items", userID: "u", body: dto.CreateBookingRequest{EventID: "e"}, want: http.StatusBadRequest},
		{name: "zero quantity", userID: "u", body: dto.CreateBookingRequest{EventID: "e", Items: []dto.BookingItemRequest{{TicketTypeID: "vip"}}}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/v1/bookings", tt.userID, "", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.False(t, called, "invalid requests never reach the service")
}

func TestCreateBooking_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{name: "insufficient funds", err: fmt.Errorf("%w: need 300, have 100", domain.ErrInsufficientFunds), wantCode: http.StatusPaymentRequired, wantKind: "INSUFFICIENT_FUNDS"},
		{name: "sold out", err: fmt.Errorf("%w: vip", domain.ErrInsufficientTickets), wantCode: http.StatusUnprocessableEntity, wantKind: "INVALID_INPUT"},
		{name: "event missing", err: domain.ErrEventNotFound, wantCode: http.StatusNotFound, wantKind: "NOT_FOUND"},
		{name: "inactive user", err: domain.ErrUserInactive, wantCode: http.StatusForbidden, wantKind: "UNAUTHORIZED"},
		{name: "concurrent write", err: domain.ErrConcurrentMutation, wantCode: http.StatusConflict, wantKind: "CONFLICT"},
		{name: "unknown", err: errors.New("connection reset by peer"), wantCode: http.StatusInternalServerError, wantKind: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockBookingService{
				CreateBookingFunc: func(context.Context, string, *dto.CreateBookingRequest) (*dto.BookingConfirmation, error) {
					return nil, tt.err
				},
			}
			w := doRequest(setupTestRouter(svc), http.MethodPost, "/api/v1/bookings", "u", "", validBody)
			assert.Equal(t, tt.wantCode, w.Code)

			e := decodeError(t, w)
			assert.Equal(t, tt.wantKind, e.Code)
			assert.NotContains(t, e.Message, "connection reset", "internal causes stay in the logs")
		})
	}
}

func TestCancelBooking(t *testing.T) {
	svc := &MockBookingService{
		CancelBookingFunc: func(ctx context.Context, bookingID, userID string) (*dto.CancelBookingResponse, error) {
			if bookingID != "booking-1" {
				return nil, domain.ErrBookingNotFound
			}
			return &dto.CancelBookingResponse{BookingID: bookingID, Status: "cancelled", RefundPct: 50, RefundAmount: decimal.NewFromInt(75)}, nil
		},
	}
	router := setupTestRouter(svc)

	w := doRequest(router, http.MethodPost, "/api/v1/bookings/booking-1/cancel", "u", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"refund_percent":50`)

	w = doRequest(router, http.MethodPost, "/api/v1/bookings/other/cancel", "u", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBooking(t *testing.T) {
	svc := &MockBookingService{
		GetBookingFunc: func(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
			return &dto.BookingResponse{ID: bookingID, UserID: userID}, nil
		},
	}
	w := doRequest(setupTestRouter(svc), http.MethodGet, "/api/v1/bookings/b-9", "user-7", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"user-7"`)
}

func TestAdminEndpoints(t *testing.T) {
	svc := &MockBookingService{
		ReissueTicketsFunc: func(ctx context.Context, bookingID string) (*dto.ReissueResponse, error) {
			if bookingID == "issued" {
				return nil, domain.ErrIssuanceNotFailed
			}
			return &dto.ReissueResponse{BookingID: bookingID, IssuanceStatus: "pending"}, nil
		},
		ListFailedIssuanceFunc: func(ctx context.Context, limit int) ([]*dto.BookingResponse, error) {
			assert.Equal(t, 10, limit)
			return []*dto.BookingResponse{{ID: "b1", IssuanceStatus: "failed"}}, nil
		},
	}
	router := setupTestRouter(svc)

	w := doRequest(router, http.MethodPost, "/api/v1/admin/bookings/b1/reissue", "op", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "role is required")

	w = doRequest(router, http.MethodPost, "/api/v1/admin/bookings/b1/reissue", "op", "admin", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/admin/bookings/issued/reissue", "op", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/admin/bookings/failed-issuance?limit=10", "op", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doRequest(router, http.MethodGet, "/api/v1/admin/worker", "op", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"published":3`)
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		checks map[string]HealthChecker
		want   int
	}{
		{name: "all healthy", checks: map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return nil }),
			"redis":    nil,
		}, want: http.StatusOK},
		{name: "database down", checks: map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
		}, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks)
			router := gin.New()
			router.GET("/health", h.Health)
			router.GET("/ready", h.Ready)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, w.Code)

			w = httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
