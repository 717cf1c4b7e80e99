package orderaction

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/khabusiness/rusbridge-orders/internal/http/middlewarectx"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// MockService реализует интерфейс orderaction.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) ApplyOrderAction(ctx context.Context, actorID int64, actorName, orderID, action, payload string) (*models.Order, error) {
	args := m.Called(ctx, actorID, actorName, orderID, action, payload)
	if res := args.Get(0); res != nil {
		return res.(*models.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestOrderActionHandler(t *testing.T) {
	logger := newNoopLogger()
	const orderID = "RB-20260101120000-AAAA"

	tests := []struct {
		name           string
		body           string
		withAdmin      bool
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:      "оператор берёт заказ в работу",
			body:      `{"action": "claim"}`,
			withAdmin: true,
			setupMock: func(m *MockService) {
				m.On("ApplyOrderAction", mock.Anything, int64(1001), "operator", orderID, "claim", "").
					Return(&models.Order{OrderID: orderID, Status: models.StatusInProgress}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"Status":"IN_PROGRESS"`,
		},
		{
			name:           "без JWT-контекста запрос отклоняется",
			body:           `{"action": "claim"}`,
			withAdmin:      false,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"unauthorized"`,
		},
		{
			name:           "неизвестное действие",
			body:           `{"action": "selfdestruct"}`,
			withAdmin:      true,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `must be one of`,
		},
		{
			name:      "заказ взят другим оператором",
			body:      `{"action": "done"}`,
			withAdmin: true,
			setupMock: func(m *MockService) {
				m.On("ApplyOrderAction", mock.Anything, int64(1001), "operator", orderID, "done", "").
					Return(nil, models.ErrUnauthorized)
			},
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"action is not allowed for this operator"`,
		},
		{
			name:      "закрытие уже завершённого заказа",
			body:      `{"action": "force_close", "text": "duplicate"}`,
			withAdmin: true,
			setupMock: func(m *MockService) {
				m.On("ApplyOrderAction", mock.Anything, int64(1001), "operator", orderID, "force_close", "duplicate").
					Return(nil, models.ErrInvalidTransition)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"action is not allowed in current order status"`,
		},
		{
			name:      "заказ изменился параллельно",
			body:      `{"action": "claim"}`,
			withAdmin: true,
			setupMock: func(m *MockService) {
				m.On("ApplyOrderAction", mock.Anything, int64(1001), "operator", orderID, "claim", "").
					Return(nil, models.ErrStaleOrder)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"order status changed, retry"`,
		},
		{
			name:      "заказ не найден",
			body:      `{"action": "claim"}`,
			withAdmin: true,
			setupMock: func(m *MockService) {
				m.On("ApplyOrderAction", mock.Anything, int64(1001), "operator", orderID, "claim", "").
					Return(nil, models.ErrOrderNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"order not found"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/admin/orders/"+orderID+"/actions",
				strings.NewReader(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", orderID)
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			if tt.withAdmin {
				ctx = context.WithValue(ctx, middlewarectx.AdminID, int64(1001))
				ctx = context.WithValue(ctx, middlewarectx.AdminName, "operator")
			}
			req = req.WithContext(ctx)

			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)

			mockService.AssertExpectations(t)
		})
	}
}
