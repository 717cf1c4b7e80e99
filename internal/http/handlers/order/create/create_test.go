package create

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/paymentprovider/robokassa"
	orderservice "github.com/khabusiness/rusbridge-orders/internal/services/order"
)

// MockService реализует интерфейс create.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, req models.DummyOrder) (*orderservice.OrderWithPayment, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*orderservice.OrderWithPayment), args.Error(1)
	}
	return nil, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestCreateHandler(t *testing.T) {
	logger := newNoopLogger()

	okResult := &orderservice.OrderWithPayment{
		Order: &models.Order{
			OrderID:     "RB-20260101120000-AAAA",
			TgID:        42,
			ProductCode: "spotify_3m",
			PriceRub:    1990,
			Status:      models.StatusWaitPay,
		},
		Payment: robokassa.PaymentLink{
			PayURL: "https://auth.robokassa.ru/Merchant/Index.aspx?MerchantLogin=demo",
			InvID:  1,
			OutSum: "1990.00",
		},
	}

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешное создание заказа",
			body: `{"tg_id": 42, "product_code": "spotify_3m"}`,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, mock.Anything).Return(okResult, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"OrderID":"RB-20260101120000-AAAA"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{"tg_id": `,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"invalid request body"`,
		},
		{
			name:           "нет обязательных полей",
			body:           `{"username": "alice"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `required field`,
		},
		{
			name: "пользователь заблокирован",
			body: `{"tg_id": 42, "product_code": "spotify_3m"}`,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, mock.Anything).Return(nil, models.ErrUserBlocked)
			},
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"user is blocked"`,
		},
		{
			name: "превышен дневной лимит",
			body: `{"tg_id": 42, "product_code": "spotify_3m"}`,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, mock.Anything).Return(nil, models.ErrDailyLimitExceeded)
			},
			expectedStatus: http.StatusTooManyRequests,
			expectedBody:   `"daily order limit exceeded"`,
		},
		{
			name: "неизвестный продукт",
			body: `{"tg_id": 42, "product_code": "nope"}`,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, mock.Anything).Return(nil, models.ErrProductNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"product not found"`,
		},
		{
			name: "активный заказ закрылся во время гонки",
			body: `{"tg_id": 42, "product_code": "spotify_3m"}`,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, mock.Anything).Return(nil, models.ErrOpenOrderExists)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"you already have an active order, retry"`,
		},
		{
			name: "ошибка сервиса",
			body: `{"tg_id": 42, "product_code": "spotify_3m"}`,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"could not create order"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)

			mockService.AssertExpectations(t)
		})
	}
}
