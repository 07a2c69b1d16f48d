package provider_test

import (
	"testing"

	"github.com/Nzyazin/otpshop/internal/core/provider"
	"github.com/stretchr/testify/assert"
)

func TestParseNumberResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    provider.NumberKind
		orderID string
		phone   string
	}{
		{
			name:    "allocated",
			body:    "ACCESS_NUMBER:123456:919876543210",
			kind:    provider.NumberAllocated,
			orderID: "123456",
			phone:   "919876543210",
		},
		{
			name:    "allocated with trailing whitespace",
			body:    "ACCESS_NUMBER:42:15550001111\n",
			kind:    provider.NumberAllocated,
			orderID: "42",
			phone:   "15550001111",
		},
		{name: "no numbers", body: "NO_NUMBERS", kind: provider.NumberNoNumbers},
		{name: "no balance", body: "NO_BALANCE", kind: provider.NumberNoBalance},
		{name: "error", body: "ERROR_SQL", kind: provider.NumberError},
		{name: "bad key", body: "BAD_KEY", kind: provider.NumberError},
		{name: "bad action", body: "BAD_ACTION", kind: provider.NumberError},
		{name: "truncated access number", body: "ACCESS_NUMBER:123456:", kind: provider.NumberUnrecognized},
		{name: "empty order id", body: "ACCESS_NUMBER::919876543210", kind: provider.NumberUnrecognized},
		{name: "garbage", body: "<html>502</html>", kind: provider.NumberUnrecognized},
		{name: "empty body", body: "", kind: provider.NumberUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := provider.ParseNumberResponse(tt.body)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.orderID, got.OrderID)
			assert.Equal(t, tt.phone, got.Phone)
		})
	}
}

func TestParseStatusResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind provider.StatusKind
		code string
	}{
		{name: "code received", body: "STATUS_OK:482910", kind: provider.StatusCodeReceived, code: "482910"},
		{name: "alphanumeric code", body: "STATUS_OK:G-48291", kind: provider.StatusCodeReceived, code: "G-48291"},
		{name: "waiting", body: "STATUS_WAIT_CODE", kind: provider.StatusWaiting},
		{name: "cancelled", body: "STATUS_CANCEL", kind: provider.StatusCancelled},
		{name: "cancel variant", body: "CANCEL_TIMEOUT", kind: provider.StatusCancelled},
		{name: "no activation", body: "NO_ACTIVATION", kind: provider.StatusNoActivation},
		{name: "empty code", body: "STATUS_OK:", kind: provider.StatusUnrecognized},
		{name: "garbage", body: "WAT", kind: provider.StatusUnrecognized},
		{name: "empty body", body: "", kind: provider.StatusUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := provider.ParseStatusResponse(tt.body)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestParseCancelResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind provider.CancelKind
	}{
		{name: "access cancel", body: "ACCESS_CANCEL", kind: provider.CancelOK},
		{name: "success cancel", body: "SUCCESS_CANCEL", kind: provider.CancelOK},
		{name: "no activation", body: "NO_ACTIVATION", kind: provider.CancelNoActivation},
		{name: "garbage", body: "ERROR_SQL", kind: provider.CancelUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, provider.ParseCancelResponse(tt.body).Kind)
		})
	}
}
