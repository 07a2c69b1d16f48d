package provider_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getNumber", r.URL.Query().Get("action"))
		assert.Equal(t, "tg", r.URL.Query().Get("service"))
		assert.Equal(t, "1", r.URL.Query().Get("server"))
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		fmt.Fprint(w, "ACCESS_NUMBER:123456:919876543210")
	}))
	defer srv.Close()

	client := provider.NewClient(srv.URL, "secret", logger.NewNopLogger())
	result, err := client.GetNumber(context.Background(), "tg", "1")
	require.NoError(t, err)
	assert.Equal(t, provider.NumberAllocated, result.Kind)
	assert.Equal(t, "123456", result.OrderID)
	assert.Equal(t, "919876543210", result.Phone)
}

func TestClientGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getStatus", r.URL.Query().Get("action"))
		assert.Equal(t, "123456", r.URL.Query().Get("id"))
		fmt.Fprint(w, "STATUS_OK:4829")
	}))
	defer srv.Close()

	client := provider.NewClient(srv.URL, "secret", logger.NewNopLogger())
	result, err := client.GetStatus(context.Background(), "123456", false)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusCodeReceived, result.Kind)
	assert.Equal(t, "4829", result.Code)
}

func TestClientCancelNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "setStatus", r.URL.Query().Get("action"))
		assert.Equal(t, "8", r.URL.Query().Get("status"))
		assert.Equal(t, "123456", r.URL.Query().Get("id"))
		fmt.Fprint(w, "ACCESS_CANCEL")
	}))
	defer srv.Close()

	client := provider.NewClient(srv.URL, "secret", logger.NewNopLogger())
	result, err := client.CancelNumber(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, provider.CancelOK, result.Kind)
}

func TestClientNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := provider.NewClient(srv.URL, "secret", logger.NewNopLogger())
	_, err := client.GetNumber(context.Background(), "tg", "1")
	assert.Error(t, err)
}

func TestClientFetchServices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getServices", r.URL.Query().Get("action"))
		fmt.Fprint(w, `{"Telegram":[{"service_code":"tg","server_code":"1","price":"5.64"}]}`)
	}))
	defer srv.Close()

	client := provider.NewClient(srv.URL, "secret", logger.NewNopLogger())
	catalog, err := client.FetchServices(context.Background())
	require.NoError(t, err)
	assert.Len(t, catalog["Telegram"], 1)
}
