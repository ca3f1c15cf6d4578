package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSend(t *testing.T) {
	var gotReq SendRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SendResponse{Success: true})
	}))
	defer srv.Close()

	client := NewWhatsAppClient(srv.URL, "test-key", 5*time.Second, zap.NewNop())

	err := client.Send(context.Background(), "919876543210", "Hi Asha", json.RawMessage(`{"bill_number":"B-100"}`))
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "919876543210", gotReq.Phone)
	assert.Equal(t, "Hi Asha", gotReq.Message)
}

func TestSend_GatewayRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SendResponse{Success: false, Error: "invalid recipient"})
	}))
	defer srv.Close()

	client := NewWhatsAppClient(srv.URL, "test-key", 5*time.Second, zap.NewNop())

	err := client.Send(context.Background(), "919876543210", "Hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid recipient")
}

func TestSend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWhatsAppClient(srv.URL, "test-key", 5*time.Second, zap.NewNop())

	err := client.Send(context.Background(), "919876543210", "Hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestSend_EmptyInputs(t *testing.T) {
	client := NewWhatsAppClient("http://localhost:9090", "key", time.Second, zap.NewNop())

	assert.Error(t, client.Send(context.Background(), "", "Hi", nil))
	assert.Error(t, client.Send(context.Background(), "919876543210", "", nil))
}
