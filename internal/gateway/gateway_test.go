package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roadside-dispatch/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(base string) utils.GatewayConfig {
	return utils.GatewayConfig{
		StoreID:          "store",
		StorePassword:    "secret",
		SessionURL:       base + "/session",
		ValidationURL:    base + "/validate",
		Currency:         "BDT",
		Timeout:          2 * time.Second,
		BreakerThreshold: 5,
	}
}

func TestValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/validate", r.URL.Path)
		assert.Equal(t, "VAL-1", r.URL.Query().Get("val_id"))
		assert.Equal(t, "store", r.URL.Query().Get("store_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"VALID","tran_id":"TXN-1","val_id":"VAL-1","amount":"1500.00","currency":"BDT"}`))
	}))
	defer srv.Close()

	gw := New(testConfig(srv.URL), zap.NewNop())
	v, err := gw.Validate(context.Background(), "VAL-1")
	require.NoError(t, err)

	assert.True(t, v.Valid())
	assert.Equal(t, "TXN-1", v.TransactionID)
	amount, err := v.AmountValue()
	require.NoError(t, err)
	assert.Equal(t, 1500.0, amount)
}

func TestValidateServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := New(testConfig(srv.URL), zap.NewNop())
	_, err := gw.Validate(context.Background(), "VAL-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestValidateUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	gw := New(testConfig(base), zap.NewNop())
	_, err := gw.Validate(context.Background(), "VAL-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "TXN-9", r.PostForm.Get("tran_id"))
		assert.Equal(t, "250.50", r.PostForm.Get("total_amount"))
		_, _ = w.Write([]byte(`{"status":"SUCCESS","GatewayPageURL":"https://pay.example/checkout/abc","sessionkey":"abc"}`))
	}))
	defer srv.Close()

	gw := New(testConfig(srv.URL), zap.NewNop())
	session, err := gw.CreateSession(context.Background(), SessionRequest{
		TransactionID: "TXN-9",
		Amount:        250.5,
		Currency:      "BDT",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/checkout/abc", session.GatewayURL)
}

func TestCreateSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"FAILED","failedreason":"Store Credential Error"}`))
	}))
	defer srv.Close()

	gw := New(testConfig(srv.URL), zap.NewNop())
	_, err := gw.CreateSession(context.Background(), SessionRequest{TransactionID: "TXN-9", Amount: 10})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("VALID"))
	assert.True(t, IsValidStatus(" validated "))
	assert.False(t, IsValidStatus("FAILED"))
	assert.False(t, IsValidStatus(""))
}
