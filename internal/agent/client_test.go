package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

func TestClientWeatherGranted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, "Berlin", r.URL.Query().Get("city"))
		assert.Equal(t, string(agentIdentity), r.URL.Query().Get("identity"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"weather":{"city":"Berlin","temperature":18.5},
			"credential":{"expires_at":"2026-08-29T12:00:00Z","remaining_seconds":1800},
			"provider":"open-meteo"
		}`))
	}))
	defer server.Close()

	report, denial, err := NewClient(server.URL).Weather(context.Background(), agentIdentity, "Berlin")
	require.NoError(t, err)
	require.Nil(t, denial)
	assert.Equal(t, "Berlin", report.Weather.City)
	assert.Equal(t, int64(1800), report.Credential.RemainingSeconds)
	assert.Equal(t, "open-meteo", report.Provider)
}

func TestClientWeatherDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{
			"error":"no_credential",
			"error_description":"identity owns no credentials",
			"purchase_instructions":{
				"price":10000000,"currency":"microalgos",
				"holding_address":"` + string(holdingAddr) + `",
				"list_endpoint":"/marketplace/list",
				"purchase_endpoint":"/marketplace/purchase",
				"available":5
			}
		}`))
	}))
	defer server.Close()

	report, denial, err := NewClient(server.URL).Weather(context.Background(), agentIdentity, "Berlin")
	require.NoError(t, err)
	assert.Nil(t, report)
	require.NotNil(t, denial)
	assert.Equal(t, "no_credential", denial.Error)
	assert.Equal(t, uint64(10_000_000), denial.PurchaseInstructions.Price)
	assert.Equal(t, holdingAddr, denial.PurchaseInstructions.HoldingAddress)
	assert.Equal(t, 5, denial.PurchaseInstructions.Available)
}

func TestClientWeatherMirrorsCodedErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"provider_unavailable","error_description":"weather provider temporarily unavailable"}`))
	}))
	defer server.Close()

	_, _, err := NewClient(server.URL).Weather(context.Background(), agentIdentity, "Berlin")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
}

func TestClientWeatherUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, _, err := NewClient(server.URL).Weather(context.Background(), agentIdentity, "Berlin")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
}

func TestClientPurchase(t *testing.T) {
	proof := domain.NewTxID()
	credID := domain.NewCredentialID()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/marketplace/purchase", r.URL.Path)

		var req purchaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, agentIdentity, req.Buyer)
		assert.Equal(t, proof, req.PaymentTxID)
		assert.Equal(t, 1, req.Quantity)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(purchaseResponse{
			CredentialIDs: []domain.CredentialID{credID},
			Quantity:      1,
		})
	}))
	defer server.Close()

	ids, err := NewClient(server.URL).Purchase(context.Background(), agentIdentity, proof, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, credID, ids[0])
}

func TestClientPurchaseSoldOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"sold_out","error_description":"not enough credentials in stock"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Purchase(context.Background(), agentIdentity, domain.NewTxID(), 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSoldOut))
}
