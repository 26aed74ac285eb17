package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"wxpass/internal/gateway/service"
	"wxpass/internal/provider"
	"wxpass/internal/validator"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

var (
	testIdentity = strings.Repeat("B", 58)
	holdingAddr  = domain.Address(strings.Repeat("H", 58))
)

type fakeGateway struct {
	result *service.Result
	err    error
	calls  int
}

func (f *fakeGateway) Fetch(context.Context, domain.Address, string) (*service.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeMarketplace struct {
	available    int
	availableErr error
}

func (f *fakeMarketplace) Available(context.Context) (int, error) {
	return f.available, f.availableErr
}

func (f *fakeMarketplace) Price() uint64                  { return 10_000_000 }
func (f *fakeMarketplace) HoldingAddress() domain.Address { return holdingAddr }

type HandlerSuite struct {
	suite.Suite
	gateway     *fakeGateway
	marketplace *fakeMarketplace
	router      chi.Router
}

func (s *HandlerSuite) SetupTest() {
	s.gateway = &fakeGateway{}
	s.marketplace = &fakeMarketplace{available: 7}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(s.gateway, s.marketplace, logger, nil)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) get(city, identity string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/weather?city="+city+"&identity="+identity, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestWeather_Success() {
	credID := domain.NewCredentialID()
	expiresAt := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	s.gateway.result = &service.Result{
		Observation: &provider.Observation{City: "Berlin", Country: "DE", Temperature: 18.5, Description: "partly cloudy"},
		Grant:       &validator.Grant{CredentialID: credID, ExpiresAt: expiresAt, RemainingSeconds: 1800},
		Provider:    "open-meteo",
	}

	rec := s.get("Berlin", testIdentity)

	s.Require().Equal(http.StatusOK, rec.Code)

	var resp weatherResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("Berlin", resp.Weather.City)
	s.Equal(18.5, resp.Weather.Temperature)
	s.Equal("open-meteo", resp.Provider)
	s.Equal(credID, resp.Credential.ID)
	s.Equal(int64(1800), resp.Credential.RemainingSeconds)
	s.Nil(resp.Credential.UsesRemaining)
}

func (s *HandlerSuite) TestWeather_UsageLimitedMetadata() {
	uses := 4
	s.gateway.result = &service.Result{
		Observation: &provider.Observation{City: "Berlin"},
		Grant: &validator.Grant{
			CredentialID:     domain.NewCredentialID(),
			ExpiresAt:        time.Now().Add(time.Hour),
			RemainingSeconds: 3600,
			UsesRemaining:    &uses,
		},
		Provider: "open-meteo",
	}

	rec := s.get("Berlin", testIdentity)

	s.Require().Equal(http.StatusOK, rec.Code)
	var resp weatherResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Require().NotNil(resp.Credential.UsesRemaining)
	s.Equal(4, *resp.Credential.UsesRemaining)
}

func (s *HandlerSuite) TestWeather_MissingCity() {
	rec := s.get("", testIdentity)

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Zero(s.gateway.calls, "input validation must precede the gateway call")
}

func (s *HandlerSuite) TestWeather_MalformedIdentity() {
	rec := s.get("Berlin", "not-an-address")

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Zero(s.gateway.calls)
}

func (s *HandlerSuite) TestWeather_DenialCarriesPurchaseInstructions() {
	s.gateway.err = dErrors.New(dErrors.CodeNoCredential, "identity owns no credentials")

	rec := s.get("Berlin", testIdentity)

	s.Require().Equal(http.StatusForbidden, rec.Code)

	var resp denialResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("no_credential", resp.Error)
	s.Equal("identity owns no credentials", resp.ErrorDescription)
	s.Equal(uint64(10_000_000), resp.PurchaseInstructions.Price)
	s.Equal("microalgos", resp.PurchaseInstructions.Currency)
	s.Equal(holdingAddr, resp.PurchaseInstructions.HoldingAddress)
	s.Equal("/marketplace/list", resp.PurchaseInstructions.ListEndpoint)
	s.Equal("/marketplace/purchase", resp.PurchaseInstructions.PurchaseEndpoint)
	s.Equal(7, resp.PurchaseInstructions.Available)
}

func (s *HandlerSuite) TestWeather_DenialSurvivesStockLookupFailure() {
	s.gateway.err = dErrors.New(dErrors.CodeAllExpired, "all credentials expired")
	s.marketplace.availableErr = dErrors.New(dErrors.CodeInternal, "store down")

	rec := s.get("Berlin", testIdentity)

	s.Require().Equal(http.StatusForbidden, rec.Code)
	var resp denialResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("all_expired", resp.Error)
	s.Zero(resp.PurchaseInstructions.Available)
}

func (s *HandlerSuite) TestWeather_UnknownCity() {
	s.gateway.err = dErrors.New(dErrors.CodeNotFound, `city "Atlantis" not found`)

	rec := s.get("Atlantis", testIdentity)

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestWeather_ProviderDown() {
	s.gateway.err = dErrors.New(dErrors.CodeProviderUnavailable, "weather provider temporarily unavailable")

	rec := s.get("Berlin", testIdentity)

	s.Equal(http.StatusBadGateway, rec.Code)
}
