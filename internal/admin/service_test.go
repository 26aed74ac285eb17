package admin

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "wxpass/internal/jwt_token"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
	"wxpass/pkg/secrets"
)

var testAdminAddress = domain.Address(strings.Repeat("A", domain.AddressLength))

const testAdminKey = "correct horse battery staple"

func newService(t *testing.T) *Service {
	t.Helper()
	hash, err := secrets.Hash(testAdminKey)
	require.NoError(t, err)
	tokens := jwttoken.NewJWTService("test-signing-key", "wxpass", time.Hour)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(hash, testAdminAddress, tokens, logger)
}

func TestLoginIssuesToken(t *testing.T) {
	svc := newService(t)

	token, ttl, err := svc.Login(context.Background(), testAdminKey)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, time.Hour, ttl)

	tokens := jwttoken.NewJWTService("test-signing-key", "wxpass", time.Hour)
	claims, err := tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, string(testAdminAddress), claims.Subject)
}

func TestLoginRejectsWrongKey(t *testing.T) {
	svc := newService(t)

	_, _, err := svc.Login(context.Background(), "wrong key")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestLoginRejectsEmptyKey(t *testing.T) {
	svc := newService(t)

	_, _, err := svc.Login(context.Background(), "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestLoginWithoutConfiguredHash(t *testing.T) {
	tokens := jwttoken.NewJWTService("test-signing-key", "wxpass", time.Hour)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New("", testAdminAddress, tokens, logger)

	_, _, err := svc.Login(context.Background(), testAdminKey)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func newRouter(t *testing.T) chi.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := NewHandler(newService(t), logger, nil)
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func postLogin(t *testing.T, router http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleLogin(t *testing.T) {
	router := newRouter(t)

	rec := postLogin(t, router, loginRequest{AdminKey: testAdminKey})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
}

func TestHandleLoginWrongKey(t *testing.T) {
	router := newRouter(t)

	rec := postLogin(t, router, loginRequest{AdminKey: "wrong key"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLoginBadBody(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
