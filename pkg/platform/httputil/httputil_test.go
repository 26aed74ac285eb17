package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "wxpass/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("denial codes map to 403 with description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeNoCredential, "no credential owned"))

		if w.Code != http.StatusForbidden {
			t.Fatalf("expected status %d, got %d", http.StatusForbidden, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "no_credential" {
			t.Fatalf("expected error code no_credential, got %q", body["error"])
		}
		if body["error_description"] != "no credential owned" {
			t.Fatalf("expected error_description for denial errors")
		}
	})

	t.Run("unknown errors fall back to 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, http.ErrBodyNotAllowed)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestDomainCodeToHTTPStatus(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeInvalidInput:        http.StatusBadRequest,
		dErrors.CodeUnauthorized:        http.StatusUnauthorized,
		dErrors.CodeNoCredential:        http.StatusForbidden,
		dErrors.CodeAllExpired:          http.StatusForbidden,
		dErrors.CodeAllExhausted:        http.StatusForbidden,
		dErrors.CodeInsufficientPayment: http.StatusPaymentRequired,
		dErrors.CodePaymentUnconfirmed:  http.StatusPaymentRequired,
		dErrors.CodeSoldOut:             http.StatusConflict,
		dErrors.CodeProviderUnavailable: http.StatusBadGateway,
		dErrors.CodeLedgerUnavailable:   http.StatusBadGateway,
		dErrors.CodeTimeout:             http.StatusGatewayTimeout,
		dErrors.CodeNotFound:            http.StatusNotFound,
	}
	for code, want := range cases {
		if got := DomainCodeToHTTPStatus(code); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
}
