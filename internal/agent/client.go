package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"wxpass/internal/provider"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

// WeatherReport is the gateway's answer to a granted request.
type WeatherReport struct {
	Weather    *provider.Observation `json:"weather"`
	Credential struct {
		ID               domain.CredentialID `json:"id"`
		ExpiresAt        time.Time           `json:"expires_at"`
		RemainingSeconds int64               `json:"remaining_seconds"`
		UsesRemaining    *int                `json:"uses_remaining"`
	} `json:"credential"`
	Provider string `json:"provider"`
}

// PurchaseInstructions is the how-to-buy block attached to denials.
type PurchaseInstructions struct {
	Price            uint64         `json:"price"`
	Currency         string         `json:"currency"`
	HoldingAddress   domain.Address `json:"holding_address"`
	ListEndpoint     string         `json:"list_endpoint"`
	PurchaseEndpoint string         `json:"purchase_endpoint"`
	Available        int            `json:"available"`
}

// Denial is the gateway's 403 body.
type Denial struct {
	Error                string               `json:"error"`
	ErrorDescription     string               `json:"error_description"`
	PurchaseInstructions PurchaseInstructions `json:"purchase_instructions"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client talks to the weather service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Weather requests an observation. A 403 returns a non-nil Denial with a nil
// error; other failures become coded errors mirrored from the response body.
func (c *Client) Weather(ctx context.Context, identity domain.Address, city string) (*WeatherReport, *Denial, error) {
	query := url.Values{
		"city":     {city},
		"identity": {string(identity)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+query.Encode(), nil)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "build weather request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "weather service unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var report WeatherReport
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode weather response")
		}
		return &report, nil, nil
	case http.StatusForbidden:
		var denial Denial
		if err := json.NewDecoder(resp.Body).Decode(&denial); err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode denial response")
		}
		return nil, &denial, nil
	default:
		return nil, nil, decodeError(resp)
	}
}

type purchaseRequest struct {
	Buyer        domain.Address `json:"buyer"`
	PaymentTxID  domain.TxID    `json:"payment_tx_id"`
	Quantity     int            `json:"quantity"`
}

type purchaseResponse struct {
	CredentialIDs []domain.CredentialID `json:"credential_ids"`
	Quantity      int                   `json:"quantity"`
}

// Purchase redeems a settled payment for credentials.
func (c *Client) Purchase(ctx context.Context, buyer domain.Address, proof domain.TxID, quantity int) ([]domain.CredentialID, error) {
	raw, err := json.Marshal(purchaseRequest{Buyer: buyer, PaymentTxID: proof, Quantity: quantity})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal purchase request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/marketplace/purchase", bytes.NewReader(raw))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build purchase request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "weather service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var purchased purchaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&purchased); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode purchase response")
	}
	return purchased.CredentialIDs, nil
}

// decodeError rebuilds the service's coded error from an error body so the
// agent can branch on the same codes the server uses.
func decodeError(resp *http.Response) error {
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return dErrors.New(dErrors.Code(body.Error), body.ErrorDescription)
	}
	return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unexpected status %d", resp.StatusCode))
}
