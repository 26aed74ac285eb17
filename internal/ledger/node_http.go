package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

// HTTPNode talks to a ledger node over its REST API. It maps transport
// failures to plain errors (which the Client retries) and node verdicts to
// coded errors (which are permanent).
type HTTPNode struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// HTTPNodeOption configures the HTTPNode.
type HTTPNodeOption func(*HTTPNode)

// WithNodeHTTPClient sets a custom HTTP client (for testing).
func WithNodeHTTPClient(client *http.Client) HTTPNodeOption {
	return func(n *HTTPNode) {
		n.httpClient = client
	}
}

// NewHTTPNode builds a node client for the given base URL. The token is sent
// as a bearer credential when set.
func NewHTTPNode(baseURL, token string, timeout time.Duration, opts ...HTTPNodeOption) *HTTPNode {
	n := &HTTPNode{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type submitRequest struct {
	TxID     domain.TxID    `json:"tx_id"`
	Sender   domain.Address `json:"sender"`
	Receiver domain.Address `json:"receiver"`
	Amount   uint64         `json:"amount"`
	Note     string         `json:"note,omitempty"`
}

type txResponse struct {
	TxID        domain.TxID    `json:"tx_id"`
	Sender      domain.Address `json:"sender"`
	Receiver    domain.Address `json:"receiver"`
	Amount      uint64         `json:"amount"`
	Status      TxStatus       `json:"status"`
	Round       uint64         `json:"confirmed_round,omitempty"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

type accountResponse struct {
	Address domain.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

func (n *HTTPNode) SubmitTransaction(ctx context.Context, p Payment) error {
	body := submitRequest{
		TxID:     p.TxID,
		Sender:   p.Sender,
		Receiver: p.Receiver,
		Amount:   p.Amount,
		Note:     p.Note,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal transaction")
	}

	resp, err := n.do(ctx, http.MethodPost, "/v2/transactions", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	// Duplicate submissions are not an error: the node deduplicates on TxID.
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return nil
	case http.StatusBadRequest:
		return dErrors.New(dErrors.CodeInvalidInput, "node rejected transaction")
	case http.StatusNotFound:
		return dErrors.New(dErrors.CodeNotFound, "unknown sender account")
	default:
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
}

func (n *HTTPNode) PendingTransaction(ctx context.Context, txID domain.TxID) (TxResult, error) {
	resp, err := n.do(ctx, http.MethodGet, "/v2/transactions/"+txID.String(), nil)
	if err != nil {
		return TxResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return TxResult{}, dErrors.New(dErrors.CodeNotFound, "transaction not found")
	default:
		return TxResult{}, fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	var tx txResponse
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return TxResult{}, fmt.Errorf("decode transaction response: %w", err)
	}

	result := TxResult{
		Payment: Payment{
			TxID:     tx.TxID,
			Sender:   tx.Sender,
			Receiver: tx.Receiver,
			Amount:   tx.Amount,
		},
		Status: tx.Status,
		Reason: tx.Reason,
	}
	if tx.Status == StatusConfirmed {
		confirmedAt := time.Now()
		if tx.ConfirmedAt != nil {
			confirmedAt = *tx.ConfirmedAt
		}
		result.Confirmation = &Confirmation{Round: tx.Round, ConfirmedAt: confirmedAt}
	}
	return result, nil
}

func (n *HTTPNode) AccountInformation(ctx context.Context, addr domain.Address) (Account, error) {
	resp, err := n.do(ctx, http.MethodGet, "/v2/accounts/"+string(addr), nil)
	if err != nil {
		return Account{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Account{}, dErrors.New(dErrors.CodeNotFound, "account not found")
	default:
		return Account{}, fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	var acct accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return Account{}, fmt.Errorf("decode account response: %w", err)
	}
	return Account{Address: acct.Address, Balance: acct.Balance}, nil
}

func (n *HTTPNode) Status(ctx context.Context) error {
	resp, err := n.do(ctx, http.MethodGet, "/v2/status", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *HTTPNode) do(ctx context.Context, method, path string, body *bytes.Reader) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, n.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, n.baseURL+path, nil)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build node request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	return n.httpClient.Do(req)
}
