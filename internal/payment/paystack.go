package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// paystackProvider talks to the Paystack transaction API. Amounts go over
// the wire in the minor unit (kobo).
type paystackProvider struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewPaystackProvider(baseURL, secretKey string) Provider {
	return &paystackProvider{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type paystackInitRequest struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"`
		ID     int64  `json:"id"`
	} `json:"data"`
}

func (p *paystackProvider) Initialize(ctx context.Context, email string, amount float64, reference string) (*InitResult, error) {
	body, err := json.Marshal(paystackInitRequest{
		Email:     email,
		Amount:    int64(math.Round(amount * 100)),
		Reference: reference,
	})
	if err != nil {
		return nil, fmt.Errorf("paystack: failed to marshal initialize request: %w", err)
	}

	var resp paystackInitResponse
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack: initialize rejected: %s", resp.Message)
	}

	return &InitResult{
		Reference:   resp.Data.Reference,
		RedirectURL: resp.Data.AuthorizationURL,
	}, nil
}

func (p *paystackProvider) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var resp paystackVerifyResponse
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack: verify rejected: %s", resp.Message)
	}

	return &VerifyResult{
		Success:     resp.Data.Status == "success",
		Amount:      float64(resp.Data.Amount) / 100,
		ProviderRef: fmt.Sprintf("%d", resp.Data.ID),
	}, nil
}

func (p *paystackProvider) do(ctx context.Context, method, path string, body *bytes.Reader, out any) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, p.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("paystack: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("paystack: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("paystack: provider returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("paystack: failed to decode response: %w", err)
	}
	return nil
}
