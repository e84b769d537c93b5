package payment

import "context"

// InitResult is what the provider hands back when a payment is opened: the
// reference we correlate on and where to send the customer.
type InitResult struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

// VerifyResult is the provider's answer to a verification call.
type VerifyResult struct {
	Success     bool    `json:"success"`
	Amount      float64 `json:"amount"`
	ProviderRef string  `json:"provider_ref"`
}

// Provider is the external payment gateway. The core only records the
// outcomes a provider reports; it never implements gateway logic itself.
type Provider interface {
	Initialize(ctx context.Context, email string, amount float64, reference string) (*InitResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}
