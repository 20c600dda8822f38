package billing

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrWebhookNotFound  = errors.New("webhook event not found")
)

// OrderRequest is what the gateway needs to open an order.
type OrderRequest struct {
	RequestID string
	UserID    string
	Total     Price
	Items     []OrderItem
}

type OrderItem struct {
	Name     string
	Price    Price
	Quantity int
}

// GatewayOrder is the gateway's view of a created order.
type GatewayOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type CapturePurchaseUnit struct {
	Payments struct {
		Captures []Capture `json:"captures"`
	} `json:"payments"`
}

// CaptureResponse is the subset of an Orders v2 capture we rely on. Raw keeps
// the full body for the payment snapshot.
type CaptureResponse struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	PurchaseUnits []CapturePurchaseUnit `json:"purchase_units"`
	Payer         struct {
		EmailAddress string `json:"email_address"`
		Email        string `json:"email"`
	} `json:"payer"`

	Raw json.RawMessage `json:"-"`
}

// FirstCapture returns the id and status of purchase_units[0].payments.captures[0].
func (r *CaptureResponse) FirstCapture() (id, status string, ok bool) {
	if len(r.PurchaseUnits) == 0 || len(r.PurchaseUnits[0].Payments.Captures) == 0 {
		return "", "", false
	}
	c := r.PurchaseUnits[0].Payments.Captures[0]
	return c.ID, c.Status, c.ID != ""
}

func (r *CaptureResponse) PayerEmail() string {
	if r.Payer.EmailAddress != "" {
		return r.Payer.EmailAddress
	}
	return r.Payer.Email
}

// SignatureHeaders are the transmission headers sent with a gateway webhook.
type SignatureHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// Complete reports whether every header is present.
func (h SignatureHeaders) Complete() bool {
	return h.AuthAlgo != "" && h.CertURL != "" && h.TransmissionID != "" &&
		h.TransmissionSig != "" && h.TransmissionTime != ""
}

// Gateway is the payment provider contract.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error)
	CaptureOrder(ctx context.Context, orderID, requestID string) (*CaptureResponse, error)
	VerifyWebhookSignature(ctx context.Context, headers SignatureHeaders, body []byte) (bool, error)
}
