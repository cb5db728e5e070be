package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/domain"
)

// CreatePaymentRequest is the merchant-facing request to start a payment.
type CreatePaymentRequest struct {
	Amount      string `json:"amount" binding:"required"`
	ProductName string `json:"product_name" binding:"required"`
}

// PaymentFormResponse carries everything the payer's browser needs to
// redirect to the gateway: the submission endpoint and the full signed
// form field set. No network call has happened yet.
type PaymentFormResponse struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	GatewayURL    string            `json:"gateway_url"`
	Fields        map[string]string `json:"fields"`
}

// CallbackPayload is the decoded success-redirect payload from the
// gateway. Everything in it is payer-relayed and untrusted until the
// signature verifies; even then only the transaction_uuid is used as a
// lookup key and the rest is cross-checked against stored state.
type CallbackPayload struct {
	TransactionCode  string `json:"transaction_code"`
	Status           string `json:"status"`
	TotalAmount      string `json:"total_amount"`
	TransactionUUID  string `json:"transaction_uuid"`
	ProductCode      string `json:"product_code"`
	SignedFieldNames string `json:"signed_field_names"`
	Signature        string `json:"signature"`
}

// fieldValue resolves a signed field name to the payload value it covers.
func (p *CallbackPayload) fieldValue(name string) (string, bool) {
	switch name {
	case "transaction_code":
		return p.TransactionCode, true
	case "status":
		return p.Status, true
	case "total_amount":
		return p.TotalAmount, true
	case "transaction_uuid":
		return p.TransactionUUID, true
	case "product_code":
		return p.ProductCode, true
	case "signed_field_names":
		return p.SignedFieldNames, true
	default:
		return "", false
	}
}

// CallbackResult is the outcome of processing a gateway callback.
// Unresolved means the remote check could not be completed within the
// retry budget and the transaction was left in verifying for
// reconciliation.
type CallbackResult struct {
	TransactionID   uuid.UUID     `json:"transaction_id"`
	Status          domain.Status `json:"status"`
	RemoteReference string        `json:"remote_reference,omitempty"`
	Unresolved      bool          `json:"unresolved,omitempty"`
}

// TransactionResponse is the merchant-facing view of a transaction.
type TransactionResponse struct {
	ID              uuid.UUID     `json:"id"`
	Amount          string        `json:"amount"`
	ProductCode     string        `json:"product_code"`
	ProductName     string        `json:"product_name"`
	Status          domain.Status `json:"status"`
	RemoteReference string        `json:"remote_reference,omitempty"`
	CreatedAt       string        `json:"created_at"`
	FinalizedAt     string        `json:"finalized_at,omitempty"`
}

// NewTransactionResponse maps a domain transaction to its API view.
func NewTransactionResponse(t *domain.Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:              t.ID,
		Amount:          t.Amount.String(),
		ProductCode:     t.ProductCode,
		ProductName:     t.ProductName,
		Status:          t.Status,
		RemoteReference: t.RemoteReference,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
	}
	if t.FinalizedAt != nil {
		resp.FinalizedAt = t.FinalizedAt.Format(time.RFC3339)
	}
	return resp
}
