// Package signature implements the eSewa ePay v2 message authentication
// scheme: HMAC-SHA256 over an ordered name=value field list, base64 encoded.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Field is one named parameter of a signed message. Field order is part of
// the protocol: the same fields in a different order are a different
// message and produce a different signature.
type Field struct {
	Name  string
	Value string
}

// RequestFields builds the signed field list for an outbound payment
// request in the canonical order the gateway expects: total_amount,
// transaction_uuid, product_code.
func RequestFields(totalAmount, transactionUUID, productCode string) []Field {
	return []Field{
		{Name: "total_amount", Value: totalAmount},
		{Name: "transaction_uuid", Value: transactionUUID},
		{Name: "product_code", Value: productCode},
	}
}

// Engine signs and verifies canonical parameter strings with the merchant
// secret key.
type Engine struct {
	secret []byte
}

// NewEngine creates an engine for the given merchant secret key.
func NewEngine(secretKey string) *Engine {
	return &Engine{secret: []byte(secretKey)}
}

// Canonical builds the canonical string over the given fields:
// name=value pairs joined by commas, in the order given.
func Canonical(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Name + "=" + f.Value
	}
	return strings.Join(parts, ",")
}

// FieldNames returns the comma-separated name list for the signed_field_names
// form field.
func FieldNames(fields []Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return strings.Join(names, ",")
}

// Sign computes the base64-encoded HMAC-SHA256 of the canonical string.
func (e *Engine) Sign(canonical string) string {
	mac := hmac.New(sha256.New, e.secret)
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignFields canonicalizes and signs the fields in one step.
func (e *Engine) SignFields(fields []Field) string {
	return e.Sign(Canonical(fields))
}

// Verify recomputes the MAC over the canonical string and compares it to
// the candidate signature in constant time. Any decode failure or mismatch
// is a rejection.
func (e *Engine) Verify(canonical, candidate string) bool {
	got, err := base64.StdEncoding.DecodeString(candidate)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, e.secret)
	mac.Write([]byte(canonical))
	return hmac.Equal(mac.Sum(nil), got)
}

// VerifyFields canonicalizes and verifies the fields in one step.
func (e *Engine) VerifyFields(fields []Field, candidate string) bool {
	return e.Verify(Canonical(fields), candidate)
}
