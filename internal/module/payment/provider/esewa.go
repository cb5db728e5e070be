package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// EsewaConfig holds the eSewa status-check client configuration.
type EsewaConfig struct {
	StatusURL string // environment-specific status endpoint
}

// EsewaProvider implements StatusChecker against the eSewa ePay status
// endpoint. A circuit breaker sits in front of the HTTP call so a dead
// gateway fails fast instead of burning the retry budget per callback.
type EsewaProvider struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*StatusResult]
	config  EsewaConfig
	logger  *zap.Logger
}

// NewEsewaProvider creates a new eSewa status-check client.
func NewEsewaProvider(client *http.Client, config EsewaConfig, logger *zap.Logger) *EsewaProvider {
	breaker := gobreaker.NewCircuitBreaker[*StatusResult](gobreaker.Settings{
		Name: "esewa-status",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Definitive gateway answers are not breaker failures.
			return err == nil || errors.Is(err, ErrStatusCheckRejected)
		},
	})

	return &EsewaProvider{
		client:  client,
		breaker: breaker,
		config:  config,
		logger:  logger,
	}
}

// statusResponse is the eSewa status endpoint reply.
type statusResponse struct {
	ProductCode     string          `json:"product_code"`
	TransactionUUID string          `json:"transaction_uuid"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          string          `json:"status"`
	RefID           string          `json:"ref_id"`
}

// CheckStatus queries the gateway for the authoritative state of a
// transaction. The amount must be the value recorded at creation time.
func (p *EsewaProvider) CheckStatus(ctx context.Context, productCode string, totalAmount decimal.Decimal, transactionID uuid.UUID) (*StatusResult, error) {
	result, err := p.breaker.Execute(func() (*StatusResult, error) {
		return p.checkStatus(ctx, productCode, totalAmount, transactionID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit open: %w", ErrGatewayUnavailable)
		}
		return nil, err
	}
	return result, nil
}

func (p *EsewaProvider) checkStatus(ctx context.Context, productCode string, totalAmount decimal.Decimal, transactionID uuid.UUID) (*StatusResult, error) {
	query := url.Values{}
	query.Set("product_code", productCode)
	query.Set("total_amount", totalAmount.String())
	query.Set("transaction_uuid", transactionID.String())

	endpoint := p.config.StatusURL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %v: %w", err, ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("status request: http %d: %w", resp.StatusCode, ErrGatewayUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status request: http %d: %w", resp.StatusCode, ErrStatusCheckRejected)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode status response: %v: %w", err, ErrStatusCheckRejected)
	}

	p.logger.Debug("status check response",
		zap.String("transaction_uuid", transactionID.String()),
		zap.String("status", body.Status),
		zap.String("ref_id", body.RefID),
	)

	return &StatusResult{
		Status:          body.Status,
		RemoteReference: body.RefID,
	}, nil
}
