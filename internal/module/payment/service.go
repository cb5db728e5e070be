package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/domain"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/provider"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/signature"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/shared/config"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/utils/metrics"
)

// Service implements payment request construction and callback
// verification against the eSewa gateway.
type Service struct {
	repo      Repository
	engine    *signature.Engine
	checker   provider.StatusChecker
	esewaCfg  config.EsewaConfig
	verifyCfg config.VerifyConfig
	minAmount decimal.Decimal
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a new payment service.
func NewService(
	repo Repository,
	engine *signature.Engine,
	checker provider.StatusChecker,
	esewaCfg config.EsewaConfig,
	verifyCfg config.VerifyConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Service, error) {
	minAmount, err := decimal.NewFromString(esewaCfg.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("parse esewa.min_amount %q: %w", esewaCfg.MinAmount, err)
	}

	return &Service{
		repo:      repo,
		engine:    engine,
		checker:   checker,
		esewaCfg:  esewaCfg,
		verifyCfg: verifyCfg,
		minAmount: minAmount,
		metrics:   m,
		logger:    logger,
	}, nil
}

// BuildPaymentRequest validates the amount, persists a new initiated
// transaction, and returns the signed form field set for the gateway
// redirect. The payer's browser performs the actual submission.
func (s *Service) BuildPaymentRequest(ctx context.Context, amount decimal.Decimal, productName string) (*PaymentFormResponse, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidAmount)
	}
	if amount.LessThan(s.minAmount) {
		return nil, fmt.Errorf("amount below minimum %s: %w", s.minAmount, ErrInvalidAmount)
	}

	txn := domain.NewTransaction(amount, s.esewaCfg.ProductCode, productName)
	if err := s.repo.Create(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			// Random ids colliding means the id source is broken.
			s.logger.Error("transaction id collision on create",
				zap.String("transaction_uuid", txn.ID.String()),
			)
		}
		return nil, err
	}

	signedFields := signature.RequestFields(txn.Amount.String(), txn.ID.String(), txn.ProductCode)
	sig := s.engine.SignFields(signedFields)

	fields := map[string]string{
		"amount":                  txn.Amount.String(),
		"tax_amount":              "0",
		"total_amount":            txn.Amount.String(),
		"transaction_uuid":        txn.ID.String(),
		"product_code":            txn.ProductCode,
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"success_url":             s.esewaCfg.SuccessURL,
		"failure_url":             s.esewaCfg.FailureURL,
		"signed_field_names":      signature.FieldNames(signedFields),
		"signature":               sig,
	}

	s.metrics.PaymentsInitiatedTotal.Inc()
	s.logger.Info("payment request built",
		zap.String("transaction_uuid", txn.ID.String()),
		zap.String("total_amount", txn.Amount.String()),
		zap.String("product_name", productName),
	)

	return &PaymentFormResponse{
		TransactionID: txn.ID,
		GatewayURL:    s.esewaCfg.FormURL(),
		Fields:        fields,
	}, nil
}

// GetTransaction returns a transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.repo.Get(ctx, id)
}

// HandleCallback processes a gateway redirect callback. Local validation
// failures (malformed id, unknown transaction, bad signature, amount
// mismatch) reject without touching state. A valid callback moves the
// transaction through callback_received and verifying, then settles it
// from the gateway's own status answer, never from the callback payload.
// Duplicate deliveries lose the compare-and-swap and are treated as
// already handled.
func (s *Service) HandleCallback(ctx context.Context, payload *CallbackPayload) (*CallbackResult, error) {
	id, err := uuid.Parse(payload.TransactionUUID)
	if err != nil {
		s.metrics.CallbacksTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("parse transaction_uuid %q: %w", payload.TransactionUUID, ErrMalformedCallback)
	}

	log := s.logger.With(zap.String("transaction_uuid", id.String()))

	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			s.metrics.CallbacksTotal.WithLabelValues("unknown").Inc()
			log.Warn("callback for unknown transaction")
		}
		return nil, err
	}

	if err := s.verifyCallbackSignature(payload); err != nil {
		s.metrics.CallbacksTotal.WithLabelValues("signature_mismatch").Inc()
		log.Warn("callback signature rejected", zap.Error(err))
		return nil, err
	}

	// The callback amount is only ever compared against the recorded one;
	// financial decisions always use the stored value.
	callbackAmount, err := decimal.NewFromString(strings.ReplaceAll(payload.TotalAmount, ",", ""))
	if err != nil || !callbackAmount.Equal(txn.Amount) {
		s.metrics.CallbacksTotal.WithLabelValues("amount_mismatch").Inc()
		log.Warn("callback amount rejected",
			zap.String("callback_amount", payload.TotalAmount),
			zap.String("recorded_amount", txn.Amount.String()),
		)
		return nil, fmt.Errorf("callback amount %q vs recorded %s: %w",
			payload.TotalAmount, txn.Amount, ErrAmountMismatch)
	}

	txn, err = s.repo.Transition(ctx, id, domain.StatusInitiated, domain.StatusCallbackReceived)
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			// Duplicate delivery: another handler already owns this
			// callback. Report the current state and stand down.
			s.metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
			log.Info("duplicate callback delivery", zap.String("status", string(txn.Status)))
			return &CallbackResult{
				TransactionID:   id,
				Status:          txn.Status,
				RemoteReference: txn.RemoteReference,
			}, nil
		}
		return nil, err
	}

	if payload.TransactionCode != "" {
		if err := s.repo.SetRemoteReference(ctx, id, payload.TransactionCode); err != nil {
			log.Error("set remote reference", zap.Error(err))
		}
	}

	// Move to verifying before the remote call so concurrent callbacks
	// fail fast on the CAS instead of queuing behind the network.
	txn, err = s.repo.Transition(ctx, id, domain.StatusCallbackReceived, domain.StatusVerifying)
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return &CallbackResult{
				TransactionID:   id,
				Status:          txn.Status,
				RemoteReference: txn.RemoteReference,
			}, nil
		}
		return nil, err
	}

	return s.verifyRemote(ctx, txn, log)
}

// verifyCallbackSignature recomputes the MAC over the fields the gateway
// claims to have signed, in the claimed order, and compares it in constant
// time. A payload without a signature is untrusted by definition.
func (s *Service) verifyCallbackSignature(payload *CallbackPayload) error {
	if payload.Signature == "" || payload.SignedFieldNames == "" {
		return fmt.Errorf("missing signature: %w", ErrSignatureMismatch)
	}

	names := strings.Split(payload.SignedFieldNames, ",")
	fields := make([]signature.Field, 0, len(names))
	for _, name := range names {
		value, ok := payload.fieldValue(strings.TrimSpace(name))
		if !ok {
			return fmt.Errorf("unknown signed field %q: %w", name, ErrSignatureMismatch)
		}
		fields = append(fields, signature.Field{Name: strings.TrimSpace(name), Value: value})
	}

	if !s.engine.VerifyFields(fields, payload.Signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// verifyRemote asks the gateway for the authoritative transaction status
// and finalizes from the answer. Transient failures are retried with
// jittered exponential backoff; exhausting the budget leaves the record
// in verifying rather than guessing an outcome.
func (s *Service) verifyRemote(ctx context.Context, txn *domain.Transaction, log *zap.Logger) (*CallbackResult, error) {
	var result *provider.StatusResult

	backoff := s.verifyCfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		checkCtx, cancel := context.WithTimeout(ctx, s.verifyCfg.RequestTimeout)
		res, err := s.checker.CheckStatus(checkCtx, txn.ProductCode, txn.Amount, txn.ID)
		cancel()

		if err == nil {
			result = res
			break
		}

		if !provider.IsTransient(err) {
			// The gateway answered and rejected the check outright.
			s.metrics.StatusChecksTotal.WithLabelValues("definitive_error").Inc()
			log.Warn("definitive status check error", zap.Error(err))
			return s.finalize(ctx, txn, domain.StatusFailed, "")
		}

		s.metrics.StatusChecksTotal.WithLabelValues("transient_error").Inc()
		log.Warn("transient status check error",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt >= s.verifyCfg.MaxAttempts {
			// Out of budget. The transaction stays in verifying; a false
			// failed here would contradict a possibly settled payment.
			s.metrics.CallbacksTotal.WithLabelValues("unresolved").Inc()
			log.Error("remote verification unresolved, leaving transaction in verifying")
			return &CallbackResult{
				TransactionID:   txn.ID,
				Status:          domain.StatusVerifying,
				RemoteReference: txn.RemoteReference,
				Unresolved:      true,
			}, nil
		}

		select {
		case <-ctx.Done():
			// Cancellation leaves the record in verifying, reconcilable
			// out of band.
			return nil, ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff = min(backoff*2, s.verifyCfg.MaxBackoff)
	}

	if result.Complete() {
		s.metrics.StatusChecksTotal.WithLabelValues("complete").Inc()
		return s.finalize(ctx, txn, domain.StatusCompleted, result.RemoteReference)
	}

	s.metrics.StatusChecksTotal.WithLabelValues("not_complete").Inc()
	log.Info("gateway reports transaction not complete", zap.String("gateway_status", result.Status))
	return s.finalize(ctx, txn, domain.StatusFailed, result.RemoteReference)
}

// finalize applies the terminal transition. Losing the CAS means a
// concurrent handler already finalized; that is success-already-handled.
func (s *Service) finalize(ctx context.Context, txn *domain.Transaction, to domain.Status, remoteRef string) (*CallbackResult, error) {
	if remoteRef != "" && remoteRef != txn.RemoteReference {
		if err := s.repo.SetRemoteReference(ctx, txn.ID, remoteRef); err != nil {
			s.logger.Error("set remote reference",
				zap.String("transaction_uuid", txn.ID.String()),
				zap.Error(err),
			)
		}
	}

	final, err := s.repo.Transition(ctx, txn.ID, domain.StatusVerifying, to)
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			s.metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
			return &CallbackResult{
				TransactionID:   txn.ID,
				Status:          final.Status,
				RemoteReference: final.RemoteReference,
			}, nil
		}
		return nil, err
	}

	s.metrics.CallbacksTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("transaction finalized",
		zap.String("transaction_uuid", txn.ID.String()),
		zap.String("status", string(to)),
		zap.String("remote_reference", final.RemoteReference),
	)

	return &CallbackResult{
		TransactionID:   final.ID,
		Status:          final.Status,
		RemoteReference: final.RemoteReference,
	}, nil
}

// jitter spreads a backoff delay over [d/2, d) so retries from concurrent
// callbacks do not synchronize.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half)
}
