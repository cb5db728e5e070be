package payment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/domain"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/provider"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/signature"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/shared/config"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/utils/metrics"
)

const testSecret = "8gBm/:&EnhH.1/q"

// stubChecker is a scriptable StatusChecker that counts calls.
type stubChecker struct {
	calls atomic.Int64
	fn    func(ctx context.Context, productCode string, totalAmount decimal.Decimal, transactionID uuid.UUID) (*provider.StatusResult, error)
}

func (s *stubChecker) CheckStatus(ctx context.Context, productCode string, totalAmount decimal.Decimal, transactionID uuid.UUID) (*provider.StatusResult, error) {
	s.calls.Add(1)
	return s.fn(ctx, productCode, totalAmount, transactionID)
}

func completeChecker(refID string) *stubChecker {
	return &stubChecker{fn: func(context.Context, string, decimal.Decimal, uuid.UUID) (*provider.StatusResult, error) {
		return &provider.StatusResult{Status: provider.StatusComplete, RemoteReference: refID}, nil
	}}
}

func newTestService(t *testing.T, checker provider.StatusChecker) (*Service, *MemoryRepository) {
	t.Helper()

	repo := NewMemoryRepository()
	svc, err := NewService(
		repo,
		signature.NewEngine(testSecret),
		checker,
		config.EsewaConfig{
			ProductCode: "EPAYTEST",
			SecretKey:   testSecret,
			Environment: config.EnvTest,
			SuccessURL:  "http://merchant.test/payments/callback/success",
			FailureURL:  "http://merchant.test/payments/callback/failure",
			MinAmount:   "10",
		},
		config.VerifyConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
			RequestTimeout: time.Second,
		},
		metrics.New("test", prometheus.NewRegistry()),
		zap.NewNop(),
	)
	require.NoError(t, err)
	return svc, repo
}

// signedCallback builds a callback payload the way the gateway would,
// signing the listed fields with the shared secret.
func signedCallback(txnID uuid.UUID, status, totalAmount, refID string) *CallbackPayload {
	payload := &CallbackPayload{
		TransactionCode:  refID,
		Status:           status,
		TotalAmount:      totalAmount,
		TransactionUUID:  txnID.String(),
		ProductCode:      "EPAYTEST",
		SignedFieldNames: "transaction_code,status,total_amount,transaction_uuid,product_code",
	}
	engine := signature.NewEngine(testSecret)
	payload.Signature = engine.SignFields([]signature.Field{
		{Name: "transaction_code", Value: payload.TransactionCode},
		{Name: "status", Value: payload.Status},
		{Name: "total_amount", Value: payload.TotalAmount},
		{Name: "transaction_uuid", Value: payload.TransactionUUID},
		{Name: "product_code", Value: payload.ProductCode},
	})
	return payload
}

func TestService_BuildPaymentRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("builds a signed form and persists the transaction", func(t *testing.T) {
		svc, repo := newTestService(t, completeChecker("0001TX5"))

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		assert.Equal(t, "https://rc-epay.esewa.com.np/api/epay/main/v2/form", resp.GatewayURL)
		assert.Equal(t, "100", resp.Fields["total_amount"])
		assert.Equal(t, "100", resp.Fields["amount"])
		assert.Equal(t, "0", resp.Fields["tax_amount"])
		assert.Equal(t, "EPAYTEST", resp.Fields["product_code"])
		assert.Equal(t, resp.TransactionID.String(), resp.Fields["transaction_uuid"])
		assert.Equal(t, "total_amount,transaction_uuid,product_code", resp.Fields["signed_field_names"])

		// The emitted signature verifies over the declared canonical order.
		engine := signature.NewEngine(testSecret)
		fields := []signature.Field{
			{Name: "total_amount", Value: resp.Fields["total_amount"]},
			{Name: "transaction_uuid", Value: resp.Fields["transaction_uuid"]},
			{Name: "product_code", Value: resp.Fields["product_code"]},
		}
		assert.True(t, engine.VerifyFields(fields, resp.Fields["signature"]))

		txn, err := repo.Get(ctx, resp.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInitiated, txn.Status)
		assert.True(t, txn.Amount.Equal(decimal.NewFromInt(100)))
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		svc, _ := newTestService(t, completeChecker(""))
		_, err := svc.BuildPaymentRequest(ctx, decimal.Zero, "Book")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects negative amount", func(t *testing.T) {
		svc, _ := newTestService(t, completeChecker(""))
		_, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(-5), "Book")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects amount below minimum", func(t *testing.T) {
		svc, _ := newTestService(t, completeChecker(""))
		_, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(5), "Book")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestService_HandleCallback_Completes(t *testing.T) {
	ctx := context.Background()
	checker := completeChecker("0001TX5")
	svc, repo := newTestService(t, checker)

	resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
	require.NoError(t, err)

	result, err := svc.HandleCallback(ctx, signedCallback(resp.TransactionID, "COMPLETE", "100", "0001TX5"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, "0001TX5", result.RemoteReference)
	assert.False(t, result.Unresolved)
	assert.EqualValues(t, 1, checker.calls.Load())

	txn, err := repo.Get(ctx, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.Equal(t, "0001TX5", txn.RemoteReference)
	assert.NotNil(t, txn.FinalizedAt)
}

func TestService_HandleCallback_NotComplete(t *testing.T) {
	ctx := context.Background()
	checker := &stubChecker{fn: func(context.Context, string, decimal.Decimal, uuid.UUID) (*provider.StatusResult, error) {
		return &provider.StatusResult{Status: provider.StatusCanceled}, nil
	}}
	svc, repo := newTestService(t, checker)

	resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
	require.NoError(t, err)

	result, err := svc.HandleCallback(ctx, signedCallback(resp.TransactionID, "CANCELED", "100", "0001TX5"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)

	txn, err := repo.Get(ctx, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, txn.Status)
	assert.NotNil(t, txn.FinalizedAt)
}

func TestService_HandleCallback_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown transaction creates nothing", func(t *testing.T) {
		checker := completeChecker("")
		svc, repo := newTestService(t, checker)

		unknown := uuid.New()
		_, err := svc.HandleCallback(ctx, signedCallback(unknown, "COMPLETE", "100", "X"))
		assert.ErrorIs(t, err, ErrTransactionNotFound)
		assert.EqualValues(t, 0, checker.calls.Load())

		_, err = repo.Get(ctx, unknown)
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		svc, _ := newTestService(t, completeChecker(""))
		payload := signedCallback(uuid.New(), "COMPLETE", "100", "X")
		payload.TransactionUUID = "not-a-uuid"

		_, err := svc.HandleCallback(ctx, payload)
		assert.ErrorIs(t, err, ErrMalformedCallback)
	})

	t.Run("forged amount never overrides the recorded one", func(t *testing.T) {
		checker := completeChecker("")
		svc, repo := newTestService(t, checker)

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		// Forged, but correctly signed for the forged amount: the amount
		// cross-check against stored state must still reject it.
		_, err = svc.HandleCallback(ctx, signedCallback(resp.TransactionID, "COMPLETE", "1", "X"))
		assert.ErrorIs(t, err, ErrAmountMismatch)
		assert.EqualValues(t, 0, checker.calls.Load())

		txn, err := repo.Get(ctx, resp.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInitiated, txn.Status)
	})

	t.Run("tampered signature", func(t *testing.T) {
		checker := completeChecker("")
		svc, _ := newTestService(t, checker)

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		payload := signedCallback(resp.TransactionID, "COMPLETE", "100", "X")
		payload.Signature = "AAAA" + payload.Signature[4:]

		_, err = svc.HandleCallback(ctx, payload)
		assert.ErrorIs(t, err, ErrSignatureMismatch)
		assert.EqualValues(t, 0, checker.calls.Load())
	})

	t.Run("missing signature", func(t *testing.T) {
		svc, _ := newTestService(t, completeChecker(""))

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		payload := signedCallback(resp.TransactionID, "COMPLETE", "100", "X")
		payload.Signature = ""

		_, err = svc.HandleCallback(ctx, payload)
		assert.ErrorIs(t, err, ErrSignatureMismatch)
	})

	t.Run("unknown signed field name", func(t *testing.T) {
		svc, _ := newTestService(t, completeChecker(""))

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		payload := signedCallback(resp.TransactionID, "COMPLETE", "100", "X")
		payload.SignedFieldNames = "total_amount,evil_field"

		_, err = svc.HandleCallback(ctx, payload)
		assert.ErrorIs(t, err, ErrSignatureMismatch)
	})
}

func TestService_HandleCallback_Replay(t *testing.T) {
	ctx := context.Background()
	checker := completeChecker("0001TX5")
	svc, _ := newTestService(t, checker)

	resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
	require.NoError(t, err)

	payload := signedCallback(resp.TransactionID, "COMPLETE", "100", "0001TX5")

	first, err := svc.HandleCallback(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, first.Status)
	require.EqualValues(t, 1, checker.calls.Load())

	// Replaying the finalized callback any number of times reports the
	// same terminal state and never reaches the gateway again.
	for i := 0; i < 5; i++ {
		replay, err := svc.HandleCallback(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, replay.Status)
		assert.Equal(t, "0001TX5", replay.RemoteReference)
	}
	assert.EqualValues(t, 1, checker.calls.Load())
}

func TestService_HandleCallback_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	checker := completeChecker("0001TX5")
	svc, repo := newTestService(t, checker)

	resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
	require.NoError(t, err)

	payload := signedCallback(resp.TransactionID, "COMPLETE", "100", "0001TX5")

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*CallbackResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.HandleCallback(ctx, payload)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		require.NotNil(t, results[i], "worker %d", i)
	}

	// Exactly one delivery performed the remote check; the record settled
	// exactly once.
	assert.EqualValues(t, 1, checker.calls.Load())

	txn, err := repo.Get(ctx, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)

	completed := 0
	for _, r := range results {
		if r.Status == domain.StatusCompleted {
			completed++
		}
	}
	assert.GreaterOrEqual(t, completed, 1)
}

func TestService_HandleCallback_TransientRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers within the retry budget", func(t *testing.T) {
		var attempts atomic.Int64
		checker := &stubChecker{fn: func(context.Context, string, decimal.Decimal, uuid.UUID) (*provider.StatusResult, error) {
			if attempts.Add(1) < 3 {
				return nil, fmt.Errorf("connect: %w", provider.ErrGatewayUnavailable)
			}
			return &provider.StatusResult{Status: provider.StatusComplete, RemoteReference: "0001TX5"}, nil
		}}
		svc, _ := newTestService(t, checker)

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		result, err := svc.HandleCallback(ctx, signedCallback(resp.TransactionID, "COMPLETE", "100", "0001TX5"))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, result.Status)
		assert.EqualValues(t, 3, checker.calls.Load())
	})

	t.Run("exhausted retries leave the transaction verifying", func(t *testing.T) {
		checker := &stubChecker{fn: func(context.Context, string, decimal.Decimal, uuid.UUID) (*provider.StatusResult, error) {
			return nil, fmt.Errorf("timeout: %w", provider.ErrGatewayUnavailable)
		}}
		svc, repo := newTestService(t, checker)

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		result, err := svc.HandleCallback(ctx, signedCallback(resp.TransactionID, "COMPLETE", "100", "0001TX5"))
		require.NoError(t, err)
		assert.True(t, result.Unresolved)
		assert.Equal(t, domain.StatusVerifying, result.Status)
		assert.EqualValues(t, 3, checker.calls.Load())

		// Not failed: an unreachable gateway is not a failed payment.
		txn, err := repo.Get(ctx, resp.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusVerifying, txn.Status)
		assert.Nil(t, txn.FinalizedAt)
	})

	t.Run("definitive error finalizes failed", func(t *testing.T) {
		checker := &stubChecker{fn: func(context.Context, string, decimal.Decimal, uuid.UUID) (*provider.StatusResult, error) {
			return nil, fmt.Errorf("http 400: %w", provider.ErrStatusCheckRejected)
		}}
		svc, repo := newTestService(t, checker)

		resp, err := svc.BuildPaymentRequest(ctx, decimal.NewFromInt(100), "Book")
		require.NoError(t, err)

		result, err := svc.HandleCallback(ctx, signedCallback(resp.TransactionID, "COMPLETE", "100", "0001TX5"))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, result.Status)
		assert.EqualValues(t, 1, checker.calls.Load())

		txn, err := repo.Get(ctx, resp.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, txn.Status)
	})
}

func TestService_HandleCallback_StoredAmountDrivesVerification(t *testing.T) {
	ctx := context.Background()

	var seenAmount decimal.Decimal
	checker := &stubChecker{fn: func(_ context.Context, _ string, totalAmount decimal.Decimal, _ uuid.UUID) (*provider.StatusResult, error) {
		seenAmount = totalAmount
		return &provider.StatusResult{Status: provider.StatusComplete, RemoteReference: "R"}, nil
	}}
	svc, _ := newTestService(t, checker)

	resp, err := svc.BuildPaymentRequest(ctx, decimal.RequireFromString("150.50"), "Book")
	require.NoError(t, err)

	_, err = svc.HandleCallback(ctx, signedCallback(resp.TransactionID, "COMPLETE", "150.50", "R"))
	require.NoError(t, err)
	assert.True(t, seenAmount.Equal(decimal.RequireFromString("150.50")))
}

func TestService_NewService_InvalidMinAmount(t *testing.T) {
	_, err := NewService(
		NewMemoryRepository(),
		signature.NewEngine(testSecret),
		completeChecker(""),
		config.EsewaConfig{MinAmount: "not-a-number"},
		config.VerifyConfig{},
		metrics.New("test", prometheus.NewRegistry()),
		zap.NewNop(),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_amount")
}
