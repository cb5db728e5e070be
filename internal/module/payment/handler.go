package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/CodexAarogya/Payment-Gateways-Integration/internal/shared/errors"
)

// Handler handles HTTP requests for payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment API routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.CreatePayment)
		payments.GET("/:id", h.GetTransaction)
	}
}

// RegisterCallbackRoutes registers the gateway redirect endpoints. These
// sit outside the API group because the gateway, not the merchant client,
// drives them.
func (h *Handler) RegisterCallbackRoutes(r *gin.Engine) {
	r.GET("/payments/callback/success", h.HandleCallback)
	r.GET("/payments/callback/failure", h.HandleCallback)
}

// CreatePayment builds a signed payment form for the gateway redirect.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(c, apperrors.InvalidAmount("amount is not a valid decimal"))
		return
	}

	resp, err := h.service.BuildPaymentRequest(c.Request.Context(), amount, req.ProductName)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetTransaction returns the current state of a transaction.
func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid transaction id"))
		return
	}

	txn, err := h.service.GetTransaction(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewTransactionResponse(txn))
}

// HandleCallback processes a gateway redirect. The gateway appends a
// base64-encoded JSON payload in the data query parameter.
func (h *Handler) HandleCallback(c *gin.Context) {
	encoded := c.Query("data")
	if encoded == "" {
		respondError(c, apperrors.CallbackRejected())
		return
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		respondError(c, apperrors.CallbackRejected())
		return
	}

	var payload CallbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		respondError(c, apperrors.CallbackRejected())
		return
	}

	result, err := h.service.HandleCallback(c.Request.Context(), &payload)
	if err != nil {
		// An unknown id is indistinguishable from a forgery here; keep the
		// response as generic as any other rejection.
		if errors.Is(err, ErrTransactionNotFound) {
			respondError(c, apperrors.CallbackRejected())
			return
		}
		handleServiceError(c, err)
		return
	}

	if result.Unresolved {
		c.JSON(http.StatusAccepted, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleServiceError maps module errors to HTTP responses. Validation and
// authentication failures collapse to a generic rejection so a forger
// learns nothing about stored state.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		respondError(c, apperrors.InvalidAmount(err.Error()))
	case errors.Is(err, ErrTransactionNotFound):
		respondError(c, apperrors.NotFound("transaction"))
	case errors.Is(err, ErrMalformedCallback),
		errors.Is(err, ErrSignatureMismatch),
		errors.Is(err, ErrAmountMismatch):
		respondError(c, apperrors.CallbackRejected())
	case errors.Is(err, ErrDuplicateTransaction):
		respondError(c, apperrors.Conflict("transaction id collision"))
	default:
		respondError(c, apperrors.Internal("payment processing failed", err))
	}
}

func respondError(c *gin.Context, appErr *apperrors.AppError) {
	_ = c.Error(appErr)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
