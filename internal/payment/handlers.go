package payment

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/invoice"
)

// Handler exposes HTTP endpoints for checkout sessions and payment status.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type checkoutReq struct {
	InvoiceID       string `json:"invoice_id" validate:"required,uuid"`
	StripeAccountID string `json:"stripe_account_id" validate:"omitempty,startswith=acct_"`
}

type checkoutResp struct {
	CheckoutURL string `json:"checkout_url"`
}

type paymentStatusResp struct {
	InvoiceID       string          `json:"invoice_id"`
	Status          string          `json:"status"`
	CheckoutURL     string          `json:"checkout_url,omitempty"`
	PaymentIntentID string          `json:"stripe_payment_intent_id,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	AmountPaidCents int64           `json:"amount_paid_cents"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	Total           decimal.Decimal `json:"total"`
	BalanceDue      decimal.Decimal `json:"balance_due"`
}

// CreateCheckoutSession opens a hosted checkout for the authenticated user's invoice.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout unavailable", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Unauthorized", nil)
		return
	}
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteError(w, common.BadRequest("invalid body", err))
		return
	}
	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	req.StripeAccountID = strings.TrimSpace(req.StripeAccountID)
	if err := h.validator().Struct(req); err != nil {
		common.WriteError(w, validationError(err))
		return
	}
	res, err := h.Svc.CreateCheckoutSession(r.Context(), userID, CheckoutRequest{
		InvoiceID:       req.InvoiceID,
		StripeAccountID: req.StripeAccountID,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, checkoutResp{CheckoutURL: res.CheckoutURL})
}

// PaymentStatus reports the payment fields of an invoice owned by the caller.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "payment status unavailable", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Unauthorized", nil)
		return
	}
	inv, err := h.Svc.InvoicePayment(r.Context(), userID, chi.URLParam(r, "invoiceID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, paymentStatusResp{
		InvoiceID:       inv.ID.String(),
		Status:          inv.Status.String(),
		CheckoutURL:     inv.StripeCheckoutURL,
		PaymentIntentID: inv.StripePaymentIntentID,
		PaidAt:          inv.PaidAt,
		AmountPaidCents: inv.AmountPaidCents,
		AmountPaid:      invoice.FromMinorUnits(inv.AmountPaidCents),
		PaidAmount:      inv.PaidAmount,
		Total:           inv.Total,
		BalanceDue:      inv.BalanceDue(),
	})
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return defaultValidator
}

var defaultValidator = validator.New()

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return common.BadRequest("invalid body", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldName(fe.Field())] = fe.Tag()
	}
	msg := "invalid request"
	if _, missing := fields["invoice_id"]; missing {
		msg = "invoice_id is required and must be a valid identifier"
	}
	appErr := common.BadRequest(msg, err)
	appErr.Details = fields
	return appErr
}

func fieldName(goName string) string {
	switch goName {
	case "InvoiceID":
		return "invoice_id"
	case "StripeAccountID":
		return "stripe_account_id"
	default:
		return strings.ToLower(goName)
	}
}
