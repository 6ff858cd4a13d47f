package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/flow"
	"tuition-payflow/internal/kyc"
	"tuition-payflow/internal/pix"
	"tuition-payflow/internal/quote"
)

// Handlers groups the HTTP handlers and their dependencies.
type Handlers struct {
	flows          *flow.Registry
	quotes         *quote.Requester
	api            backend.API
	streamInterval time.Duration
	logger         zerolog.Logger
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

// writeFlowError maps domain errors onto status codes.
func writeFlowError(w http.ResponseWriter, err error) {
	var (
		verrs  kyc.ValidationErrors
		minErr *quote.MinimumAmountError
		apiErr *backend.APIError
	)
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": verrs.Fields()})
	case errors.As(err, &minErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":          minErr.Error(),
			"minimum_amount": true,
			"minimum_usd":    minErr.Minimum,
			"amount_usd":     minErr.AmountUSD,
		})
	case errors.Is(err, quote.ErrInvalidAmount), errors.Is(err, flow.ErrNotAuthorized), errors.Is(err, pix.ErrInvalidSender):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, flow.ErrStepOrder), errors.Is(err, flow.ErrQuoteExpired),
		errors.Is(err, flow.ErrCustomerConfirmation), errors.Is(err, flow.ErrCustomerDeclined):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, backend.UserMessage(err, "payment service error"))
	case errors.Is(err, backend.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment service unavailable, please try again")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) flow(r *http.Request) *flow.Flow {
	return h.flows.Get(r.Context(), sessionID(r))
}

func (h *Handlers) respond(w http.ResponseWriter, f *flow.Flow, err error) {
	if err != nil {
		h.logger.Debug().Err(err).Str("session_id", f.ID()).Msg("flow operation rejected")
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

// --- session ---

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.flow(r).Snapshot())
}

func (h *Handlers) SubmitIdentity(w http.ResponseWriter, r *http.Request) {
	var body domain.Identity
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f := h.flow(r)
	h.respond(w, f, f.SubmitIdentity(r.Context(), body))
}

func (h *Handlers) ConfirmCustomer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UseExisting bool `json:"use_existing"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f := h.flow(r)
	h.respond(w, f, f.ConfirmExistingCustomer(r.Context(), body.UseExisting))
}

func (h *Handlers) SubmitDelivery(w http.ResponseWriter, r *http.Request) {
	var body domain.Delivery
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f := h.flow(r)
	h.respond(w, f, f.SubmitDelivery(r.Context(), body))
}

func (h *Handlers) RequestQuote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount string `json:"amount"`
		Local  bool   `json:"local"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f := h.flow(r)
	_, err := f.RequestQuote(r.Context(), flow.AmountInput{Amount: body.Amount, Local: body.Local})
	h.respond(w, f, err)
}

func (h *Handlers) DismissMinimum(w http.ResponseWriter, r *http.Request) {
	f := h.flow(r)
	f.DismissMinimumNotice()
	h.respond(w, f, nil)
}

func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agreed bool `json:"agreed"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f := h.flow(r)
	err := f.Authorize(r.Context(), body.Agreed)
	if err != nil && f.Snapshot().Step == domain.StepSettlement {
		// Authorized; only the PIX request failed. The snapshot carries the error.
		h.logger.Warn().Err(err).Str("session_id", f.ID()).Msg("automatic pix generation failed")
		err = nil
	}
	h.respond(w, f, err)
}

func (h *Handlers) GeneratePix(w http.ResponseWriter, r *http.Request) {
	f := h.flow(r)
	_, err := f.GeneratePix(r.Context())
	h.respond(w, f, err)
}

func (h *Handlers) PixQR(w http.ResponseWriter, r *http.Request) {
	snap := h.flow(r).Snapshot()
	if snap.Pix == nil || snap.Pix.ResolvedAddress == "" {
		writeError(w, http.StatusNotFound, "no pix payment")
		return
	}
	png, err := pix.QRCode(snap.Pix.ResolvedAddress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr encoding failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handlers) Back(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Step int `json:"step"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f := h.flow(r)
	h.respond(w, f, f.Back(r.Context(), domain.Step(body.Step)))
}

func (h *Handlers) Expiry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f := h.flow(r)
	switch strings.ToLower(body.Action) {
	case "acknowledge":
		f.AcknowledgeExpiry(r.Context())
	case "dismiss":
		f.DismissExpiry()
	default:
		writeError(w, http.StatusBadRequest, `action must be "acknowledge" or "dismiss"`)
		return
	}
	h.respond(w, f, nil)
}

func (h *Handlers) Restart(w http.ResponseWriter, r *http.Request) {
	f := h.flow(r)
	f.Restart(r.Context())
	h.respond(w, f, nil)
}

// --- rates and transactions ---

func (h *Handlers) ExchangeRate(w http.ResponseWriter, r *http.Request) {
	rate, fallback := h.quotes.DisplayRate(r.Context(), r.URL.Query().Get("symbol"))
	writeJSON(w, http.StatusOK, struct {
		Rate     decimal.Decimal `json:"rate"`
		Fallback bool            `json:"fallback"`
	}{rate, fallback})
}

func (h *Handlers) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.api.TransactionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// settlementEvent is the push-listener payload.
type settlementEvent struct {
	TransactionID string `json:"transaction_id"`
	domain.WebhookStatus
}

func (h *Handlers) SettlementWebhook(w http.ResponseWriter, r *http.Request) {
	var body settlementEvent
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	f, ok := h.flows.FindByTransaction(body.TransactionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown transaction")
		return
	}
	done := f.ApplySettlement(r.Context(), body.WebhookStatus)
	h.logger.Info().
		Str("transaction_id", body.TransactionID).
		Str("session_id", f.ID()).
		Bool("completed", done).
		Msg("settlement webhook applied")
	writeJSON(w, http.StatusAccepted, map[string]bool{"completed": done})
}
