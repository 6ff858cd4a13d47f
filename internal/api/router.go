package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/flow"
	"tuition-payflow/internal/quote"
)

// Options configure the HTTP surface.
type Options struct {
	CookieName     string
	SecureCookie   bool
	RateRPS        float64
	RateBurst      int
	WebhookSecret  string
	StreamInterval time.Duration
}

// NewRouter mounts the wizard API under /api/v1.
func NewRouter(flows *flow.Registry, quotes *quote.Requester, api backend.API, opts Options, logger zerolog.Logger) http.Handler {
	if opts.CookieName == "" {
		opts.CookieName = "payflow_session"
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = time.Second
	}
	h := &Handlers{
		flows:          flows,
		quotes:         quotes,
		api:            api,
		streamInterval: opts.StreamInterval,
		logger:         logger.With().Str("component", "api").Logger(),
	}
	limit := newLimiter(opts.RateRPS, opts.RateBurst)

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/exchange-rate", h.ExchangeRate)
		r.Get("/transactions/{id}/status", h.TransactionStatus)
		r.With(webhookAuth(opts.WebhookSecret)).Post("/webhooks/settlement", h.SettlementWebhook)

		r.Route("/session", func(r chi.Router) {
			r.Use(sessionCookie(opts.CookieName, opts.SecureCookie))

			r.Get("/", h.GetSession)
			r.Get("/stream", h.StreamSession)
			r.Post("/identity", h.SubmitIdentity)
			r.Post("/identity/confirm", h.ConfirmCustomer)
			r.Post("/delivery", h.SubmitDelivery)
			r.With(limit.middleware).Post("/quote", h.RequestQuote)
			r.Post("/minimum-notice/dismiss", h.DismissMinimum)
			r.Post("/authorize", h.Authorize)
			r.With(limit.middleware).Post("/pix", h.GeneratePix)
			r.Get("/pix/qr.png", h.PixQR)
			r.Post("/back", h.Back)
			r.Post("/expiry", h.Expiry)
			r.Post("/restart", h.Restart)
		})
	})

	return r
}
