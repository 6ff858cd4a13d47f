package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tuition-payflow/internal/api"
	"tuition-payflow/internal/flow"
	"tuition-payflow/internal/pix"
	"tuition-payflow/internal/scheduler"
	"tuition-payflow/internal/session"
	"tuition-payflow/internal/settlement"
	"tuition-payflow/internal/storage"
)

const sweepInterval = time.Minute

// Serve runs the payment wizard HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	backendAPI := a.newBackend()
	quotes := a.newRequester(backendAPI, store)

	deps := flow.Deps{
		API:    backendAPI,
		Quotes: quotes,
		Pix:    pix.NewGenerator(backendAPI, a.Logger),
		Poller: settlement.NewPoller(backendAPI, settlement.Options{
			Interval:    a.Config.Poller.Interval,
			MaxDuration: a.Config.Poller.MaxDuration,
		}, a.Logger),
		Notifier: a.newNotifier(),
		Logger:   a.Logger,
		Window:   a.Config.Flow.QuoteWindow,
	}
	sessionOpts := session.Options{Window: a.Config.Flow.QuoteWindow, MaxAge: a.Config.Flow.SessionMaxAge}
	stores := func(id string) flow.SessionStore {
		return session.NewKVStore(storage.NewNamespace(store, id), sessionOpts, a.Logger)
	}

	idle := a.Config.Flow.SessionMaxAge
	if a.Config.Poller.MaxDuration > idle {
		idle = a.Config.Poller.MaxDuration
	}
	registry := flow.NewRegistry(ctx, deps, stores, flow.RegistryOptions{
		TickInterval: a.Config.Flow.TickInterval,
		IdleTTL:      2 * idle,
	})
	defer registry.Close()

	sweeper := scheduler.New(scheduler.Options{Interval: sweepInterval, Name: "flow_sweep"}, a.Logger)
	go func() {
		_ = sweeper.Run(ctx, func(context.Context, int) error {
			registry.Sweep()
			return nil
		})
	}()

	srv := &http.Server{
		Addr: a.Config.Server.Addr,
		Handler: api.NewRouter(registry, quotes, backendAPI, api.Options{
			CookieName:     a.Config.Server.CookieName,
			SecureCookie:   a.Config.App.Environment == "production",
			RateRPS:        a.Config.Server.RateRPS,
			RateBurst:      a.Config.Server.RateBurst,
			WebhookSecret:  a.Config.Server.WebhookSecret,
			StreamInterval: a.Config.Server.StreamInterval,
		}, a.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Str("storage", a.Config.Storage.Driver).Msg("starting payment wizard")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.Logger.Error().Err(err).Msg("server terminated with error")
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("graceful shutdown incomplete")
	}

	a.Logger.Info().Msg("payment wizard stopped")
	return nil
}
