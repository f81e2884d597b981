package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"pmexecutor/src/handler"
)

// ReconcileTrigger requests an on-demand reconciliation pass.
type ReconcileTrigger interface {
	Trigger()
}

// StartServer serves the signal webhook and operator endpoints until the
// context is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, port string, signals *handler.SignalHandler, reconcile ReconcileTrigger) error {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Post("/signals", signals.HandleSignal)
	r.Get("/orders", signals.HandleOrders)
	r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		reconcile.Trigger()
		w.WriteHeader(http.StatusAccepted)
	})

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}

	return nil
}
