// blunderlab is the HTTP API server: it accepts import and analysis
// requests, tracks job status and streams analysis notifications, while
// worker processes drain the queues.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/api"
	"github.com/blunderlab/blunderlab/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Boot(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("boot")
	}
	defer a.Close()

	if a.Cfg.SecretKey == "" {
		logrus.Fatal("config: SECRET_KEY is required for the API server")
	}

	srv := api.New(api.Options{
		Store:       a.DB,
		Runtime:     a.Runtime,
		Bus:         a.Bus,
		Auth:        api.NewHMACAuthenticator(a.Cfg.SecretKey),
		Engines:     a.Engines,
		Limit:       a.Limit,
		CORSOrigins: a.Cfg.CORSOrigins,
	})

	httpSrv := &http.Server{
		Addr:              a.Cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", a.Cfg.HTTPAddr).Info("api server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("http server")
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("forced shutdown")
	}
}
