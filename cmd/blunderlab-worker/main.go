// blunderlab-worker drains the task queues: provider imports on the
// serialized imports queue, engine analysis and batch coordination on
// the default queue. Several worker processes may run side by side.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

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

	if a.Cache != nil {
		go cacheGCLoop(ctx, a)
	}

	logrus.WithFields(logrus.Fields{
		"imports_concurrency":  a.Cfg.ImportsQueueConcurrency,
		"analysis_concurrency": a.Cfg.AnalysisQueueConcurrency,
	}).Info("worker started")

	// Blocks until the context is cancelled and in-flight tasks drain.
	a.Runtime.Run(ctx)

	logrus.Info("worker stopped")
}

func cacheGCLoop(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Cache.RunGC()
		}
	}
}
