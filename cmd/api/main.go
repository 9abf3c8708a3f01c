package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/wenda-project/wenda/internal/adapters/http"
	"github.com/wenda-project/wenda/internal/bootstrap"
	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/observability/logging"
	"github.com/wenda-project/wenda/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	// Workers index on their own machines; refresh events tell this
	// instance to reload the lexical snapshot. The subscription blocks
	// until shutdown.
	go func() {
		if err := app.Queue.SubscribeIndexRefresh(ctx, func(refreshCtx context.Context) error {
			return app.Lexical.Refresh(refreshCtx)
		}); err != nil {
			logger.Warn("index_refresh_subscribe_failed", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.Limiter.Prune()
			}
		}
	}()

	router := httpadapter.NewRouter(
		app.Answer,
		app.IngestUC,
		app.Repo,
		app.RetrievalLog,
		app.Vectors,
		app.Lexical,
		app.Limiter,
		metrics.NewHTTPServerMetrics("api"),
		logger,
	).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming answers hold the connection open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("api listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}
}
