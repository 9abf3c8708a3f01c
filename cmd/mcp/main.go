package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/wenda-project/wenda/internal/adapters/mcp"
	"github.com/wenda-project/wenda/internal/bootstrap"
	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// Stdout carries the MCP transport; logs must stay on stderr.
	logger := logging.NewStderrJSONLogger("mcp", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	srv := mcpadapter.NewServer(app.Answer, app.Retriever, logger)
	if err := srv.Serve(); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
