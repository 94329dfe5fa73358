package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/legal-rag/internal/adapters/mcp"
	"github.com/kirillkom/legal-rag/internal/bootstrap"
	"github.com/kirillkom/legal-rag/internal/config"
	"github.com/kirillkom/legal-rag/internal/observability/logging"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Service: "mcp"})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	handlers := mcpadapter.NewHandlers(app.Answers, app.Claims, app.Retriever, logger)
	stdio := server.NewStdioServer(mcpadapter.NewServer(handlers, version))
	logger.Info("mcp_serving", "transport", "stdio")
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
