package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/bizpilot/bizpilot/internal/api"
	"github.com/bizpilot/bizpilot/internal/ollama"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, triage workers and MCP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run triage workers only, without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the starter knowledge base (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed()
	},
}

func runServe() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Server.APIToken == "" {
		return fmt.Errorf("server.apiToken (or BIZPILOT_API_TOKEN) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !ollama.New(a.cfg.Ollama.BaseURL, 0).IsRunning(ctx) {
		a.logger.Warn("inference engine not reachable, model calls will fail until it is up",
			"base_url", a.cfg.Ollama.BaseURL)
	}

	handler := api.NewHandler(api.Deps{
		Store:             a.store,
		Corpus:            a.corpus,
		Token:             a.cfg.Server.APIToken,
		MaxAttempts:       a.cfg.Orchestrator.MaxAttempts,
		AutoSendThreshold: a.cfg.Review.AutoSendThreshold,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		if err := a.orchestrator.Run(ctx); err != nil {
			a.logger.Error("orchestrator stopped", "error", err)
		}
	}()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:             a.store,
		Retriever:         a.retriever,
		AutoSendThreshold: a.cfg.Review.AutoSendThreshold,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("MCP stdio server error", "error", err)
		}
	}()
	a.logger.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runWorker() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("triage workers started", "workers", a.cfg.Orchestrator.Workers)
	return a.orchestrator.Run(ctx)
}

func runSeed() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := a.corpus.Seed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d knowledge documents\n", n)
	return nil
}
