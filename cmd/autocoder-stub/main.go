// Command autocoder-stub serves a simulated AutoCoder MCP endpoint for local
// development of the relay.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"

	"github.com/samhotchkiss/otter-relay/internal/backend"
	"github.com/samhotchkiss/otter-relay/internal/mcp"
)

func main() {
	addr := pflag.String("addr", ":4300", "listen address")
	apiKey := pflag.String("api-key", os.Getenv("AUTOCODER_API_KEY"), "bearer key clients must present (empty disables auth)")
	taskDuration := pflag.Duration("task-duration", 5*time.Second, "simulated task run time")
	fileBaseURL := pflag.String("file-base-url", "http://localhost:4300/files", "prefix for generated file links")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	router, err := newRouter(*apiKey, backend.StubOptions{
		TaskDuration: *taskDuration,
		FileBaseURL:  *fileBaseURL,
	}, logger)
	if err != nil {
		logger.Error("stub setup failed", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: *addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("stub shutdown error", "err", err)
		}
	}()

	logger.Info("autocoder stub starting", "addr", *addr, "auth", *apiKey != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("stub server error", "err", err)
		os.Exit(1)
	}
	<-shutdownDone
}

func newRouter(apiKey string, opts backend.StubOptions, logger *slog.Logger) (http.Handler, error) {
	server := mcp.NewServer("autocoder-stub", "dev")
	if err := backend.NewStub(opts).Register(server); err != nil {
		return nil, err
	}
	auth := mcp.NewTokenAuthenticator(apiKey)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Handle("/mcp", mcp.NewHTTPHandler(server, auth))
	r.Handle("/mcp/ws", mcp.NewWebSocketHandler(server, auth, logger))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r, nil
}
