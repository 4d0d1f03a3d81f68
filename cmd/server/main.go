package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/samhotchkiss/otter-relay/internal/agent"
	"github.com/samhotchkiss/otter-relay/internal/api"
	"github.com/samhotchkiss/otter-relay/internal/automigrate"
	"github.com/samhotchkiss/otter-relay/internal/backend"
	"github.com/samhotchkiss/otter-relay/internal/command"
	"github.com/samhotchkiss/otter-relay/internal/config"
	"github.com/samhotchkiss/otter-relay/internal/conversation"
	"github.com/samhotchkiss/otter-relay/internal/mcp"
	relaymw "github.com/samhotchkiss/otter-relay/internal/middleware"
	"github.com/samhotchkiss/otter-relay/internal/processor"
	"github.com/samhotchkiss/otter-relay/internal/reply"
	"github.com/samhotchkiss/otter-relay/internal/scheduler"
	"github.com/samhotchkiss/otter-relay/internal/store"
	"github.com/samhotchkiss/otter-relay/internal/webhook"
	"github.com/samhotchkiss/otter-relay/internal/ws"
)

var version = "dev"

func main() {
	portFlag := pflag.String("port", "", "listen port (overrides PORT)")
	storeFlag := pflag.String("store", "", "session store: redis, postgres or memory (overrides STORE_BACKEND)")
	migrateFlag := pflag.Bool("migrate", false, "apply database migrations on startup (postgres store)")
	versionFlag := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *versionFlag {
		fmt.Println(getVersion())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if *storeFlag != "" {
		cfg.Store.Backend = strings.ToLower(*storeFlag)
	}
	if *migrateFlag {
		cfg.Store.AutoMigrate = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(store.Options{
		Backend:     cfg.Store.Backend,
		RedisURL:    cfg.Store.RedisURL,
		DatabaseURL: cfg.Store.DatabaseURL,
	})
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	if err := prepareStore(st, cfg, logger); err != nil {
		return err
	}

	b, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	assembler := reply.New(cfg.MaxMessageLength)
	manager := conversation.NewManager(st, conversation.Options{
		TTL:          cfg.Store.SessionTTL,
		StoreTimeout: cfg.Store.Timeout,
		Logger:       logger.With("component", "conversation"),
	})
	proc, err := processor.New(processor.Options{
		Manager:            manager,
		Dispatcher:         command.NewDispatcher(b, assembler, logger.With("component", "command")),
		Reasoner:           agent.NewTaskAgent(b, assembler, logger.With("component", "agent")),
		Assembler:          assembler,
		Events:             hub,
		BackendTimeout:     cfg.Backend.Timeout,
		SerializePerSender: cfg.SerializePerSender,
		Logger:             logger.With("component", "processor"),
	})
	if err != nil {
		return err
	}

	if purger, ok := st.(store.Purger); ok {
		schedule, err := scheduler.ParseSchedule(cfg.Store.SweepSchedule, "UTC")
		if err != nil {
			return fmt.Errorf("STORE_SWEEP_INTERVAL: %w", err)
		}
		worker := scheduler.NewExpiryWorker(purger, scheduler.ExpiryWorkerConfig{Schedule: schedule})
		worker.Logger = logger.With("component", "sweeper")
		go worker.Start(ctx)
	}

	var verifier *webhook.Verifier
	if cfg.Twilio.ValidateSignature {
		verifier = webhook.NewVerifier(cfg.Twilio.AuthToken).WithPublicBaseURL(cfg.Twilio.PublicBaseURL)
	} else {
		logger.Warn("twilio signature validation disabled")
	}

	router := api.NewRouter(api.Deps{
		Processor:        proc,
		Verifier:         verifier,
		Allowlist:        relaymw.NewAllowlist(cfg.Twilio.AllowedNumbers, logger),
		Hub:              hub,
		OpsFeedToken:     cfg.OpsFeedToken,
		WSAllowedOrigins: cfg.WSAllowedOrigins,
		StoreBackend:     cfg.Store.Backend,
		StorePing:        storePing(st),
		History:          manager,
		Version:          getVersion(),
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	logger.Info("server starting",
		"port", cfg.Port,
		"env", cfg.Environment,
		"store", cfg.Store.Backend,
		"serialize_per_sender", cfg.SerializePerSender,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

func newLogger(w io.Writer, environment, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if (config.Config{Environment: environment}).IsDevelopment() {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildBackend dials AutoCoder, or serves the in-process stub when no URL is
// configured in development.
func buildBackend(cfg config.Config, logger *slog.Logger) (backend.Backend, error) {
	if cfg.Backend.MCPURL == "" {
		if !cfg.IsDevelopment() {
			return nil, errors.New("AUTOCODER_MCP_URL is required")
		}
		server := mcp.NewServer("autocoder-stub", getVersion())
		if err := backend.NewStub(backend.StubOptions{}).Register(server); err != nil {
			return nil, err
		}
		logger.Warn("AUTOCODER_MCP_URL not set, using in-process stub backend")
		return backend.NewClient(mcp.NewInProcessCaller(server), logger.With("component", "backend")), nil
	}

	caller, err := mcp.Dial(cfg.Backend.MCPURL, cfg.Backend.APIKey, cfg.Backend.Timeout)
	if err != nil {
		return nil, err
	}
	return backend.NewClient(caller, logger.With("component", "backend")), nil
}

func prepareStore(st store.Store, cfg config.Config, logger *slog.Logger) error {
	pg, ok := st.(*store.PostgresStore)
	if !ok || !cfg.Store.AutoMigrate {
		return nil
	}
	db, err := pg.DB()
	if err != nil {
		return fmt.Errorf("connect DATABASE_URL: %w", err)
	}
	return automigrate.Run(db, logger.With("component", "migrate"))
}

func storePing(st store.Store) func(context.Context) error {
	switch s := st.(type) {
	case *store.RedisStore:
		return s.Ping
	case *store.PostgresStore:
		return s.Ping
	default:
		return nil
	}
}

func closeStore(st store.Store, logger *slog.Logger) {
	closer, ok := st.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("store close failed", "err", err)
	}
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return version
}
