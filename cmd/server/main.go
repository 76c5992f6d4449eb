package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // zone database for ?tz= on minimal images

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ijg0341/vibe-review-sub000/internal/api"
	"github.com/ijg0341/vibe-review-sub000/internal/config"
	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/ingest"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/ratelimit"
	"github.com/ijg0341/vibe-review-sub000/internal/storage"
	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

var version string

const usage = `usage: server [command]

commands:
  (none)                   run the HTTP server
  worker                   run the stats worker
  migrate                  apply database migrations and exit
  create-key <name> <owner>
                           create an API key and print it once
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "":
		runServer()
	case "worker":
		runWorker()
	case "migrate":
		runMigrate()
	case "create-key":
		if len(args) != 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		runCreateKey(args[1], args[2])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func runServer() {
	// Access via an SSH tunnel or proxy to 127.0.0.1:6060.
	if os.Getenv("ENABLE_PPROF") == "true" {
		go startPprofServer()
	}

	// Configured via env vars: OTEL_SERVICE_NAME, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_HEADERS
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		// Non-fatal: continue without tracing if OTEL env vars not set
		logger.Warn("failed to configure OpenTelemetry", "error", err)
	} else {
		defer otelShutdown()
	}

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations are applied separately with `server migrate`.
	database, err := db.ConnectWithRetry(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	store, err := storage.NewS3Storage(ctx, cfg.S3Config)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}

	processor, err := newProcessor(cfg.RulesFile)
	if err != nil {
		logger.Fatal("failed to load subagent rules", "file", cfg.RulesFile, "error", err)
	}
	svc, err := ingest.NewService(database, store, ingest.WithProcessor(processor))
	if err != nil {
		logger.Fatal("failed to create ingest service", "error", err)
	}

	uploadLimiter := ratelimit.NewKeyedLimiter(cfg.UploadRateLimitRPS, cfg.UploadRateLimitBurst)
	defer uploadLimiter.Stop()
	classifyLimiter := ratelimit.NewKeyedLimiter(cfg.ClassifyRateLimitRPS, cfg.ClassifyRateLimitBurst)
	defer classifyLimiter.Stop()

	server := api.NewServer(database, store, svc, api.Config{
		AllowedOrigins:  cfg.AllowedOrigins,
		UploadLimiter:   uploadLimiter,
		ClassifyLimiter: classifyLimiter,
	})
	handler := otelhttp.NewHandler(server.SetupRoutes(), "vibe-review-server")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "version", version,
			"allowed_origins", len(cfg.AllowedOrigins))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

// newProcessor builds the transcript processor, using the subagent rules in
// rulesFile when one is configured.
func newProcessor(rulesFile string) (*transcript.Processor, error) {
	if rulesFile == "" {
		return transcript.NewProcessor(nil), nil
	}
	detector, err := config.DetectorFromFile(rulesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded subagent rules", "file", rulesFile, "subagents", len(detector.KnownSubagents()))
	return transcript.NewProcessor(detector), nil
}

// startPprofServer serves pprof on localhost:6060 only.
func startPprofServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	addr := "127.0.0.1:6060"
	logger.Info("pprof debug server starting", "addr", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("pprof server failed", "error", err)
	}
}
