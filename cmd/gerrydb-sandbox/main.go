// Command gerrydb-sandbox serves the in-memory GerryDB API for local
// development. Point a client at it with the exported GERRYDB_HOST and
// GERRYDB_KEY.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb"
	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb/mock"
)

type failConfig struct {
	rate float64
	code int
}

type sandboxFlags struct {
	addr     string
	apiKey   string
	latency  time.Duration
	fail     string
	logLevel string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: read .env: %v\n", err)
	}
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := sandboxFlags{}
	cmd := &cobra.Command{
		Use:   "gerrydb-sandbox",
		Short: "Serve an in-memory GerryDB API",
		Long: `gerrydb-sandbox runs an in-memory GerryDB API under /api/v1 with
artificial latency and failure injection for exercising clients.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", envOr("GERRYDB_SANDBOX_ADDR", ":8000"), "listen address")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", envOr("GERRYDB_SANDBOX_KEY", mock.DefaultAPIKey), "API key accepted by the sandbox")
	cmd.Flags().DurationVar(&flags.latency, "latency", 0, "artificial latency to inject per request")
	cmd.Flags().StringVar(&flags.fail, "fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", envOr("GERRYDB_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	return cmd
}

func run(ctx context.Context, flags sandboxFlags) error {
	failCfg, err := parseFailConfig(flags.fail)
	if err != nil {
		return fmt.Errorf("parse fail flag: %w", err)
	}
	logger := gerrydb.NewLogger(flags.logLevel).With(zap.String("component", "sandbox"))
	defer func() { _ = logger.Sync() }()

	api := mock.NewServer(mock.WithAPIKey(flags.apiKey), mock.WithLogger(logger))
	server := &http.Server{
		Addr:              flags.addr,
		Handler:           withMiddleware(flags.latency, failCfg, api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("gerrydb-sandbox listening", zap.String("addr", flags.addr))
	host := flags.addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	fmt.Println()
	fmt.Printf("export GERRYDB_HOST=http://%s\n", host)
	fmt.Printf("export GERRYDB_KEY=%s\n", api.APIKey())
	fmt.Println()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func withMiddleware(delay time.Duration, failCfg failConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"detail":"failure injected"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		switch strings.TrimSpace(keyVal[0]) {
		case "rate":
			val, err := strconv.ParseFloat(strings.TrimSpace(keyVal[1]), 64)
			if err != nil {
				return failConfig{}, err
			}
			if val < 0 || val > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v outside [0, 1]", val)
			}
			cfg.rate = val
		case "code":
			val, err := strconv.Atoi(strings.TrimSpace(keyVal[1]))
			if err != nil {
				return failConfig{}, err
			}
			cfg.code = val
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", keyVal[0])
		}
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
