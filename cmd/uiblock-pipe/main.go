// Command uiblock-pipe forwards its standard input to a uiblocks server
// session and prints the display text, with UI blocks stripped, to
// standard output.
//
// Usage:
//
//	my-program | uiblock-pipe -server http://localhost:8000 -session demo
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/pipe"
)

func main() {
	server := flag.String("server", envOr("UIBLOCKS_SERVER", "http://localhost:8000"), "uiblocks server url")
	session := flag.String("session", os.Getenv("UIBLOCKS_SESSION"), "session id, generated when empty")
	chunk := flag.Int("chunk", pipe.DefaultChunkSize, "bytes read per request")
	retries := flag.Int("retries", 3, "retries for requests that never reached the server")
	keep := flag.Bool("keep", false, "keep the session when input ends")
	verbose := flag.Bool("v", false, "log to stderr at debug level")
	flag.Parse()

	cfg := logging.Config{Level: "warn", OutputPaths: []string{"stderr"}}
	if *verbose {
		cfg.Level = "debug"
	}
	logger, err := logging.New(cfg)
	if err != nil {
		logger = logging.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	os.Exit(run(logger, pipe.Config{BaseURL: *server, SessionID: *session, MaxRetries: *retries}, *chunk, *keep))
}

func run(logger *logging.Logger, cfg pipe.Config, chunk int, keep bool) int {
	client, err := pipe.NewClient(cfg)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 2
	}
	logger = logger.Session(client.SessionID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := pipe.Pump(ctx, client, os.Stdin, os.Stdout, chunk)
	logger.Debug("input finished", zap.Int("chunks", n), zap.Error(err))

	code := 0
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipe failed", zap.Error(err))
		code = 1
	}
	if !keep {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("failed to close session", zap.Error(err))
		}
	}
	return code
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
