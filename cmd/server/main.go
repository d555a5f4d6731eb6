package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/config"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	port := flag.String("port", cfg.Server.Port, "HTTP port")
	grpcAddr := flag.String("grpc", cfg.GRPC.Address, "gRPC health address, empty to disable")
	marker := flag.String("marker", cfg.Engine.Marker, "block start marker")
	history := flag.String("history", cfg.History.Path, "fragment history database, empty to disable")
	dev := flag.Bool("dev", cfg.Logging.Development, "development logging")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.GRPC.Address = *grpcAddr
	cfg.GRPC.Enabled = cfg.GRPC.Enabled && *grpcAddr != ""
	cfg.Engine.Marker = *marker
	cfg.History.Path = *history
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server error: %v", err)
	}
}
