// Command collab-server starts the collaborative design editing server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/collab-studio/internal/config"
	"github.com/and161185/collab-studio/internal/logging"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, opens the listeners and runs the server until a
// termination signal arrives.
func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	httpAddr := flag.String("http-addr", "", "websocket/metrics listen address")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (selects postgres storage)")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key")
	tokenSalt := flag.String("token-salt", "", "connection secret salt")
	fanoutDriver := flag.String("fanout", "", "fan-out driver: local|redis")
	redisAddr := flag.String("redis-addr", "", "redis address for fan-out")
	logLevel := flag.String("log-level", "", "log level")
	certFile := flag.String("tls-cert", "", "TLS certificate (PEM) for gRPC")
	keyFile := flag.String("tls-key", "", "TLS private key (PEM) for gRPC")
	dev := flag.Bool("dev", false, "enable server reflection (dev only)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http-addr":
			cfg.HTTP.Addr = *httpAddr
		case "grpc-addr":
			cfg.GRPC.Addr = *grpcAddr
		case "dsn":
			cfg.Storage.Driver = config.StoragePostgres
			cfg.Storage.DSN = *dsn
		case "jwt-key":
			cfg.Auth.JWTKey = *jwtKey
		case "token-salt":
			cfg.Auth.TokenSalt = *tokenSalt
		case "fanout":
			cfg.Fanout.Driver = *fanoutDriver
		case "redis-addr":
			cfg.Fanout.RedisAddr = *redisAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "tls-cert":
			cfg.GRPC.CertFile = *certFile
		case "tls-key":
			cfg.GRPC.KeyFile = *keyFile
		case "dev":
			cfg.GRPC.Reflection = *dev
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("grpc_addr", cfg.GRPC.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("fanout", cfg.Fanout.Driver),
	)

	var grpcOpts []grpc.ServerOption
	if cfg.GRPC.CertFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.CertFile, cfg.GRPC.KeyFile)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		logger.Fatal("listen http", zap.Error(err))
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	if err := run(ctx, cfg, logger, httpLis, grpcLis, grpcOpts...); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
