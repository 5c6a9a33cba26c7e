package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	configpkg "dronerace/broker/internal/config"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("broker stopped", logging.Error(err))
	}
}

func run(ctx context.Context, cfg *configpkg.Config, logger *logging.Logger) error {
	broker, err := NewBroker(cfg, logger)
	if err != nil {
		return err
	}
	broker.Start(ctx)

	//1.- The telemetry listener is optional and must not take the game server down with it.
	var grpcServer *grpc.Server
	if addr := strings.TrimSpace(cfg.GRPCAddress); addr != "" {
		grpcServer, err = startTelemetry(addr, cfg, broker, logger)
		if err != nil {
			broker.setStartupError(fmt.Errorf("telemetry listener: %w", err))
			logger.Error("telemetry listener unavailable", logging.Error(err), logging.String("address", addr))
		}
	}

	tlsEnabled := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           broker.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()
	logger.Info("drone broker listening",
		logging.String("url", listenerURL(cfg.Address, tlsEnabled)),
		logging.String("game_socket", websocketURL(cfg.Address, tlsEnabled)),
	)

	//2.- Block until a signal arrives or the listener fails.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := broker.Shutdown(); err != nil {
		logger.Warn("sessions closed with errors", logging.Error(err))
	}
	logger.Info("drone broker stopped")
	return runErr
}

func startTelemetry(addr string, cfg *configpkg.Config, broker *Broker, logger *logging.Logger) (*grpc.Server, error) {
	opts, err := configureGRPCSecurity(cfg, broker.hub.Pairing(), logger)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(opts...)
	telemetry.Register(server, telemetry.NewService(broker.bridge,
		telemetry.WithLogger(logger.With(logging.Component("telemetry"))),
	))
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("telemetry listener failed", logging.Error(err))
		}
	}()
	logger.Info("telemetry listening", logging.String("address", addr), logging.String("auth_mode", string(cfg.GRPCAuthMode)))
	return server, nil
}
