package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/joseph-ayodele/expense-extractor/internal/app"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/ingest"
	"github.com/joseph-ayodele/expense-extractor/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("extractord.exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg *common.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	if err := a.DB.HealthCheck(ctx, 5*time.Second); err != nil {
		return err
	}

	if n, err := a.Service.ResumeQueued(ctx); err != nil {
		logger.Warn("extractord.resume.failed", "resumed", n, "error", err)
	}

	httpSrv, err := server.NewServer(a.Service, a.Stream, a.DB, logger, &server.Config{Addr: cfg.Server.HTTPAddr})
	if err != nil {
		return err
	}

	var grpcSrv *grpc.Server
	var lis net.Listener
	if cfg.Server.GRPCAddr != "" {
		addr := cfg.Server.GRPCAddr
		if !strings.Contains(addr, ":") {
			addr = ":" + addr
		}
		lis, err = net.Listen("tcp", addr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", addr, "error", err)
			return err
		}
		grpcSrv = server.NewGRPCServer(ctx, a.DB, 10*time.Second, logger)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("grpc.start", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	if cfg.Inbox.Dir != "" {
		inbox := ingest.NewInbox(ingest.InboxConfig{
			Dir:         cfg.Inbox.Dir,
			Debounce:    cfg.Inbox.Debounce,
			InitialScan: false,
		}, a.SubmitInboxFile, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := inbox.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info("extractord.ready", "http_addr", cfg.Server.HTTPAddr, "grpc_addr", cfg.Server.GRPCAddr)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("extractord.component.failed", "error", runErr)
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http.shutdown.failed", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	stop()
	wg.Wait()
	return runErr
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
