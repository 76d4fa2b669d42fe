// Command server serves the backtest HTTP API and a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"emaband-backtest/services/api"
	"emaband-backtest/services/config"
	"emaband-backtest/services/feed"
	"emaband-backtest/services/indicators"
	"emaband-backtest/services/live"
	"emaband-backtest/services/store"
)

func main() {
	useCH := flag.Bool("clickhouse", false, "Serve symbol requests from ClickHouse")
	envFile := flag.String("env", ".env", "Optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting backtesting service",
		zap.String("version", api.Version),
		zap.String("environment", cfg.Environment),
	)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("Failed to open run store", zap.Error(err))
	}
	provider, err := indicators.NewProvider(cfg.Indicators)
	if err != nil {
		logger.Fatal("Bad indicator parameters", zap.Error(err))
	}
	decider, err := live.NewDecider(cfg.Live, logger)
	if err != nil {
		logger.Fatal("Bad live parameters", zap.Error(err))
	}

	var source feed.Source
	if *useCH {
		ch, err := feed.OpenClickHouse(context.Background(), cfg.ClickHouse, cfg.Feed.DropFlat, logger)
		if err != nil {
			logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
		}
		defer ch.Close()
		source = ch
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()
			source = feed.NewCachingSource(rdb, cfg.Redis.TTL, ch, cfg.Redis.Namespace, logger)
		}
	}

	service, err := api.NewService(api.Options{
		Provider: provider,
		Strategy: cfg.Strategy,
		Decider:  decider,
		Source:   source,
		Runs:     store.NewRunRepository(db),
		DropFlat: cfg.Feed.DropFlat,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Failed to create backtest service", zap.Error(err))
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	service.SetupRoutes(router)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort), Handler: router}

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
		}
		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	healthSrv.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("Servers stopped")
}
