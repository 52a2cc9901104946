package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pdfcollab/relay"
)

func main() {
	// Parse command line flags
	addr := flag.String("addr", ":1234", "HTTP listen address")
	gcInterval := flag.Duration("gc-interval", time.Minute, "Empty-session sweep interval")
	nodeID := flag.Int64("node-id", 1, "Relay instance id (must be unique per instance when bridged)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the multi-instance bridge (empty disables bridging)")
	envFile := flag.String("env", ".env", "Path to .env file")
	dev := flag.Bool("dev", false, "Use development logging")
	flag.Parse()

	// Load environment variables from .env file if it exists
	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	// Override with environment variables if they exist
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		*addr = v
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		*redisAddr = v
	}
	if v := os.Getenv("RELAY_NODE_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatalf("Invalid RELAY_NODE_ID: %v", err)
		}
		*nodeID = id
	}

	logger, err := newLogger(*dev)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Create the bridge when a Redis address is configured
	var bridge relay.Bridge
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		b, err := relay.NewRedisBridge(client, "", *nodeID, logger)
		if err != nil {
			logger.Fatal("Failed to create Redis bridge", zap.Error(err))
		}
		bridge = b
		logger.Info("Redis bridge enabled", zap.String("redis_addr", *redisAddr))
	}

	options := relay.DefaultOptions()
	options.GCInterval = *gcInterval
	options.NodeID = *nodeID

	hub, err := relay.NewHub(options, bridge, logger)
	if err != nil {
		logger.Fatal("Failed to create hub", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := &http.Server{
		Addr:    *addr,
		Handler: relay.NewRouter(hub),
	}

	go func() {
		logger.Info("Relay server listening", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", zap.Error(err))
	}
	if err := hub.Close(); err != nil {
		logger.Warn("Hub close failed", zap.Error(err))
	}
}

// newLogger builds the process logger.
func newLogger(dev bool) (*zap.Logger, error) {
	var config zap.Config
	if dev {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return config.Build()
}
