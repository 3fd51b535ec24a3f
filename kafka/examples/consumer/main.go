package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/httpc"
	"github.com/T-Prohmpossadhorn/go-rest/kafka"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
)

// Replays queued requests against an HTTP service.
func main() {
	logger.Init()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(
		config.WithDefault(map[string]interface{}{
			"kafka_brokers":  "localhost:9092",
			"kafka_topic":    "tasks",
			"kafka_group_id": "replayer",
			"base_url":       "http://localhost:8080",
		}),
		config.WithEnv("APP"),
	)
	if err != nil {
		logger.Fatal(ctx, "config", logger.Err(err))
	}

	k, err := kafka.New(cfg)
	if err != nil {
		logger.Fatal(ctx, "kafka", logger.Err(err))
	}
	defer k.Close()
	client, err := httpc.NewHTTPClient(cfg)
	if err != nil {
		logger.Fatal(ctx, "http client", logger.Err(err))
	}
	defer client.Close()

	if err := k.Serve(ctx, "tasks", client); err != nil && ctx.Err() == nil {
		logger.Error(ctx, "serve", logger.Err(err))
	}
}
