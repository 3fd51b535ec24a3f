package main

import (
	"context"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/kafka"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
)

type Task struct {
	Name string `json:"name"`
}

var tasks = rest.Interface("Tasks").Disposable().Method(
	rest.POST("Enqueue", "/tasks").
		Param(rest.Arg[context.Context]("ctx"), rest.Arg[Task]("task").Body()),
).MustBuild()

func main() {
	logger.Init()
	defer logger.Sync()
	ctx := context.Background()

	cfg, err := config.New(
		config.WithDefault(map[string]interface{}{
			"kafka_brokers": "localhost:9092",
			"kafka_topic":   "tasks",
		}),
		config.WithEnv("APP"),
	)
	if err != nil {
		logger.Fatal(ctx, "config", logger.Err(err))
	}
	if err := otel.Init(cfg); err != nil {
		logger.Fatal(ctx, "tracing", logger.Err(err))
	}
	defer otel.Shutdown(ctx)

	k, err := kafka.New(cfg)
	if err != nil {
		logger.Fatal(ctx, "kafka", logger.Err(err))
	}
	a := rest.NewAdapter(tasks, k, nil, rest.WithTracing())
	defer a.Close()

	if err := rest.Send(a, rest.Call{Method: "Enqueue", Args: []any{ctx, Task{Name: "hello"}}}); err != nil {
		logger.Error(ctx, "enqueue failed", logger.Err(err))
	}
}
