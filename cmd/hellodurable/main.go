package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/ngnhng/hellodurable/internal/app"
)

func main() {
	var (
		natsHost  = flag.String("host", "", "NATS server host (overrides NATS_HOST)")
		natsPort  = flag.String("port", "", "NATS server port (overrides NATS_PORT)")
		httpPort  = flag.String("http-port", "", "HTTP server port (overrides SERVER_PORT)")
		taskQueue = flag.String("task-queue", "", "task queue to poll (overrides WORKER_TASK_QUEUE)")
		transport = flag.String("transport", "", "memory or nats (overrides TRANSPORT)")
		history   = flag.String("history", "", "memory, pebble or jetstream (overrides HISTORY_BACKEND)")
		greet     = flag.String("greet", "", "run one greeting workflow for NAME, print the result and exit")
	)
	flag.Parse()

	if err := app.Run(context.Background(), app.Options{
		NATSHost:  *natsHost,
		NATSPort:  *natsPort,
		HTTPPort:  *httpPort,
		TaskQueue: *taskQueue,
		Transport: *transport,
		History:   *history,
		Greet:     *greet,
		Out:       os.Stdout,
	}); err != nil {
		slog.Error("hellodurable exited with error", "error", err)
		os.Exit(1)
	}
}
