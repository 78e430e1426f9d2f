// Package client provides the client for interacting with workflows.
//
// The client package starts workflow instances, waits for their results and
// requests their cancellation.
//
// # Creating a Client
//
//	nc, err := nats.Connect("nats://localhost:4222")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	c, err := client.NewClient(&client.Options{
//		Namespace: "production",
//		Conn:      nc,
//		Logger:    slog.Default(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Without Conn the client keeps everything in memory. HistoryLog swaps the
// history backend, e.g. for a Pebble-backed chronicle log.
//
// # Executing Workflows
//
//	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
//		ID:        "greeting-42",
//		TaskQueue: "greetings",
//	}, GetGreeting, "World")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	var result string
//	if err := run.Get(ctx, &result); err != nil {
//		log.Fatal(err)
//	}
//
// An empty ID gets a UUIDv7. Starting an ID that already has history fails
// with ErrWorkflowAlreadyStarted. Repeating a start that has not progressed
// past its first task succeeds and schedules that task again.
//
// # Namespaces
//
// Namespaces isolate task queues, histories and results of different
// environments sharing one NATS deployment.
package client
