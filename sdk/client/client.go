package client

import "github.com/ngnhng/hellodurable/sdk/internal"

// Client starts, inspects and cancels workflow instances.
//
// Example:
//
//	c, err := client.NewClient(&client.Options{
//		Namespace: "production",
//		Conn:      natsConn,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: "greetings"}, GetGreeting, "World")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	var greeting string
//	if err := run.Get(ctx, &greeting); err != nil {
//		log.Fatal(err)
//	}
type Client = internal.Client

// Options contains configuration for creating a new Client.
type Options = internal.ClientOptions

type StartWorkflowOptions = internal.StartWorkflowOptions

// WorkflowRun is a handle to one instance; Get waits for its outcome.
type WorkflowRun = internal.WorkflowRun

type (
	WorkflowDescription = internal.WorkflowDescription
	ActivityDescription = internal.ActivityDescription
)

// NewClient creates a Client. With a NATS connection in Options the task
// queue and history live in JetStream; without one they live in process
// memory and are shared by every worker created from this client.
func NewClient(options *Options) (Client, error) {
	return internal.NewClient(options)
}
