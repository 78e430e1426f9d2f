// Package worker provides the worker runtime for executing workflows and activities.
//
// A worker is bound to one task queue. It polls the queue for workflow tasks,
// which replay a workflow instance, and activity tasks, which run one attempt
// of an activity implementation.
//
// # Creating a Worker
//
//	c, err := client.NewClient(&client.Options{Conn: nc})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	w, err := worker.NewWorker(c, worker.Options{TaskQueue: "greetings"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A client created without a NATS connection keeps the task queue and the
// history in process memory, which suits tests and single-process programs.
//
// # Registering Workflows and Activities
//
// Registration must happen before the worker starts; later calls fail with
// ErrAlreadyStarted.
//
//	if err := w.RegisterWorkflow(GetGreeting); err != nil {
//		log.Fatal(err)
//	}
//	if err := w.RegisterActivity(ComposeGreeting); err != nil {
//		log.Fatal(err)
//	}
//
// Types are registered under their fully-qualified function name unless a
// RegisterOption names them.
//
// # Running the Worker
//
// Start is non-blocking and Stop drains in-flight tasks for StopTimeout.
// Run combines both:
//
//	if err := w.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Run returns nil when ctx ends. It returns a *TaskDispatchError when the
// worker received a task it cannot serve, such as a workflow type that is not
// registered. Such a task is returned to the queue for a correctly configured
// worker; polling stops.
//
// # Scaling
//
// Any number of workers may poll the same queue. Pollers only run for the
// kinds of work a worker has registrations for, so workflow-only and
// activity-only workers can be scaled independently.
package worker
