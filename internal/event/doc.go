// Package event provides a synchronous pub-sub bus carrying task lifecycle
// events, so components can follow a queue without implementing its
// observer interface themselves.
//
// # Event Types
//
//   - [TaskBeganEvent] ("task.began"): an attempt was dispatched
//   - [TaskProgressEvent] ("task.progress"): a running task reported progress
//   - [TaskCompletedEvent] ("task.completed"): a task succeeded or failed
//   - [TaskCancelledEvent] ("task.cancelled"): a task was cancelled
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publisher's goroutine; a panicking handler is logged and does not stop
// delivery to the remaining handlers.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeTaskCompleted, func(e event.Event) {
//	    done := e.(event.TaskCompletedEvent)
//	    fmt.Printf("task %d finished, success=%v\n", done.TaskID, done.Success)
//	})
//	bus.Publish(event.NewTaskCompletedEvent("default", 1, true))
package event
