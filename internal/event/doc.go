// Package event provides the pub-sub bus the task factory reports on.
//
// Every factory lifecycle step publishes an event: a worker was spawned,
// released from its gate, completed, failed, timed out on join or was
// terminated. Native events that a worker forwards are republished as
// [NativeEvent] values, so parent-side handlers subscribe here instead of
// on the native library, which lives in another process.
//
// Handlers run synchronously on the publishing goroutine. For the factory
// that is the reader goroutine of the task's completion channel, so
// handlers for different tasks may run concurrently. A panicking handler is
// logged and does not stop delivery to the others.
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeTaskNative, func(e event.Event) {
//	    ne := e.(event.NativeEvent)
//	    fmt.Printf("[%s] %s: %s\n", ne.TaskID, ne.Kind, ne.Text)
//	})
//	bus.SubscribeAll(func(e event.Event) { logger.Debug("event", "type", e.EventType()) })
package event
