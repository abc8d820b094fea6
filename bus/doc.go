// Package bus carries task notifications between the producer side and
// anyone waiting for work.
//
// Notifications are hints. The task store stays the source of truth; a
// dropped message only means a consumer finds the task on its next poll.
//
// # Implementations
//
//   - MemoryBus: single process, used when no NATS URL is configured
//   - NATSBus: shares notifications between processes
//
// # Task Notifications
//
// The webhook publishes one TaskCreated per new task on
// tasks.created.<account>. Listeners subscribe with TaskCreatedPattern:
//
//	sub, _ := b.Subscribe(bus.TaskCreatedPattern(""))
//	for msg := range sub.Messages() {
//	    ev, err := bus.DecodeTaskCreated(msg)
//	    // ... poll /tasks/claim for ev.Account ...
//	}
//
// Delivery is best effort. Publishing never blocks on a slow subscriber;
// its buffer overflows instead.
package bus
