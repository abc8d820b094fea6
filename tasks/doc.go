// Package tasks is the durable reply-task queue.
//
// A task is one outbound reply owed to a chat. Its life is short:
//
//	pending --Claim--> claimed --Finalize--> gone
//	                      \--Requeue--> pending
//
// The state lives in the storage key, not in the record. FileStore names
// files `<account>__<id>.json` while pending and `<account>__<id>.json.taking`
// once claimed; the claimed name is the lock token handed to the consumer.
// RedisStore mirrors the same layout with conditional Lua renames.
//
// # Claiming
//
// Claim asks the Selector for candidates: pending tasks of the requested
// account, newest first, cut to a small window (3 by default). The first
// successful rename wins. A lost rename is not an error; the claimant moves
// on to the next candidate. When nothing in the window can be claimed, Claim
// returns a NO_TASK error, which callers treat as "nothing to do":
//
//	claim, err := store.Claim(ctx, "hr-main")
//	if tasks.IsNoTask(err) {
//	    return nil
//	}
//	// ... send claim.Task.Payload to claim.Task.CorrelationID ...
//	err = store.Finalize(ctx, claim.Lock)
//
// # Idempotent Create
//
// Webhooks are redelivered. WithIdempotencyKey derives the task ID from a
// stable key, so a second Create with the same key reports ALREADY_EXISTS
// (see IsDuplicate) and leaves the stored task untouched, whether it is
// pending or claimed.
//
// # Guarantees
//
// Delivery is at-least-once. A consumer that crashes between sending and
// Finalize leaves the task claimed; nothing sweeps it back automatically.
// Finalize and Requeue are idempotent so they can be retried blindly.
package tasks
