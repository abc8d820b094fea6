// Package errors provides the structured error taxonomy used across the
// reply queue. Every failure a caller can observe carries a code and a
// category so HTTP handlers, the webhook intake and consumers can tell
// "retry later" apart from "this request is wrong" and from "the disk is
// broken".
//
// # Error Categories
//
//   - Transient: the condition may clear on its own (no task yet, no
//     confirming log line yet, lost claim race)
//   - Permanent: retrying the same request will not help (unknown lock,
//     conflicting chat id, bad key)
//   - Resource: rate limits
//   - Internal: storage failures and bugs
//
// # Usage
//
//	err := errors.NotFound("lock not found", errors.WithLock(lock))
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // treat as already finalized
//	}
//
// Errors serialize to JSON so the API can return them verbatim:
//
//	data, _ := json.Marshal(err)
package errors
