// Package ratelimit throttles polling consumers.
//
// Consumers poll /tasks/claim in a loop. The MemoryLimiter keeps one token
// bucket per account so a misbehaving poller cannot spin the task
// directory:
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetDefault(120, time.Minute) // every account
//	limiter.SetCapacity("hr-main", 600, time.Minute)
//
//	if !limiter.TryAcquire(account) {
//	    // 429 with Retry-After: limiter.RetryAfter(account)
//	}
//
// # Algorithm
//
// Token bucket with continuous refill:
//   - Tokens are added at capacity/window
//   - Each TryAcquire consumes one token
//   - Buckets start full
package ratelimit
