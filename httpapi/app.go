// Package httpapi exposes the task queue, the webhook intake and the
// confirmation check over HTTP.
//
// Consumer routes require the shared task key, passed as the `key` query
// parameter or JSON body field. Responses keep the field names existing
// consumers already parse (lockId, ChatId, ReplyText, ...).
package httpapi

import (
	"context"
	"time"

	"github.com/vinayprograms/replyqueue/bus"
	"github.com/vinayprograms/replyqueue/completion"
	"github.com/vinayprograms/replyqueue/logging"
	"github.com/vinayprograms/replyqueue/ratelimit"
	"github.com/vinayprograms/replyqueue/tasks"
	"github.com/vinayprograms/replyqueue/webhook"
)

// MaxBodyBytes bounds every request body.
const MaxBodyBytes = 1 << 20

// App holds the dependencies of the HTTP handlers.
type App struct {
	Store     tasks.Store
	Oracle    completion.Oracle
	Completer *completion.Completer
	Webhook   *webhook.Handler

	// Bus feeds /tasks/events. Nil disables the stream.
	Bus bus.MessageBus

	// Limiter throttles claims per account. Nil disables throttling.
	Limiter ratelimit.Limiter

	// TaskKey guards consumer routes. Empty rejects every consumer call.
	TaskKey string

	// DefaultReply is used by /tasks/enqueue when no reply_text is given.
	DefaultReply string

	// Heartbeat is the keepalive interval of /tasks/events.
	Heartbeat time.Duration

	// Streams ends every open event stream when done. Nil never ends them.
	Streams context.Context

	Logger *logging.Logger
}

func (a *App) logger() *logging.Logger {
	if a.Logger == nil {
		return logging.Nop()
	}
	return a.Logger
}
