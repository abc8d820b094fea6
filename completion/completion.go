// Package completion closes claimed tasks only when the activity log
// confirms the reply went out.
package completion

import (
	"context"
	"strings"

	"github.com/vinayprograms/replyqueue/confirm"
	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/logging"
	"github.com/vinayprograms/replyqueue/tasks"
)

// Oracle answers whether a reply to authorID in chatID has been observed.
type Oracle interface {
	Confirmed(ctx context.Context, chatID, authorID string) (confirm.Evidence, error)
}

// Request is a consumer's completion claim. CorrelationID and AuthorID are
// optional; the task's own values win.
type Request struct {
	Lock          string
	CorrelationID string
	AuthorID      string
}

// Result reports a completion attempt that did not fail outright.
type Result struct {
	Confirmed bool
	Evidence  confirm.Evidence
	Task      *tasks.Task
}

// Completer runs the confirm-then-finalize protocol.
type Completer struct {
	store  tasks.Store
	oracle Oracle
	logger *logging.Logger
}

// New returns a Completer.
func New(store tasks.Store, oracle Oracle, logger *logging.Logger) *Completer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Completer{
		store:  store,
		oracle: oracle,
		logger: logger.WithComponent("completion"),
	}
}

// Complete finalizes the task behind req.Lock if the oracle confirms it.
//
// Errors: INVALID_INPUT for a malformed lock, NOT_FOUND when the claim is
// gone, CONFLICT when the caller's chat disagrees with the task,
// UNPROCESSABLE when no author is known, PRECONDITION when the log has no
// evidence yet. On PRECONDITION the task stays claimed and the call may be
// retried; the returned Result is non-nil with Confirmed false.
func (c *Completer) Complete(ctx context.Context, req Request) (*Result, error) {
	lock := strings.TrimSpace(req.Lock)
	task, err := c.store.Get(ctx, lock)
	if err != nil {
		return nil, err
	}

	chatID := task.CorrelationID
	if caller := strings.TrimSpace(req.CorrelationID); caller != "" && caller != chatID {
		return nil, qerrors.Conflict("chat_id does not match task",
			qerrors.WithLock(lock),
			qerrors.WithMetadata("task_chat_id", chatID),
			qerrors.WithMetadata("caller_chat_id", caller),
		)
	}

	authorID := task.AuthorID
	if authorID == "" {
		authorID = strings.TrimSpace(req.AuthorID)
	}
	if authorID == "" {
		return nil, qerrors.Unprocessable("author_id unknown", qerrors.WithLock(lock))
	}

	ev, err := c.oracle.Confirmed(ctx, chatID, authorID)
	if err != nil {
		return nil, qerrors.Wrap(err, "check confirmation", qerrors.WithLock(lock))
	}
	res := &Result{Confirmed: ev.Found, Evidence: ev, Task: task}
	if !ev.Found {
		c.logger.Info("completion deferred", map[string]interface{}{
			"lock":      lock,
			"chat_id":   chatID,
			"author_id": authorID,
		})
		return res, qerrors.PreconditionNotMet("reply not observed yet", qerrors.WithLock(lock))
	}

	if err := c.store.Finalize(ctx, lock); err != nil {
		return nil, err
	}
	c.logger.Info("completion confirmed", map[string]interface{}{
		"lock":     lock,
		"segment":  ev.Segment,
		"strategy": ev.Strategy,
	})
	return res, nil
}
