package httpapi

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vinayprograms/replyqueue/bus"
	"github.com/vinayprograms/replyqueue/completion"
	"github.com/vinayprograms/replyqueue/confirm"
	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/tasks"
	"github.com/vinayprograms/replyqueue/webhook"
)

type okResponse struct {
	OK bool `json:"ok"`
}

var ok = okResponse{OK: true}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "up": true})
}

type debugResponse struct {
	OK bool `json:"ok"`
	*tasks.Listing
}

func (a *App) debugHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := a.Store.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, debugResponse{OK: true, Listing: listing})
}

type enqueueResponse struct {
	OK   bool        `json:"ok"`
	Task *tasks.Task `json:"task"`
}

func (a *App) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	chatID := p.get("chat_id")
	if chatID == "" {
		writeError(w, qerrors.InvalidInput("chat_id required"))
		return
	}
	reply := p.get("reply_text")
	if reply == "" {
		reply = a.DefaultReply
	}
	task, err := a.Store.Create(r.Context(), tasks.Task{
		Partition:       p.get("account"),
		CorrelationID:   chatID,
		AuthorID:        p.get("author_id"),
		Payload:         reply,
		SourceMessageID: p.get("message_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	a.publish(task)
	writeJSON(w, http.StatusOK, enqueueResponse{OK: true, Task: task})
}

func (a *App) publish(task *tasks.Task) {
	if a.Bus == nil {
		return
	}
	err := bus.PublishTaskCreated(a.Bus, bus.TaskCreated{
		ID:        task.ID,
		Account:   task.Partition,
		ChatID:    task.CorrelationID,
		CreatedAt: task.CreatedAt,
	})
	if err != nil {
		a.logger().Warn("publish task created", map[string]interface{}{"task_id": task.ID, "error": err})
	}
}

type webhookResponse struct {
	OK       bool   `json:"ok"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// webhookHandler answers 2xx for anything it recorded, including events it
// ignores, so Avito does not redeliver them.
func (a *App) webhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		writeError(w, qerrors.InvalidInput("read body", qerrors.WithCause(err)))
		return
	}
	if len(body) > MaxBodyBytes {
		writeError(w, qerrors.InvalidInput("body too large"))
		return
	}
	out, err := a.Webhook.Handle(r.Context(), webhook.Delivery{
		Account:      chi.URLParam(r, "account"),
		Body:         body,
		HeaderSecret: r.Header.Get(webhook.SecretHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{OK: true, Accepted: out.Accepted, Reason: out.Reason})
}

type evidenceResponse struct {
	OK bool `json:"ok"`
	confirm.Evidence
}

func (a *App) logsHasHandler(w http.ResponseWriter, r *http.Request) {
	chat := r.URL.Query().Get("chat")
	author := r.URL.Query().Get("author")
	if chat == "" || author == "" {
		writeError(w, qerrors.InvalidInput("chat & author required"))
		return
	}
	ev, err := a.Oracle.Confirmed(r.Context(), chat, author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evidenceResponse{OK: true, Evidence: ev})
}

type claimResponse struct {
	OK        bool   `json:"ok"`
	Has       bool   `json:"has"`
	LockID    string `json:"lockId,omitempty"`
	ChatID    string `json:"ChatId,omitempty"`
	ReplyText string `json:"ReplyText,omitempty"`
	MessageID string `json:"MessageId"`
	Account   string `json:"Account,omitempty"`
	AuthorID  string `json:"AuthorId"`
}

func (a *App) claimHandler(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	account := p.get("account")
	if account != "" {
		account = tasks.SanitizePartition(account)
	}

	if a.Limiter != nil {
		resource := account
		if resource == "" {
			resource = "*"
		}
		if !a.Limiter.TryAcquire(resource) {
			wait := a.Limiter.RetryAfter(resource)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, qerrors.RateLimited("claim rate exceeded", qerrors.WithMetadata("account", resource)))
			return
		}
	}

	claim, err := a.Store.Claim(r.Context(), account)
	if tasks.IsNoTask(err) {
		writeJSON(w, http.StatusOK, claimResponse{OK: true})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	t := claim.Task
	writeJSON(w, http.StatusOK, claimResponse{
		OK:        true,
		Has:       true,
		LockID:    claim.Lock,
		ChatID:    t.CorrelationID,
		ReplyText: t.Payload,
		MessageID: t.SourceMessageID,
		Account:   t.Partition,
		AuthorID:  t.AuthorID,
	})
}

// lockParam returns a validated lock token.
func lockParam(r *http.Request) (string, error) {
	p, err := readParams(r)
	if err != nil {
		return "", err
	}
	lock := p.get("lock")
	if _, err := tasks.ParseLock(lock); err != nil {
		return "", err
	}
	return lock, nil
}

func (a *App) doneHandler(w http.ResponseWriter, r *http.Request) {
	lock, err := lockParam(r)
	if err == nil {
		err = a.Store.Finalize(r.Context(), lock)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (a *App) requeueHandler(w http.ResponseWriter, r *http.Request) {
	lock, err := lockParam(r)
	if err == nil {
		err = a.Store.Requeue(r.Context(), lock)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

type completeResponse struct {
	OK        bool   `json:"ok"`
	Confirmed bool   `json:"confirmed"`
	File      string `json:"file,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

func (a *App) completeHandler(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lock := p.get("lock")
	if _, err := tasks.ParseLock(lock); err != nil {
		writeError(w, err)
		return
	}

	res, err := a.Completer.Complete(r.Context(), completion.Request{
		Lock:          lock,
		CorrelationID: p.get("chat", "chat_id"),
		AuthorID:      p.get("author", "author_id"),
	})
	if qerrors.Is(err, qerrors.ErrCodePrecondition) {
		writeJSON(w, http.StatusPreconditionFailed, completeResponse{
			Confirmed: false,
			Error:     "reply not observed yet",
			Code:      string(qerrors.ErrCodePrecondition),
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{
		OK:        true,
		Confirmed: true,
		File:      res.Evidence.Segment,
		Strategy:  res.Evidence.Strategy,
	})
}
