// Package webhook turns Avito chat notifications into reply tasks.
//
// Every delivery is appended to the activity log before anything else
// happens, because the confirmation oracle later searches those same
// records. Only a system message announcing a new candidate response
// becomes a task.
package webhook

import (
	"context"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vinayprograms/replyqueue/activity"
	"github.com/vinayprograms/replyqueue/bus"
	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/logging"
	"github.com/vinayprograms/replyqueue/tasks"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Avito-Secret"

// Reasons reported in Outcome.Reason and the webhook log line.
const (
	ReasonCreated     = "created"
	ReasonDuplicate   = "duplicate"
	ReasonInvalidJSON = "invalid_json"
	ReasonNotSystem   = "not_system"
	ReasonNoMatch     = "no_match"
	ReasonNoChat      = "no_chat"
)

var candidateText = regexp.MustCompile(`(?i)кандидат|отклик`)

// Config controls filtering and task defaults.
type Config struct {
	// Secret, when set, must match the header or the body "secret" field.
	Secret string

	// DefaultReply becomes the payload of every created task.
	DefaultReply string

	// DefaultAccount is used when the delivery names no account.
	DefaultAccount string

	// OnlyFirstSystem keys tasks by chat so a chat yields one task at most
	// while it is stored. Otherwise tasks are keyed by message id.
	OnlyFirstSystem bool
}

// Delivery is one inbound webhook call.
type Delivery struct {
	Account string
	Body    []byte

	// HeaderSecret is the value of SecretHeader, if any.
	HeaderSecret string
}

// Outcome describes what a delivery produced.
type Outcome struct {
	Accepted bool
	Reason   string

	// Task is set when a task was created.
	Task *tasks.Task
}

// Handler processes deliveries.
type Handler struct {
	store    tasks.Store
	activity *activity.Log
	bus      bus.MessageBus
	cfg      Config
	logger   *logging.Logger
}

// New creates a handler. The bus may be nil, in which case no
// notifications are published.
func New(store tasks.Store, log *activity.Log, b bus.MessageBus, cfg Config, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.DefaultAccount == "" {
		cfg.DefaultAccount = tasks.DefaultPartition
	}
	return &Handler{
		store:    store,
		activity: log,
		bus:      b,
		cfg:      cfg,
		logger:   logger.WithComponent("webhook"),
	}
}

// event is the subset of an Avito message notification the filter reads.
type event struct {
	kind     string
	text     string
	chatID   string
	msgID    string
	authorID string
}

func parseEvent(body []byte) event {
	r := gjson.GetManyBytes(body,
		"payload.value.type",
		"payload.value.content.text",
		"payload.value.chat_id",
		"payload.value.id",
		"payload.value.author_id",
	)
	return event{
		kind:     r[0].String(),
		text:     r[1].String(),
		chatID:   strings.TrimSpace(r[2].String()),
		msgID:    strings.TrimSpace(r[3].String()),
		authorID: strings.TrimSpace(r[4].String()),
	}
}

// Authorize checks the shared secret. The header wins over the body field.
func (h *Handler) Authorize(d Delivery) error {
	if h.cfg.Secret == "" {
		return nil
	}
	got := d.HeaderSecret
	if got == "" && gjson.ValidBytes(d.Body) {
		got = gjson.GetBytes(d.Body, "secret").String()
	}
	if got != h.cfg.Secret {
		return qerrors.Forbidden("forbidden")
	}
	return nil
}

// Handle authorizes, records and filters one delivery. Ignored events and
// duplicates are not errors.
func (h *Handler) Handle(ctx context.Context, d Delivery) (*Outcome, error) {
	account := strings.TrimSpace(d.Account)
	if account == "" {
		account = h.cfg.DefaultAccount
	}
	if err := h.Authorize(d); err != nil {
		h.logger.WebhookReceived(account, false, "forbidden")
		return nil, err
	}

	if _, err := h.activity.RecordWebhook(account, d.Body); err != nil {
		return nil, qerrors.Storage("record webhook", err)
	}

	out, err := h.process(ctx, account, d.Body)
	if err != nil {
		h.logger.Error("create task", map[string]interface{}{
			"account": account,
			"error":   err,
		})
		return nil, err
	}
	h.logger.WebhookReceived(account, out.Accepted, out.Reason)
	return out, nil
}

func (h *Handler) process(ctx context.Context, account string, body []byte) (*Outcome, error) {
	if !gjson.ValidBytes(body) {
		return &Outcome{Reason: ReasonInvalidJSON}, nil
	}
	ev := parseEvent(body)
	switch {
	case ev.kind != "system":
		return &Outcome{Reason: ReasonNotSystem}, nil
	case !candidateText.MatchString(ev.text):
		return &Outcome{Reason: ReasonNoMatch}, nil
	case ev.chatID == "":
		return &Outcome{Reason: ReasonNoChat}, nil
	}

	var opts []tasks.CreateOption
	if key := h.idempotencyKey(ev); key != "" {
		opts = append(opts, tasks.WithIdempotencyKey(key))
	}
	task, err := h.store.Create(ctx, tasks.Task{
		Partition:       account,
		CorrelationID:   ev.chatID,
		AuthorID:        ev.authorID,
		Payload:         h.cfg.DefaultReply,
		SourceMessageID: ev.msgID,
	}, opts...)
	if tasks.IsDuplicate(err) {
		return &Outcome{Reason: ReasonDuplicate}, nil
	}
	if err != nil {
		return nil, err
	}

	h.notify(task)
	return &Outcome{Accepted: true, Reason: ReasonCreated, Task: task}, nil
}

func (h *Handler) idempotencyKey(ev event) string {
	if h.cfg.OnlyFirstSystem {
		return "chat-" + ev.chatID
	}
	if ev.msgID != "" {
		return "msg-" + ev.msgID
	}
	return ""
}

func (h *Handler) notify(task *tasks.Task) {
	if h.bus == nil {
		return
	}
	err := bus.PublishTaskCreated(h.bus, bus.TaskCreated{
		ID:        task.ID,
		Account:   task.Partition,
		ChatID:    task.CorrelationID,
		CreatedAt: task.CreatedAt,
	})
	if err != nil {
		h.logger.Warn("publish task created", map[string]interface{}{
			"task_id": task.ID,
			"error":   err,
		})
	}
}
