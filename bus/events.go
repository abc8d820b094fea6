package bus

import (
	"encoding/json"
	"time"
)

// SubjectTaskCreated prefixes task-created notifications; the account is
// the last token.
const SubjectTaskCreated = "tasks.created"

// TaskCreatedSubject returns the subject for an account.
func TaskCreatedSubject(account string) string {
	return SubjectTaskCreated + "." + account
}

// TaskCreatedPattern matches every account, or one when account is set.
func TaskCreatedPattern(account string) string {
	if account == "" {
		return SubjectTaskCreated + ".*"
	}
	return TaskCreatedSubject(account)
}

// TaskCreated announces a new pending task. It carries no payload text;
// consumers still have to claim.
type TaskCreated struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PublishTaskCreated encodes and publishes ev on its account subject.
func PublishTaskCreated(b MessageBus, ev TaskCreated) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Publish(TaskCreatedSubject(ev.Account), data)
}

// DecodeTaskCreated parses a task-created message.
func DecodeTaskCreated(msg *Message) (TaskCreated, error) {
	var ev TaskCreated
	err := json.Unmarshal(msg.Data, &ev)
	return ev, err
}
