package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/logging"
)

const (
	// DefaultPartition is used when a task arrives without an account.
	DefaultPartition = "hr-main"

	// DefaultWindow is how many of the newest pending tasks a claim considers.
	DefaultWindow = 3

	pendingSuffix = ".json"
	claimedSuffix = ".json.taking"
	keySeparator  = "__"
)

// State is derived from the storage key, never stored in the record.
type State string

const (
	// StatePending indicates the task is visible to claims.
	StatePending State = "pending"

	// StateClaimed indicates one consumer holds the task.
	StateClaimed State = "claimed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Task represents one unit of outbound reply work.
// JSON names match the records the Avito bridge has always written.
type Task struct {
	// ID is unique for the lifetime of the store.
	ID string `json:"id"`

	// Partition narrows claim visibility, usually the Avito account name.
	Partition string `json:"account"`

	// CorrelationID is the chat the reply goes to.
	CorrelationID string `json:"chat_id"`

	// AuthorID is the counterparty whose logged reply confirms success.
	AuthorID string `json:"author_id,omitempty"`

	// Payload is the reply text.
	Payload string `json:"reply_text"`

	// SourceMessageID is the webhook message that produced the task.
	SourceMessageID string `json:"message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone creates a copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Claim is the result of a successful claim.
type Claim struct {
	Task *Task

	// Lock must be presented unmodified to Finalize, Requeue and completion.
	Lock string
}

// Entry describes one stored task as seen from a listing.
type Entry struct {
	// Key is the storage key (file name for FileStore).
	Key       string    `json:"key"`
	Partition string    `json:"account"`
	ID        string    `json:"id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Listing is a read-only snapshot of the store.
type Listing struct {
	// Keys holds every storage key, sorted.
	Keys    []string `json:"files"`
	Pending []Entry  `json:"pending"`
	Claimed []Entry  `json:"claimed"`
}

// Store is the durable task lifecycle.
//
// All implementations must be safe for concurrent use by independent
// processes; the only synchronization is the backend's atomic
// move-if-source-exists primitive.
type Store interface {
	// Create stores a new pending task. With WithIdempotencyKey the key
	// decides the task ID and a duplicate yields an ALREADY_EXISTS error
	// without touching the stored task.
	Create(ctx context.Context, task Task, opts ...CreateOption) (*Task, error)

	// Claim moves one task from the selector's window to claimed.
	// Returns a NO_TASK error when the window holds nothing claimable.
	Claim(ctx context.Context, partition string) (*Claim, error)

	// Get reads a claimed task by lock. Returns NOT_FOUND if it is gone.
	Get(ctx context.Context, lock string) (*Task, error)

	// Finalize deletes a claimed task. Unknown locks are not an error.
	Finalize(ctx context.Context, lock string) error

	// Requeue returns a claimed task to pending. Unknown locks are not an error.
	Requeue(ctx context.Context, lock string) error

	// List returns a snapshot of pending and claimed tasks without mutating.
	List(ctx context.Context) (*Listing, error)

	// Close releases backend resources.
	Close() error
}

// Option configures a Store implementation.
type Option func(*options)

type options struct {
	window int
	logger *logging.Logger
	now    func() time.Time
	prefix string
}

// WithWindow sets the claim window.
func WithWindow(n int) Option {
	return func(o *options) {
		o.window = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithKeyPrefix namespaces every key a RedisStore touches.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func applyOptions(opts []Option) options {
	o := options{
		window: DefaultWindow,
		logger: logging.Nop(),
		now:    time.Now,
		prefix: "replyqueue:",
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithComponent("tasks")
	return o
}

// CreateOption configures a Create call.
type CreateOption func(*createConfig)

type createConfig struct {
	idempotencyKey string
}

// WithIdempotencyKey derives the task ID from key so redelivered webhooks
// cannot produce a second task.
func WithIdempotencyKey(key string) CreateOption {
	return func(c *createConfig) {
		c.idempotencyKey = key
	}
}

func applyCreateOptions(opts []CreateOption) createConfig {
	var cfg createConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// SanitizePartition keeps [a-zA-Z0-9_-] and maps everything else to '_'.
// An empty partition becomes DefaultPartition.
func SanitizePartition(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultPartition
	}
	return strings.Map(func(r rune) rune {
		if isWordRune(r) || r == '_' {
			return r
		}
		return '_'
	}, p)
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
}

// IdempotentID maps an idempotency key to a task ID. Keys made only of
// letters, digits and '-' are kept readable; anything else is hashed so two
// different keys never sanitize to the same ID.
func IdempotentID(key string) string {
	if validID(key) && len(key) <= 64 {
		return "m-" + key
	}
	sum := sha256.Sum256([]byte(key))
	return "h-" + hex.EncodeToString(sum[:16])
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !isWordRune(r) {
			return false
		}
	}
	return true
}

// NewID returns a fresh 32 character hex task ID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// baseName is the storage name shared by both states.
func baseName(partition, id string) string {
	return partition + keySeparator + id
}

// PendingKey returns the pending storage key of a task.
func PendingKey(partition, id string) string {
	return baseName(partition, id) + pendingSuffix
}

// LockFor returns the claimed storage key, which doubles as the lock token.
func LockFor(partition, id string) string {
	return baseName(partition, id) + claimedSuffix
}

// ParseKey splits a storage key into partition, id and state.
func ParseKey(key string) (partition, id string, state State, ok bool) {
	if key == "" || strings.HasPrefix(key, ".") {
		return "", "", "", false
	}
	var base string
	switch {
	case strings.HasSuffix(key, claimedSuffix):
		base, state = strings.TrimSuffix(key, claimedSuffix), StateClaimed
	case strings.HasSuffix(key, pendingSuffix):
		base, state = strings.TrimSuffix(key, pendingSuffix), StatePending
	default:
		return "", "", "", false
	}
	// IDs never contain '_', so the last separator splits them off.
	i := strings.LastIndex(base, keySeparator)
	if i <= 0 || i+len(keySeparator) >= len(base) {
		return "", "", "", false
	}
	return base[:i], base[i+len(keySeparator):], state, true
}

// ParseLock validates a lock token and returns the matching pending key.
func ParseLock(lock string) (pendingKey string, err error) {
	if lock == "" {
		return "", qerrors.InvalidInput("lock required")
	}
	if filepath.Base(lock) != lock || strings.ContainsAny(lock, `/\`) {
		return "", qerrors.InvalidInput("lock invalid", qerrors.WithLock(lock))
	}
	partition, id, state, ok := ParseKey(lock)
	if !ok || state != StateClaimed {
		return "", qerrors.InvalidInput("lock invalid", qerrors.WithLock(lock))
	}
	return PendingKey(partition, id), nil
}

// IsNoTask reports whether err is the empty-window signal from Claim.
func IsNoTask(err error) bool {
	return qerrors.Is(err, qerrors.ErrCodeNoTask)
}

// IsDuplicate reports whether err is the idempotent-create duplicate signal.
func IsDuplicate(err error) bool {
	return qerrors.Is(err, qerrors.ErrCodeAlreadyExists)
}

// prepare fills defaults and returns the task as it will be stored.
func prepare(task Task, cfg createConfig, now time.Time) (*Task, error) {
	if strings.TrimSpace(task.CorrelationID) == "" {
		return nil, qerrors.InvalidInput("chat_id required")
	}
	task.Partition = SanitizePartition(task.Partition)
	switch {
	case cfg.idempotencyKey != "":
		task.ID = IdempotentID(cfg.idempotencyKey)
	case task.ID == "":
		task.ID = NewID()
	case !validID(task.ID):
		return nil, qerrors.InvalidInput("task id may only contain letters, digits and '-'")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now.UTC()
	}
	return &task, nil
}
