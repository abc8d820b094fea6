package completion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/replyqueue/activity"
	"github.com/vinayprograms/replyqueue/confirm"
	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/tasks"
)

type fakeOracle struct {
	found bool
	err   error
	calls int
	chat  string
	auth  string
}

func (f *fakeOracle) Confirmed(ctx context.Context, chatID, authorID string) (confirm.Evidence, error) {
	f.calls++
	f.chat, f.auth = chatID, authorID
	if f.err != nil {
		return confirm.Evidence{}, f.err
	}
	if !f.found {
		return confirm.Evidence{}, nil
	}
	return confirm.Evidence{Found: true, Segment: "logs.20260101.log", Strategy: confirm.StrategySubstring}, nil
}

func setup(t *testing.T, task tasks.Task) (*tasks.FileStore, *tasks.Claim) {
	t.Helper()
	store, err := tasks.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if _, err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	claim, err := store.Claim(context.Background(), "")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	return store, claim
}

func stillClaimed(t *testing.T, store *tasks.FileStore, lock string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(store.Dir(), lock)); err != nil {
		t.Errorf("Expected %s to remain claimed: %v", lock, err)
	}
}

func TestCompleteConfirmed(t *testing.T) {
	store, claim := setup(t, tasks.Task{CorrelationID: "chat-1", AuthorID: "42", Payload: "hi"})
	oracle := &fakeOracle{found: true}

	res, err := New(store, oracle, nil).Complete(context.Background(), Request{Lock: claim.Lock})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !res.Confirmed {
		t.Error("Expected confirmed")
	}
	if oracle.chat != "chat-1" || oracle.auth != "42" {
		t.Errorf("Oracle asked with %s/%s", oracle.chat, oracle.auth)
	}
	if _, err := store.Get(context.Background(), claim.Lock); !qerrors.Is(err, qerrors.ErrCodeNotFound) {
		t.Errorf("Expected task finalized, got %v", err)
	}
}

func TestCompleteUnconfirmedKeepsClaim(t *testing.T) {
	store, claim := setup(t, tasks.Task{CorrelationID: "chat-1", AuthorID: "42", Payload: "hi"})
	c := New(store, &fakeOracle{found: false}, nil)

	for i := 0; i < 2; i++ {
		res, err := c.Complete(context.Background(), Request{Lock: claim.Lock})
		if !qerrors.Is(err, qerrors.ErrCodePrecondition) {
			t.Fatalf("Attempt %d: expected PRECONDITION, got %v", i+1, err)
		}
		if res == nil || res.Confirmed {
			t.Errorf("Attempt %d: expected unconfirmed result, got %+v", i+1, res)
		}
		stillClaimed(t, store, claim.Lock)
	}

	// Evidence appears; the retry succeeds.
	res, err := New(store, &fakeOracle{found: true}, nil).Complete(context.Background(), Request{Lock: claim.Lock})
	if err != nil || !res.Confirmed {
		t.Fatalf("Expected confirmed retry, got %+v, %v", res, err)
	}
}

func TestCompleteConflict(t *testing.T) {
	store, claim := setup(t, tasks.Task{CorrelationID: "chat-1", AuthorID: "42", Payload: "hi"})
	oracle := &fakeOracle{found: true}

	_, err := New(store, oracle, nil).Complete(context.Background(), Request{Lock: claim.Lock, CorrelationID: "chat-2"})
	if !qerrors.Is(err, qerrors.ErrCodeConflict) {
		t.Fatalf("Expected CONFLICT, got %v", err)
	}
	if oracle.calls != 0 {
		t.Error("Oracle must not be consulted on conflict")
	}
	stillClaimed(t, store, claim.Lock)

	// A matching caller chat is accepted.
	if _, err := New(store, oracle, nil).Complete(context.Background(), Request{Lock: claim.Lock, CorrelationID: "chat-1"}); err != nil {
		t.Errorf("Expected success with matching chat, got %v", err)
	}
}

func TestCompleteAuthorResolution(t *testing.T) {
	t.Run("caller fallback", func(t *testing.T) {
		store, claim := setup(t, tasks.Task{CorrelationID: "chat-1", Payload: "hi"})
		oracle := &fakeOracle{found: true}
		if _, err := New(store, oracle, nil).Complete(context.Background(), Request{Lock: claim.Lock, AuthorID: "77"}); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if oracle.auth != "77" {
			t.Errorf("Expected caller author 77, got %s", oracle.auth)
		}
	})

	t.Run("task wins over caller", func(t *testing.T) {
		store, claim := setup(t, tasks.Task{CorrelationID: "chat-1", AuthorID: "42", Payload: "hi"})
		oracle := &fakeOracle{found: true}
		if _, err := New(store, oracle, nil).Complete(context.Background(), Request{Lock: claim.Lock, AuthorID: "77"}); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if oracle.auth != "42" {
			t.Errorf("Expected task author 42, got %s", oracle.auth)
		}
	})

	t.Run("missing everywhere", func(t *testing.T) {
		store, claim := setup(t, tasks.Task{CorrelationID: "chat-1", Payload: "hi"})
		_, err := New(store, &fakeOracle{found: true}, nil).Complete(context.Background(), Request{Lock: claim.Lock})
		if !qerrors.Is(err, qerrors.ErrCodeUnprocessable) {
			t.Fatalf("Expected UNPROCESSABLE, got %v", err)
		}
		stillClaimed(t, store, claim.Lock)
	})
}

func TestCompleteUnknownLock(t *testing.T) {
	store, _ := setup(t, tasks.Task{CorrelationID: "chat-1", AuthorID: "42", Payload: "hi"})
	c := New(store, &fakeOracle{found: true}, nil)

	_, err := c.Complete(context.Background(), Request{Lock: "hr-main__nope.json.taking"})
	if !qerrors.Is(err, qerrors.ErrCodeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}

	_, err = c.Complete(context.Background(), Request{Lock: "garbage"})
	if !qerrors.Is(err, qerrors.ErrCodeInvalidInput) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
}

func TestCompleteOracleFailure(t *testing.T) {
	store, claim := setup(t, tasks.Task{CorrelationID: "chat-1", AuthorID: "42", Payload: "hi"})
	boom := qerrors.Storage("read log directory", errors.New("permission denied"))

	_, err := New(store, &fakeOracle{err: boom}, nil).Complete(context.Background(), Request{Lock: claim.Lock})
	if !qerrors.Is(err, qerrors.ErrCodeStorage) {
		t.Errorf("Expected STORAGE, got %v", err)
	}
	stillClaimed(t, store, claim.Lock)
}

func TestCompleteWithRealOracle(t *testing.T) {
	store, claim := setup(t, tasks.Task{CorrelationID: "u2i-abc", AuthorID: "42", Payload: "hi"})
	logDir := t.TempDir()
	oracle := confirm.New(logDir)
	c := New(store, oracle, nil)

	if _, err := c.Complete(context.Background(), Request{Lock: claim.Lock}); !qerrors.Is(err, qerrors.ErrCodePrecondition) {
		t.Fatalf("Expected PRECONDITION before evidence, got %v", err)
	}

	log, err := activity.New(logDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := log.RecordWebhook("hr-main", []byte(`{"payload":{"value":{"chat_id":"u2i-abc","author_id":42,"type":"text"}}}`)); err != nil {
		t.Fatal(err)
	}

	res, err := c.Complete(context.Background(), Request{Lock: claim.Lock})
	if err != nil || !res.Confirmed {
		t.Fatalf("Expected confirmation after evidence, got %+v, %v", res, err)
	}
}
