package confirm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/replyqueue/activity"
	qerrors "github.com/vinayprograms/replyqueue/errors"
)

// writeSegment writes a log segment and pins its modification time.
func writeSegment(t *testing.T, dir, name, content string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

const prettyRecord = `=== RAW AVITO WEBHOOK (hr-main) @ 2026-05-04T10:00:00.000Z ===
{
  "payload": {
    "type": "message",
    "value": {
      "author_id": 42,
      "chat_id": "u2i-abc",
      "content": {
        "text": "Здравствуйте!"
      }
    }
  }
}
=========================

`

func TestConfirmedStrategies(t *testing.T) {
	base := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		content  string
		chat     string
		author   string
		found    bool
		strategy string
	}{
		{
			name:     "pretty record substring",
			content:  prettyRecord,
			chat:     "u2i-abc",
			author:   "42",
			found:    true,
			strategy: StrategySubstring,
		},
		{
			name:     "compact quoted author",
			content:  `{"chat_id":"u2i-abc","author_id":"42"}` + "\n",
			chat:     "u2i-abc",
			author:   "42",
			found:    true,
			strategy: StrategySubstring,
		},
		{
			name:     "structured line with odd spacing",
			content:  `{"payload" : {"value" : {"chat_id" : "u2i-abc", "author_id" : 42}}}` + "\n",
			chat:     "u2i-abc",
			author:   "42",
			found:    true,
			strategy: StrategyStructured,
		},
		{
			name:     "proximity across lines with tabs",
			content:  "\"chat_id\"\t:\t\"u2i-abc\",\n\"other\": 1,\n\"author_id\"\t: 42\n",
			chat:     "u2i-abc",
			author:   "42",
			found:    true,
			strategy: StrategyProximity,
		},
		{
			name:    "author prefix does not match",
			content: `{"chat_id": "u2i-abc", "author_id": 421}` + "\n",
			chat:    "u2i-abc",
			author:  "42",
			found:   false,
		},
		{
			name:    "chat only",
			content: `{"chat_id": "u2i-abc", "author_id": 7}` + "\n",
			chat:    "u2i-abc",
			author:  "42",
			found:   false,
		},
		{
			name:    "author only",
			content: `{"chat_id": "u2i-zzz", "author_id": 42}` + "\n",
			chat:    "u2i-abc",
			author:  "42",
			found:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeSegment(t, dir, "logs.20260504.log", tt.content, base)

			ev, err := New(dir).Confirmed(context.Background(), tt.chat, tt.author)
			if err != nil {
				t.Fatalf("Confirmed failed: %v", err)
			}
			if ev.Found != tt.found {
				t.Fatalf("Expected found=%v, got %+v", tt.found, ev)
			}
			if tt.found && ev.Strategy != tt.strategy {
				t.Errorf("Expected strategy %s, got %s", tt.strategy, ev.Strategy)
			}
		})
	}
}

func TestConfirmedSecondSegment(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	writeSegment(t, dir, "logs.20260503.log", prettyRecord, base)
	writeSegment(t, dir, "logs.20260504.log", "=== nothing relevant ===\n", base.Add(time.Hour))

	ev, err := New(dir).Confirmed(context.Background(), "u2i-abc", "42")
	if err != nil {
		t.Fatalf("Confirmed failed: %v", err)
	}
	if !ev.Found || ev.Segment != "logs.20260503.log" {
		t.Errorf("Expected evidence in second-newest segment, got %+v", ev)
	}
}

func TestConfirmedIgnoresThirdSegment(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	writeSegment(t, dir, "logs.20260502.log", prettyRecord, base)
	writeSegment(t, dir, "logs.20260503.log", "x\n", base.Add(time.Hour))
	writeSegment(t, dir, "logs.20260504.log", "y\n", base.Add(2*time.Hour))

	ev, err := New(dir).Confirmed(context.Background(), "u2i-abc", "42")
	if err != nil {
		t.Fatalf("Confirmed failed: %v", err)
	}
	if ev.Found {
		t.Errorf("Evidence beyond the newest two segments must not count, got %+v", ev)
	}

	ev, _ = New(dir, WithSegments(3)).Confirmed(context.Background(), "u2i-abc", "42")
	if !ev.Found {
		t.Error("Expected evidence with a wider segment window")
	}
}

func TestConfirmedTailBound(t *testing.T) {
	dir := t.TempDir()
	content := prettyRecord + strings.Repeat("filler line\n", 100)
	writeSegment(t, dir, "logs.20260504.log", content, time.Now())

	ev, _ := New(dir, WithTailBytes(int64(len(content)-len(prettyRecord)))).Confirmed(context.Background(), "u2i-abc", "42")
	if ev.Found {
		t.Error("Evidence before the tail window must not count")
	}

	ev, _ = New(dir).Confirmed(context.Background(), "u2i-abc", "42")
	if !ev.Found {
		t.Error("Expected evidence inside the default tail")
	}
}

func TestConfirmedProximityRadius(t *testing.T) {
	dir := t.TempDir()
	content := "\"chat_id\" : \"u2i-abc\"\n" + strings.Repeat("-", 500) + "\n\"author_id\" : 42\n"
	writeSegment(t, dir, "logs.20260504.log", content, time.Now())

	ev, _ := New(dir, WithRadius(100)).Confirmed(context.Background(), "u2i-abc", "42")
	if ev.Found {
		t.Error("Author marker outside the radius must not count")
	}
	ev, _ = New(dir, WithRadius(1000)).Confirmed(context.Background(), "u2i-abc", "42")
	if !ev.Found || ev.Strategy != StrategyProximity {
		t.Errorf("Expected proximity match, got %+v", ev)
	}
}

func TestConfirmedWithActivityLog(t *testing.T) {
	dir := t.TempDir()
	log, err := activity.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := log.RecordWebhook("hr-main", []byte(`{"payload":{"value":{"chat_id":"c-1","author_id":99}}}`)); err != nil {
		t.Fatal(err)
	}

	ev, err := New(dir).Confirmed(context.Background(), "c-1", "99")
	if err != nil || !ev.Found {
		t.Errorf("Expected recorded webhook to confirm, got %+v, %v", ev, err)
	}
}

func TestConfirmedNoEvidenceIsNotAnError(t *testing.T) {
	ev, err := New(filepath.Join(t.TempDir(), "missing")).Confirmed(context.Background(), "c", "a")
	if err != nil {
		t.Errorf("Missing log dir must not error, got %v", err)
	}
	if ev.Found {
		t.Error("Expected not found")
	}
}

func TestConfirmedRequiresIdentity(t *testing.T) {
	_, err := New(t.TempDir()).Confirmed(context.Background(), "", "42")
	if !qerrors.Is(err, qerrors.ErrCodeInvalidInput) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
}
