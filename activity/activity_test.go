package activity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSegmentName(t *testing.T) {
	// 23:30 in UTC-5 is already the next UTC day.
	loc := time.FixedZone("EST", -5*3600)
	at := time.Date(2026, 2, 28, 23, 30, 0, 0, loc)
	if got := SegmentName(at); got != "logs.20260301.log" {
		t.Errorf("Expected logs.20260301.log, got %s", got)
	}
}

func TestRecordWebhook(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 4, 10, 11, 12, 345000000, time.UTC)
	log, err := New(dir, WithClock(fixedClock(at)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	path, err := log.RecordWebhook("hr-main", []byte(`{"payload":{"value":{"chat_id":"u2i-1","author_id":42}}}`))
	if err != nil {
		t.Fatalf("RecordWebhook failed: %v", err)
	}
	if filepath.Base(path) != "logs.20260504.log" {
		t.Errorf("Unexpected segment %s", path)
	}

	data, _ := os.ReadFile(path)
	text := string(data)
	if !strings.HasPrefix(text, "=== RAW AVITO WEBHOOK (hr-main) @ 2026-05-04T10:11:12.345Z ===\n{\n") {
		t.Errorf("Unexpected banner:\n%s", text)
	}
	if !strings.Contains(text, `"chat_id": "u2i-1"`) || !strings.Contains(text, `"author_id": 42`) {
		t.Errorf("Expected spaced markers in record:\n%s", text)
	}
	if !strings.HasSuffix(text, Footer) {
		t.Errorf("Expected footer, got:\n%q", text)
	}

	// Second record appends to the same segment.
	if _, err := log.RecordWebhook("hr-main", []byte("not json")); err != nil {
		t.Fatalf("RecordWebhook failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if strings.Count(string(data), "=== RAW AVITO WEBHOOK") != 2 {
		t.Errorf("Expected two records:\n%s", data)
	}
	if !strings.Contains(string(data), "not json") {
		t.Error("Invalid JSON should be written as received")
	}
}

func TestSegmentsNewestModifiedFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	names := []string{"logs.20260101.log", "logs.20260102.log", "logs.20260103.log", "notes.txt"}
	for i, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	// An old file touched recently ranks first.
	touched := base.Add(10 * time.Hour)
	os.Chtimes(filepath.Join(dir, "logs.20260101.log"), touched, touched)

	segs, err := Segments(dir, 2)
	if err != nil {
		t.Fatalf("Segments failed: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segs))
	}
	if segs[0].Name != "logs.20260101.log" || segs[1].Name != "logs.20260103.log" {
		t.Errorf("Unexpected order: %s, %s", segs[0].Name, segs[1].Name)
	}

	all, _ := Segments(dir, 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 .log segments, got %d", len(all))
	}
}

func TestSegmentsMissingDir(t *testing.T) {
	segs, err := Segments(filepath.Join(t.TempDir(), "absent"), 2)
	if err != nil || len(segs) != 0 {
		t.Errorf("Expected no segments and no error, got %v, %v", segs, err)
	}
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.20260101.log")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		max  int64
		want string
	}{
		{4, "6789"},
		{10, "0123456789"},
		{100, "0123456789"},
		{0, "0123456789"},
	}
	for _, tt := range tests {
		got, err := Tail(path, tt.max)
		if err != nil {
			t.Fatalf("Tail(%d) failed: %v", tt.max, err)
		}
		if string(got) != tt.want {
			t.Errorf("Tail(%d) = %q, want %q", tt.max, got, tt.want)
		}
	}

	if _, err := Tail(filepath.Join(t.TempDir(), "gone.log"), 10); err == nil {
		t.Error("Expected error for missing segment")
	}
}
