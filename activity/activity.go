// Package activity writes and reads the append-only activity log.
//
// Every webhook delivery is appended verbatim to a daily segment named
// logs.YYYYMMDD.log (UTC) under the log directory. The segments double as
// the evidence trail that confirmation searches, so the record layout is
// fixed: a banner line, the pretty-printed JSON body, and a footer.
package activity

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	qerrors "github.com/vinayprograms/replyqueue/errors"
)

const (
	segmentPrefix = "logs."
	segmentSuffix = ".log"

	// Footer closes every webhook record.
	Footer = "\n=========================\n\n"
)

// Segment is one log file as seen by a directory listing.
type Segment struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Log appends records to daily segments in one directory.
type Log struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the time source used for segment names and banners.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New returns a Log over dir, creating it if needed.
func New(dir string, opts ...Option) (*Log, error) {
	if dir == "" {
		return nil, qerrors.InvalidInput("log directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, qerrors.Storage("create log directory", err)
	}
	l := &Log{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string {
	return l.dir
}

// SegmentName returns the segment file name for t's UTC day.
func SegmentName(t time.Time) string {
	return segmentPrefix + t.UTC().Format("20060102") + segmentSuffix
}

// Append writes text to the current segment and returns its path.
func (l *Log) Append(text string) (string, error) {
	path := filepath.Join(l.dir, SegmentName(l.now()))

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", qerrors.Storage("open log segment", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return "", qerrors.Storage("append log segment", err)
	}
	return path, nil
}

// Banner returns the header line of a webhook record.
func Banner(account string, at time.Time) string {
	return "=== RAW AVITO WEBHOOK (" + account + ") @ " + at.UTC().Format("2006-01-02T15:04:05.000Z") + " ===\n"
}

// RecordWebhook appends one webhook body. Valid JSON is indented two spaces
// per level with `"key": value` spacing, which is the form the confirmation
// markers expect. Anything else is written as received.
func (l *Log) RecordWebhook(account string, body []byte) (string, error) {
	var pretty bytes.Buffer
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		pretty.WriteString("{}")
	} else if err := json.Indent(&pretty, trimmed, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(trimmed)
	}
	return l.Append(Banner(account, l.now()) + pretty.String() + Footer)
}

// Segments returns up to n segments, most recently modified first. A
// missing directory yields no segments. n <= 0 returns all of them.
func Segments(dir string, n int) ([]Segment, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, qerrors.Storage("read log directory", err)
	}

	segments := make([]Segment, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), segmentSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		segments = append(segments, Segment{
			Name:    de.Name(),
			Path:    filepath.Join(dir, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(segments, func(i, j int) bool {
		if !segments[i].ModTime.Equal(segments[j].ModTime) {
			return segments[i].ModTime.After(segments[j].ModTime)
		}
		// Daily names sort chronologically.
		return segments[i].Name > segments[j].Name
	})
	if n > 0 && len(segments) > n {
		segments = segments[:n]
	}
	return segments, nil
}

// Segments lists this log's segments.
func (l *Log) Segments(n int) ([]Segment, error) {
	return Segments(l.dir, n)
}

// Tail reads at most max trailing bytes of path. max <= 0 reads it all.
func Tail(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, qerrors.NotFound("log segment not found", qerrors.WithMetadata("path", path))
		}
		return nil, qerrors.Storage("open log segment", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, qerrors.Storage("stat log segment", err)
	}
	if max > 0 && info.Size() > max {
		if _, err := f.Seek(info.Size()-max, io.SeekStart); err != nil {
			return nil, qerrors.Storage("seek log segment", err)
		}
		data, err := io.ReadAll(io.LimitReader(f, max))
		if err != nil {
			return nil, qerrors.Storage("read log segment", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, qerrors.Storage("read log segment", err)
	}
	return data, nil
}
