// Package confirm decides whether the activity log shows that a reply
// reached a chat.
//
// The Oracle never consults the task store. It looks at the newest few log
// segments, reads only their tails, and reports whether a chat_id marker and
// an author_id marker occur together. Absence of evidence is an ordinary
// answer, not an error.
package confirm

import (
	"bufio"
	"bytes"
	"context"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/vinayprograms/replyqueue/activity"
	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/logging"
)

// Defaults for the search bounds.
const (
	DefaultSegments  = 2
	DefaultTailBytes = 512000
	DefaultRadius    = 2048
)

// Strategy names reported in Evidence.
const (
	StrategySubstring  = "substring"
	StrategyStructured = "structured"
	StrategyProximity  = "proximity"
)

// Evidence describes a confirmation result.
type Evidence struct {
	Found    bool   `json:"exists"`
	Segment  string `json:"file,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// Oracle searches activity log segments for reply evidence.
type Oracle struct {
	dir       string
	segments  int
	tailBytes int64
	radius    int
	logger    *logging.Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithSegments sets how many of the newest segments are searched.
func WithSegments(n int) Option {
	return func(o *Oracle) {
		if n > 0 {
			o.segments = n
		}
	}
}

// WithTailBytes caps how much of each segment is read.
func WithTailBytes(n int64) Option {
	return func(o *Oracle) {
		if n > 0 {
			o.tailBytes = n
		}
	}
}

// WithRadius sets the proximity window around a chat marker.
func WithRadius(n int) Option {
	return func(o *Oracle) {
		if n > 0 {
			o.radius = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Oracle) {
		o.logger = l
	}
}

// New returns an Oracle over the log directory.
func New(dir string, opts ...Option) *Oracle {
	o := &Oracle{
		dir:       dir,
		segments:  DefaultSegments,
		tailBytes: DefaultTailBytes,
		radius:    DefaultRadius,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("confirm")
	return o
}

// Confirmed reports whether chatID and authorID appear together in the
// tail of one of the newest segments.
func (o *Oracle) Confirmed(ctx context.Context, chatID, authorID string) (Evidence, error) {
	if chatID == "" || authorID == "" {
		return Evidence{}, qerrors.InvalidInput("chat and author required")
	}

	segments, err := activity.Segments(o.dir, o.segments)
	if err != nil {
		return Evidence{}, err
	}

	q := newQuery(chatID, authorID)
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return Evidence{}, qerrors.Wrap(err, "confirm reply")
		}
		tail, err := activity.Tail(seg.Path, o.tailBytes)
		if err != nil {
			// Rotated away or unreadable; the other segment may still answer.
			o.logger.Warn("log segment skipped", map[string]interface{}{
				"segment": seg.Name,
				"error":   err,
			})
			continue
		}
		if strategy := q.match(tail, o.radius); strategy != "" {
			ev := Evidence{Found: true, Segment: seg.Name, Strategy: strategy}
			o.logger.ConfirmationChecked(chatID, authorID, true, seg.Name, strategy)
			return ev, nil
		}
	}

	o.logger.ConfirmationChecked(chatID, authorID, false, "", "")
	return Evidence{}, nil
}

// query holds the markers for one (chat, author) pair.
type query struct {
	chatID   string
	authorID string

	chatMarkers   [][]byte
	authorMarkers [][]byte

	chatRe   *regexp.Regexp
	authorRe *regexp.Regexp
}

func newQuery(chatID, authorID string) *query {
	return &query{
		chatID:   chatID,
		authorID: authorID,
		chatMarkers: [][]byte{
			[]byte(`"chat_id": "` + chatID + `"`),
			[]byte(`"chat_id":"` + chatID + `"`),
		},
		authorMarkers: [][]byte{
			[]byte(`"author_id": ` + authorID),
			[]byte(`"author_id":` + authorID),
			[]byte(`"author_id": "` + authorID + `"`),
			[]byte(`"author_id":"` + authorID + `"`),
		},
		chatRe:   regexp.MustCompile(`"chat_id"\s*:\s*"` + regexp.QuoteMeta(chatID) + `"`),
		authorRe: regexp.MustCompile(`"author_id"\s*:\s*"?` + regexp.QuoteMeta(authorID) + `(?:[^0-9A-Za-z_-]|$)`),
	}
}

// match runs the strategies in order and names the first that succeeds.
func (q *query) match(tail []byte, radius int) string {
	switch {
	case q.substring(tail):
		return StrategySubstring
	case q.structured(tail):
		return StrategyStructured
	case q.proximity(tail, radius):
		return StrategyProximity
	}
	return ""
}

// substring looks for both exact markers anywhere in the tail.
func (q *query) substring(tail []byte) bool {
	return containsAny(tail, q.chatMarkers) && containsAny(tail, q.authorMarkers)
}

var (
	chatPaths   = []string{"chat_id", "value.chat_id", "payload.value.chat_id"}
	authorPaths = []string{"author_id", "value.author_id", "payload.value.author_id"}
)

// structured parses each line that is a JSON document on its own.
func (q *query) structured(tail []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(tail))
	sc.Buffer(make([]byte, 0, 64*1024), len(tail)+1)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || (line[0] != '{' && line[0] != '[') || !gjson.ValidBytes(line) {
			continue
		}
		if anyPathEquals(line, chatPaths, q.chatID) && anyPathEquals(line, authorPaths, q.authorID) {
			return true
		}
	}
	return false
}

// proximity finds each chat marker, tolerating odd spacing, and looks for
// the author marker within radius bytes on either side.
func (q *query) proximity(tail []byte, radius int) bool {
	for _, loc := range q.chatRe.FindAllIndex(tail, -1) {
		start := loc[0] - radius
		if start < 0 {
			start = 0
		}
		end := loc[1] + radius
		if end > len(tail) {
			end = len(tail)
		}
		if q.authorRe.Match(tail[start:end]) {
			return true
		}
	}
	return false
}

func anyPathEquals(doc []byte, paths []string, want string) bool {
	for _, r := range gjson.GetManyBytes(doc, paths...) {
		if r.Exists() && r.String() == want {
			return true
		}
	}
	return false
}

func containsAny(buf []byte, markers [][]byte) bool {
	for _, m := range markers {
		if containsMarker(buf, m) {
			return true
		}
	}
	return false
}

// containsMarker reports whether marker occurs in buf not followed by an ID
// character, so author 42 does not match 421.
func containsMarker(buf, marker []byte) bool {
	for off := 0; off < len(buf); {
		i := bytes.Index(buf[off:], marker)
		if i < 0 {
			return false
		}
		end := off + i + len(marker)
		if end >= len(buf) || !isIDByte(buf[end]) {
			return true
		}
		off += i + 1
	}
	return false
}

func isIDByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '-' || b == '_'
}
