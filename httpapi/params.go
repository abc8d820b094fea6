package httpapi

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	qerrors "github.com/vinayprograms/replyqueue/errors"
)

type ctxKey int

const paramsKey ctxKey = iota

// params reads a named value from the query string first, then from the
// JSON body. The body is read once and kept for later handlers.
type params struct {
	r    *http.Request
	body []byte
}

func readParams(r *http.Request) (*params, error) {
	if p, ok := r.Context().Value(paramsKey).(*params); ok {
		return p, nil
	}
	p := &params{r: r}
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return nil, qerrors.InvalidInput("read body", qerrors.WithCause(err))
		}
		if len(body) > MaxBodyBytes {
			return nil, qerrors.InvalidInput("body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		p.body = body
	}
	return p, nil
}

func withParams(r *http.Request, p *params) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), paramsKey, p))
}

// get returns the first non-empty value among names.
func (p *params) get(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(p.r.URL.Query().Get(name)); v != "" {
			return v
		}
	}
	if len(p.body) == 0 || !gjson.ValidBytes(p.body) {
		return ""
	}
	for _, name := range names {
		if v := strings.TrimSpace(gjson.GetBytes(p.body, gjson.Escape(name)).String()); v != "" {
			return v
		}
	}
	return ""
}

// requireKey rejects consumer calls without the task key.
func (a *App) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := readParams(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if !keyMatches(a.TaskKey, p.get("key")) {
			writeError(w, qerrors.Forbidden("bad key"))
			return
		}
		next.ServeHTTP(w, withParams(r, p))
	})
}

// keyMatches compares in constant time. An unset key matches nothing.
func keyMatches(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the classified error body. Unclassified errors
// are reported as INTERNAL without their text.
func writeError(w http.ResponseWriter, err error) {
	qErr := qerrors.AsQueueError(err)
	if qErr == nil {
		qErr = qerrors.Internal("internal error", qerrors.WithCause(err))
	}
	writeJSON(w, qerrors.HTTPStatus(err), qErr)
}
