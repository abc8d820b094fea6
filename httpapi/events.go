package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vinayprograms/replyqueue/bus"
	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/tasks"
)

// DefaultHeartbeat is the keepalive interval of the event stream.
const DefaultHeartbeat = 30 * time.Second

// eventsHandler streams task-created notifications as server-sent events,
// optionally narrowed to one account. Consumers use it to claim promptly
// instead of polling; a missed event costs at most one poll interval.
func (a *App) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if a.Bus == nil {
		writeError(w, qerrors.Internal("event stream disabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, qerrors.Internal("streaming not supported"))
		return
	}

	p, err := readParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	account := p.get("account")
	if account != "" {
		account = tasks.SanitizePartition(account)
	}

	sub, err := a.Bus.Subscribe(bus.TaskCreatedPattern(account))
	if err != nil {
		writeError(w, qerrors.Wrap(err, "subscribe"))
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	interval := a.Heartbeat
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	var closing <-chan struct{}
	if a.Streams != nil {
		closing = a.Streams.Done()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closing:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", bus.SubjectTaskCreated, msg.Data)
			flusher.Flush()
		}
	}
}
