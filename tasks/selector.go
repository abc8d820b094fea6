package tasks

import (
	"sort"
	"time"
)

// Candidate is a pending task as the selector sees it.
type Candidate struct {
	Key       string
	Partition string
	CreatedAt time.Time
}

// Selector decides which pending tasks a claim may try.
//
// Replies are human-facing, so freshness wins over FIFO: candidates are
// filtered to the requested partition first, ordered newest first, and cut
// to Window. Older tasks stay stored and listed but are not offered.
type Selector struct {
	// Window bounds the candidate set. Zero or negative means DefaultWindow.
	Window int
}

// NewSelector returns a selector with the given window.
func NewSelector(window int) Selector {
	return Selector{Window: window}
}

func (s Selector) window() int {
	if s.Window <= 0 {
		return DefaultWindow
	}
	return s.Window
}

// Select returns the candidates a claim for partition should try, in order.
// An empty partition considers every partition.
func (s Selector) Select(pending []Candidate, partition string) []Candidate {
	out := make([]Candidate, 0, len(pending))
	for _, c := range pending {
		if partition != "" && c.Partition != partition {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})

	if n := s.window(); len(out) > n {
		out = out[:n]
	}
	return out
}
