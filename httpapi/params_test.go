package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKeyMatches(t *testing.T) {
	tests := []struct {
		want, got string
		match     bool
	}{
		{"k", "k", true},
		{"k", "K", false},
		{"k", "", false},
		{"", "", false},
		{"long-key", "long", false},
	}
	for _, tt := range tests {
		if got := keyMatches(tt.want, tt.got); got != tt.match {
			t.Errorf("keyMatches(%q, %q) = %v, want %v", tt.want, tt.got, got, tt.match)
		}
	}
}

func TestParams(t *testing.T) {
	r := httptest.NewRequest("POST", "/x?lock=from-query", strings.NewReader(`{"lock":"from-body","author_id":42,"chat":" c "}`))
	p, err := readParams(r)
	if err != nil {
		t.Fatalf("readParams failed: %v", err)
	}

	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"lock"}, "from-query"},
		{[]string{"author", "author_id"}, "42"},
		{[]string{"chat"}, "c"},
		{[]string{"missing"}, ""},
	}
	for _, tt := range tests {
		if got := p.get(tt.names...); got != tt.want {
			t.Errorf("get(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}

	// Cached params survive the body being consumed.
	again, _ := readParams(withParams(r, p))
	if again != p {
		t.Error("expected cached params")
	}
}

func TestParams_TooLarge(t *testing.T) {
	body := `{"key":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	r := httptest.NewRequest("POST", "/x", strings.NewReader(body))
	if _, err := readParams(r); err == nil {
		t.Error("expected error for oversized body")
	}
}
