package identity

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestResolver_DisplayName(t *testing.T) {
	r, err := NewResolver(16, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	r.Remember("p1", "Alex")
	r.Remember("p2", "   ")
	r.Remember("", "Nobody")

	tests := []struct {
		userID string
		want   string
	}{
		{"p1", "Alex"},
		{"p2", "Unknown (p2)"},
		{"p3", "Unknown (p3)"},
	}
	for _, tt := range tests {
		if got := r.DisplayName(tt.userID); got != tt.want {
			t.Errorf("DisplayName(%q): expected %q, got %q", tt.userID, tt.want, got)
		}
	}

	r.Remember("p1", "Alexandra")
	if got := r.DisplayName("p1"); got != "Alexandra" {
		t.Errorf("Expected renamed player, got %q", got)
	}
}

func TestResolver_Eviction(t *testing.T) {
	r, err := NewResolver(2, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	r.Remember("a", "A")
	r.Remember("b", "B")
	r.DisplayName("a")
	r.Remember("c", "C")

	if r.Len() != 2 {
		t.Fatalf("Expected 2 cached names, got %d", r.Len())
	}
	if got := r.DisplayName("b"); got != "Unknown (b)" {
		t.Errorf("Expected least recently used name evicted, got %q", got)
	}
	if got := r.DisplayName("a"); got != "A" {
		t.Errorf("Expected recently used name kept, got %q", got)
	}
}

func TestNewResolver_DefaultSize(t *testing.T) {
	if _, err := NewResolver(0, zerolog.Nop()); err != nil {
		t.Errorf("Expected default size to be used, got %v", err)
	}
}
