package xid

import (
	"strings"
	"testing"
	"time"
)

func TestNewCarriesPrefix(t *testing.T) {
	id := New("at")
	if !strings.HasPrefix(id, "at-") {
		t.Fatalf("expected at- prefix, got %q", id)
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New("at")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestLaterIdsSortGreater(t *testing.T) {
	first := New("at")
	time.Sleep(time.Millisecond)
	second := New("at")
	if !(first < second) {
		t.Fatalf("expected %q < %q", first, second)
	}
}
