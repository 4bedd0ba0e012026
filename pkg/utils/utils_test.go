package utils

import "testing"

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short string changed: %q", got)
	}
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Errorf("got %q, want %q", got, "hello...")
	}
	// The ellipsis counts toward the limit; tiny limits just hard-cut.
	if got := Truncate("hello", 2); got != "he" {
		t.Errorf("got %q, want %q", got, "he")
	}
	// Multi-byte runes must not be split mid-sequence.
	if got := Truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("got %q, want %q", got, "héllo...")
	}
	if got := Truncate("", 5); got != "" {
		t.Errorf("empty string: %q", got)
	}
}
