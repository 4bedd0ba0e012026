package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetField_NewUserInitializesAllFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	values, err := s.GetField(ctx, "u1", FieldUserFacts)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty mapping, got %v", values)
	}

	// Every field row now exists and reads back empty without re-init.
	for _, field := range ProfileFields() {
		got, err := s.GetField(ctx, "u1", field)
		if err != nil {
			t.Fatalf("GetField(%s): %v", field, err)
		}
		if len(got) != 0 {
			t.Errorf("field %s: expected empty mapping, got %v", field, got)
		}
	}
}

func TestSetField_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := map[string]string{"name": "Alex", "city": "Berlin"}
	if err := s.SetField(ctx, "u1", FieldUserFacts, want); err != nil {
		t.Fatalf("SetField: %v", err)
	}

	got, err := s.GetField(ctx, "u1", FieldUserFacts)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if len(got) != 2 || got["name"] != "Alex" || got["city"] != "Berlin" {
		t.Errorf("GetField = %v, want %v", got, want)
	}

	// Writes to one field leave the others untouched.
	other, err := s.GetField(ctx, "u1", FieldHabits)
	if err != nil {
		t.Fatalf("GetField(habits): %v", err)
	}
	if len(other) != 0 {
		t.Errorf("habits = %v, want empty", other)
	}
}

func TestSetField_NilBecomesEmptyMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetField(ctx, "u1", FieldMemories, nil); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	got, err := s.GetField(ctx, "u1", FieldMemories)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty mapping, got %v", got)
	}
}

func TestGetHistory_SeedsGreetingOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	history, err := s.GetHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 || history[0].Role != "assistant" || history[0].Content != Greeting {
		t.Fatalf("unexpected seeded history: %+v", history)
	}

	// A second read returns the same single greeting, not a second seed.
	again, err := s.GetHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(again) != 1 {
		t.Errorf("history grew on read: %+v", again)
	}
}

func TestHistory_AppendPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendHistory(ctx, "u1",
		Turn{Role: "user", Content: "first"},
		Turn{Role: "assistant", Content: "second"},
	); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := s.AppendHistory(ctx, "u1", Turn{Role: "user", Content: "third"}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	history, err := s.GetHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}

	want := []string{Greeting, "first", "second", "third"}
	if len(history) != len(want) {
		t.Fatalf("history length = %d, want %d: %+v", len(history), len(want), history)
	}
	for i, content := range want {
		if history[i].Content != content {
			t.Errorf("history[%d] = %q, want %q", i, history[i].Content, content)
		}
	}
}

func TestParseField(t *testing.T) {
	cases := []struct {
		in   string
		want ProfileField
		ok   bool
	}{
		{"userfacts", FieldUserFacts, true},
		{"  UserFacts ", FieldUserFacts, true},
		{"PREFERENCES", FieldPreferences, true},
		{"unknown", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseField(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseField(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestProfileFields_StableOrder(t *testing.T) {
	fields := ProfileFields()
	if len(fields) != 6 {
		t.Fatalf("expected 6 fields, got %d", len(fields))
	}
	if fields[0] != FieldUserFacts {
		t.Errorf("first field = %s, want %s", fields[0], FieldUserFacts)
	}

	// The returned slice is a copy; mutating it must not leak.
	fields[0] = "mutated"
	if ProfileFields()[0] != FieldUserFacts {
		t.Error("ProfileFields returned shared backing slice")
	}
}
