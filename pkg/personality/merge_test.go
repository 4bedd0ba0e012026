package personality

import (
	"context"
	"testing"

	"niabot/pkg/store"
)

func TestApply_UnionReplyWins(t *testing.T) {
	fs := newFakeStore()
	fs.fields[store.FieldUserFacts] = map[string]string{"name": "Alex", "city": "Berlin"}

	reply := &Reply{Updates: map[store.ProfileField]map[string]string{
		store.FieldUserFacts: {"city": "Hamburg", "job": "engineer"},
	}}

	changed := NewMerger(fs).Apply(context.Background(), "u1", reply)

	if len(changed) != 1 || changed[0] != "userFacts" {
		t.Fatalf("changed = %v, want [userFacts]", changed)
	}

	got := fs.fields[store.FieldUserFacts]
	if got["name"] != "Alex" {
		t.Error("existing key dropped by merge")
	}
	if got["city"] != "Hamburg" {
		t.Errorf("city = %q, reply value should win", got["city"])
	}
	if got["job"] != "engineer" {
		t.Error("new key missing after merge")
	}
}

func TestApply_NoUpdatesWritesNothing(t *testing.T) {
	fs := newFakeStore()

	changed := NewMerger(fs).Apply(context.Background(), "u1", &Reply{})
	if len(changed) != 0 {
		t.Errorf("changed = %v, want none", changed)
	}
	if fs.writes != 0 {
		t.Errorf("writes = %d, want 0", fs.writes)
	}

	if got := NewMerger(fs).Apply(context.Background(), "u1", nil); len(got) != 0 {
		t.Errorf("nil reply changed = %v", got)
	}
}

func TestApply_OneWritePerChangedField(t *testing.T) {
	fs := newFakeStore()
	reply := &Reply{Updates: map[store.ProfileField]map[string]string{
		store.FieldMemories: {"a": "1"},
		store.FieldHabits:   {"b": "2"},
	}}

	NewMerger(fs).Apply(context.Background(), "u1", reply)
	if fs.writes != 2 {
		t.Errorf("writes = %d, want 2", fs.writes)
	}
}

func TestApply_ChangedFieldsInCanonicalOrder(t *testing.T) {
	fs := newFakeStore()
	reply := &Reply{Updates: map[store.ProfileField]map[string]string{
		store.FieldPreferences: {"p": "1"},
		store.FieldUserFacts:   {"u": "1"},
		store.FieldHabits:      {"h": "1"},
	}}

	changed := NewMerger(fs).Apply(context.Background(), "u1", reply)

	want := []string{"userFacts", "habits", "preferences"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Errorf("changed[%d] = %q, want %q", i, changed[i], want[i])
		}
	}
}

func TestApply_FailingFieldSkippedOthersMerge(t *testing.T) {
	fs := newFakeStore()
	fs.failRead[store.FieldMemories] = true

	reply := &Reply{Updates: map[store.ProfileField]map[string]string{
		store.FieldMemories: {"m": "1"},
		store.FieldHabits:   {"h": "1"},
	}}

	changed := NewMerger(fs).Apply(context.Background(), "u1", reply)

	if len(changed) != 1 || changed[0] != "habits" {
		t.Errorf("changed = %v, want [habits]", changed)
	}
	if _, ok := fs.fields[store.FieldMemories]; ok {
		t.Error("failed field should not be written")
	}
}

func TestApply_WriteFailureNotReportedAsChanged(t *testing.T) {
	fs := newFakeStore()
	fs.failWrite[store.FieldPreferences] = true

	reply := &Reply{Updates: map[store.ProfileField]map[string]string{
		store.FieldPreferences: {"p": "1"},
	}}

	changed := NewMerger(fs).Apply(context.Background(), "u1", reply)
	if len(changed) != 0 {
		t.Errorf("changed = %v, want none", changed)
	}
}
