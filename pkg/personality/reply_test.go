package personality

import (
	"testing"

	"niabot/pkg/store"
)

func TestParseReply_FullReply(t *testing.T) {
	content := `{
		"response": "Good morning!",
		"emotion": "happy",
		"plannedMessage": "How did the interview go?",
		"plannedMessageTimeInSeconds": 3600,
		"user_facts": {"name": "Alex"},
		"memories": {"interview": "Alex has a job interview today"}
	}`

	reply, err := ParseReply(content)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}

	if reply.Response != "Good morning!" {
		t.Errorf("Response = %q", reply.Response)
	}
	if reply.Emotion != EmotionHappy {
		t.Errorf("Emotion = %q", reply.Emotion)
	}
	if reply.PlannedDelaySeconds != 3600 {
		t.Errorf("PlannedDelaySeconds = %d", reply.PlannedDelaySeconds)
	}
	if !reply.HasPlannedMessage() {
		t.Error("HasPlannedMessage should be true")
	}
	if got := reply.Updates[store.FieldUserFacts]["name"]; got != "Alex" {
		t.Errorf("user_facts update = %q", got)
	}
	if got := reply.Updates[store.FieldMemories]["interview"]; got != "Alex has a job interview today" {
		t.Errorf("memories update = %q", got)
	}
}

func TestParseReply_NonObjectFails(t *testing.T) {
	for _, content := range []string{"", "   ", "plain text", `"just a string"`, `[1,2,3]`} {
		if _, err := ParseReply(content); err == nil {
			t.Errorf("ParseReply(%q) should fail", content)
		}
	}
}

func TestParseReply_MalformedUpdateSkippedOthersSurvive(t *testing.T) {
	content := `{
		"response": "ok",
		"habits": "not an object",
		"preferences": {"coffee": "black"}
	}`

	reply, err := ParseReply(content)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}

	if _, ok := reply.Updates[store.FieldHabits]; ok {
		t.Error("malformed habits update should be dropped")
	}
	if got := reply.Updates[store.FieldPreferences]["coffee"]; got != "black" {
		t.Errorf("preferences update = %q", got)
	}
}

func TestParseReply_FlexibleScalars(t *testing.T) {
	content := `{
		"response": 42,
		"plannedMessage": "later",
		"plannedMessageTimeInSeconds": "90",
		"user_facts": {"age": 30, "employed": true, "nickname": null, "tags": ["a","b"]}
	}`

	reply, err := ParseReply(content)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}

	if reply.Response != "42" {
		t.Errorf("numeric response = %q", reply.Response)
	}
	if reply.PlannedDelaySeconds != 90 {
		t.Errorf("numeric-string delay = %d", reply.PlannedDelaySeconds)
	}

	facts := reply.Updates[store.FieldUserFacts]
	if facts["age"] != "30" {
		t.Errorf("age = %q", facts["age"])
	}
	if facts["employed"] != "true" {
		t.Errorf("employed = %q", facts["employed"])
	}
	if _, ok := facts["nickname"]; ok {
		t.Error("null entry should be dropped")
	}
	if facts["tags"] != `["a","b"]` {
		t.Errorf("array entry = %q", facts["tags"])
	}
}

func TestParseReply_EmptyUpdateObjectsIgnored(t *testing.T) {
	reply, err := ParseReply(`{"response": "hi", "memories": {}, "habits": {}}`)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if len(reply.Updates) != 0 {
		t.Errorf("empty update objects should not register: %v", reply.Updates)
	}
}

func TestNormalizeEmotion(t *testing.T) {
	cases := map[string]Emotion{
		"happy":    EmotionHappy,
		" SAD ":    EmotionSad,
		"Angry":    EmotionAngry,
		"neutral":  EmotionNeutral,
		"ecstatic": EmotionNeutral,
		"":         EmotionNeutral,
	}
	for in, want := range cases {
		if got := NormalizeEmotion(in); got != want {
			t.Errorf("NormalizeEmotion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHasPlannedMessage(t *testing.T) {
	cases := []struct {
		reply Reply
		want  bool
	}{
		{Reply{PlannedMessage: "x", PlannedDelaySeconds: 30}, true},
		{Reply{PlannedMessage: "x", PlannedTime: "15:00:00"}, true},
		{Reply{PlannedMessage: "x"}, false},
		{Reply{PlannedDelaySeconds: 30}, false},
		{Reply{}, false},
	}
	for i, tc := range cases {
		if got := tc.reply.HasPlannedMessage(); got != tc.want {
			t.Errorf("case %d: HasPlannedMessage = %v, want %v", i, got, tc.want)
		}
	}
}
