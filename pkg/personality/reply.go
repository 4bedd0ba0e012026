package personality

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"niabot/pkg/logger"
	"niabot/pkg/store"
)

// Emotion is the closed emotion set the model may report.
type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionHappy   Emotion = "happy"
	EmotionSad     Emotion = "sad"
	EmotionAngry   Emotion = "angry"
)

// NormalizeEmotion maps anything outside the closed set to neutral.
func NormalizeEmotion(raw string) Emotion {
	switch Emotion(strings.ToLower(strings.TrimSpace(raw))) {
	case EmotionHappy:
		return EmotionHappy
	case EmotionSad:
		return EmotionSad
	case EmotionAngry:
		return EmotionAngry
	default:
		return EmotionNeutral
	}
}

// Reply is the parsed structured model output.
type Reply struct {
	Response       string
	Emotion        Emotion
	PlannedMessage string
	// PlannedDelaySeconds is plannedMessageTimeInSeconds; zero means absent.
	PlannedDelaySeconds int64
	// PlannedTime is the raw HH:MM:SS clock time, if any.
	PlannedTime string
	// Updates holds the proposed profile deltas, keyed by field. Only
	// well-formed, non-empty update objects appear here.
	Updates map[store.ProfileField]map[string]string
}

// HasPlannedMessage reports whether the reply asks for a follow-up.
func (r *Reply) HasPlannedMessage() bool {
	return r.PlannedMessage != "" && (r.PlannedDelaySeconds > 0 || r.PlannedTime != "")
}

// ParseReply decodes the model's JSON content. The reply must be a JSON
// object with a response field; everything else is tolerated field by
// field, so one malformed update can never poison the rest.
func ParseReply(content string) (*Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty model reply")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("model reply is not a JSON object: %w", err)
	}

	reply := &Reply{
		Response:       flexString(raw["response"]),
		Emotion:        NormalizeEmotion(flexString(raw["emotion"])),
		PlannedMessage: flexString(raw["plannedMessage"]),
		PlannedTime:    flexString(raw["plannedTime"]),
		Updates:        map[store.ProfileField]map[string]string{},
	}

	if secs, ok := flexInt(raw["plannedMessageTimeInSeconds"]); ok {
		reply.PlannedDelaySeconds = secs
	}

	for key, field := range updateKeys {
		data, ok := raw[key]
		if !ok {
			continue
		}
		values, ok := flexStringMap(data)
		if !ok {
			logger.WarnCF("personality", "Skipping malformed update field", map[string]interface{}{
				"field": key,
			})
			continue
		}
		if len(values) == 0 {
			continue
		}
		reply.Updates[field] = values
	}

	return reply, nil
}

// flexString accepts a JSON string, number, or bool and returns its string
// form; anything else (including absence) yields "".
func flexString(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

// flexInt accepts a JSON number or numeric string.
func flexInt(data json.RawMessage) (int64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		return n, true
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		return int64(f), true
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// flexStringMap accepts a flat JSON object and stringifies its scalar
// values; nested objects and arrays are stringified as JSON.
func flexStringMap(data json.RawMessage) (map[string]string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}

	values := make(map[string]string, len(obj))
	for k, v := range obj {
		// Null entries carry no information. Checked before the string
		// decode: unmarshalling null into a string is a silent no-op.
		if strings.TrimSpace(string(v)) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			values[k] = s
			continue
		}
		// Other non-string values are kept in their JSON form so history
		// and merges stay stringly.
		if flat := flexString(v); flat != "" {
			values[k] = flat
			continue
		}
		values[k] = string(v)
	}
	return values, true
}
