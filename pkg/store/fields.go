package store

import "strings"

// ProfileField is one of the six persisted personality mappings. The set is
// closed: every read and write goes through one of these identifiers, never
// a caller-supplied column name.
type ProfileField string

const (
	FieldUserFacts   ProfileField = "userfacts"
	FieldPersonality ProfileField = "personality"
	FieldInsideJokes ProfileField = "insidejokes"
	FieldMemories    ProfileField = "memories"
	FieldHabits      ProfileField = "habits"
	FieldPreferences ProfileField = "preferences"
)

var profileFields = []ProfileField{
	FieldUserFacts,
	FieldPersonality,
	FieldInsideJokes,
	FieldMemories,
	FieldHabits,
	FieldPreferences,
}

// ProfileFields returns the closed field set in a stable order.
func ProfileFields() []ProfileField {
	out := make([]ProfileField, len(profileFields))
	copy(out, profileFields)
	return out
}

// ParseField resolves a field name case-insensitively.
func ParseField(name string) (ProfileField, bool) {
	f := ProfileField(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range profileFields {
		if f == known {
			return known, true
		}
	}
	return "", false
}
