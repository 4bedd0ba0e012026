package personality

import (
	"context"

	"niabot/pkg/store"
)

// Store is the per-user named-field persistence the engine runs against.
type Store interface {
	GetField(ctx context.Context, uid string, field store.ProfileField) (map[string]string, error)
	SetField(ctx context.Context, uid string, field store.ProfileField, values map[string]string) error
}

// Profile is the full set of personality mappings for one user.
type Profile struct {
	UserFacts   map[string]string
	Personality map[string]string
	InsideJokes map[string]string
	Memories    map[string]string
	Habits      map[string]string
	Preferences map[string]string
}

// updateKeys maps reply JSON keys to profile fields.
var updateKeys = map[string]store.ProfileField{
	"personality":  store.FieldPersonality,
	"inside_jokes": store.FieldInsideJokes,
	"memories":     store.FieldMemories,
	"habits":       store.FieldHabits,
	"preferences":  store.FieldPreferences,
	"user_facts":   store.FieldUserFacts,
}

// displayNames are the field names reported outward in changed-field lists.
var displayNames = map[store.ProfileField]string{
	store.FieldUserFacts:   "userFacts",
	store.FieldPersonality: "personality",
	store.FieldInsideJokes: "insideJokes",
	store.FieldMemories:    "memories",
	store.FieldHabits:      "habits",
	store.FieldPreferences: "preferences",
}

// DisplayName returns the outward-facing name of a profile field.
func DisplayName(field store.ProfileField) string {
	if name, ok := displayNames[field]; ok {
		return name
	}
	return string(field)
}

// LoadProfile reads all six mappings for a user. Missing or unreadable
// fields come back as empty mappings; the error reports the first read
// failure so callers can degrade.
func LoadProfile(ctx context.Context, s Store, uid string) (*Profile, error) {
	p := &Profile{}
	var firstErr error

	load := func(field store.ProfileField) map[string]string {
		values, err := s.GetField(ctx, uid, field)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return map[string]string{}
		}
		return values
	}

	p.UserFacts = load(store.FieldUserFacts)
	p.Personality = load(store.FieldPersonality)
	p.InsideJokes = load(store.FieldInsideJokes)
	p.Memories = load(store.FieldMemories)
	p.Habits = load(store.FieldHabits)
	p.Preferences = load(store.FieldPreferences)

	return p, firstErr
}
