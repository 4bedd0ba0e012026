package personality

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"niabot/pkg/logger"
)

// EmptySentinel is rendered for a mapping with no entries so the model can
// tell "nothing known yet" from an empty-but-present object.
const EmptySentinel = "No information available yet."

// FallbackPrompt is used when the profile cannot be loaded; the cycle still
// proceeds with a generic persona.
const FallbackPrompt = "Error building personality prompt. Using fallback personality. " +
	"You are a friendly personal assistant. Respond with a JSON object containing " +
	`a "response" field and an "emotion" field (neutral, happy, sad, or angry).`

// Assembler builds the system prompt from a user's accumulated profile and
// a snapshot of the current world context.
type Assembler struct {
	store     Store
	agentName string
	location  *time.Location
	now       func() time.Time
}

func NewAssembler(s Store, agentName string, location *time.Location) *Assembler {
	if agentName == "" {
		agentName = "NIA"
	}
	if location == nil {
		location = time.UTC
	}
	return &Assembler{
		store:     s,
		agentName: agentName,
		location:  location,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (a *Assembler) SetClock(now func() time.Time) {
	a.now = now
}

// Assemble renders the system prompt for one user. It never fails: a
// profile load error degrades to FallbackPrompt.
func (a *Assembler) Assemble(ctx context.Context, uid string) string {
	profile, err := LoadProfile(ctx, a.store, uid)
	if err != nil {
		logger.WarnCF("personality", "Profile load failed, using fallback prompt", map[string]interface{}{
			"uid":   uid,
			"error": err.Error(),
		})
		return FallbackPrompt
	}

	userName := profile.UserFacts["name"]
	if userName == "" {
		userName = "user"
	}

	personalityJSON, _ := json.Marshal(profile.Personality)
	worldJSON, _ := json.Marshal(a.worldInfo())

	var b strings.Builder
	fmt.Fprintf(&b, "You are the personal assistant of %s. And your name is %s.\n", userName, a.agentName)
	fmt.Fprintf(&b, "Strictly follow the following personality, which got built over time: %s.\n\n", personalityJSON)
	fmt.Fprintf(&b, "Here is some information about the world: %s\n\n", worldJSON)
	fmt.Fprintf(&b, "Here is some information about %s:\n%s\n\n", userName, formatEntries(profile.UserFacts))
	fmt.Fprintf(&b, "Here are some inside jokes you and %s have:\n%s\n\n", userName, formatEntries(profile.InsideJokes))
	fmt.Fprintf(&b, "Here are some memories you have of %s:\n%s\n\n", userName, formatEntries(profile.Memories))
	fmt.Fprintf(&b, "Here are some habits you have:\n%s\n\n", formatEntries(profile.Habits))
	fmt.Fprintf(&b, "Here are some preferences %s has. You do not need to follow them strictly since you have your own personality:\n%s\n\n",
		userName, formatEntries(profile.Preferences))
	b.WriteString(responseContract)

	return b.String()
}

// worldInfo is the non-persisted execution-environment snapshot embedded in
// every prompt.
func (a *Assembler) worldInfo() map[string]string {
	now := a.now().In(a.location)
	return map[string]string{
		"date":          now.Format("1/2/2006"),
		"time":          now.Format("3:04:05 PM"),
		"your_timezone": a.location.String(),
	}
}

// formatEntries renders a mapping as stable "key: value" lines, or the
// sentinel when empty.
func formatEntries(values map[string]string) string {
	if len(values) == 0 {
		return EmptySentinel
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, values[k]))
	}
	return strings.Join(lines, "\n")
}

// responseContract is the fixed behavioral contract: the model must reply
// with a single JSON object in this shape.
const responseContract = `You are supposed to provide a response by following the personality and the information about the user, but you can also update your personality by replying with a JSON object.
Respond in the following format:
{
    "response": "Your response here",
    "emotion": "Your emotion here",
    "plannedMessage": "Your planned message here",
    "plannedMessageTimeInSeconds": "The time in seconds when the message should be sent",
    "plannedTime": "The time in format HH:MM:SS when the message should be sent. Remember to adjust to the users timezone if you have it.",
    "personality": { /* personality updates */ },
    "inside_jokes": { /* inside joke updates */ },
    "memories": { /* memory updates */ },
    "habits": { /* habit updates */ },
    "preferences": { /* preference updates */ },
    "user_facts": { /* user fact updates */ }
}

Guidelines for updates:
1. Use either plannedTime OR plannedMessageTimeInSeconds, not both
2. PlannedMessage should be used sparingly, only for meaningful follow-ups
3. Multiple field updates are allowed but should be necessary
4. Personality/Memories/Habits reflect YOUR growth, not user preferences
5. Be specific with personality updates (max 10 words per update)
6. Inside jokes should be rare and meaningful
7. Preferences reflect user's explicit shares
8. User facts are factual information about the user
9. Emotions must be: neutral, happy, sad, or angry
10. Only add new or update existing fields when necessary
11. Empty response field means no response needed`
