package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"niabot/pkg/bus"
	"niabot/pkg/logger"
	"niabot/pkg/personality"
	"niabot/pkg/providers"
	"niabot/pkg/scheduler"
	"niabot/pkg/store"
	"niabot/pkg/utils"
)

// FallbackResponse is returned whenever the model invocation fails; the
// user always gets an acknowledgement on that path.
const FallbackResponse = "I'm having trouble processing that right now."

// FollowUpInstruction drives a fired one-shot follow-up trigger.
const FollowUpInstruction = "You are supposed to follow up on the previous message. " +
	"Do not acknowledge that you are following up on the planned message. " +
	"You may also decide not to respond if you have nothing useful or new to say. " +
	"Do not annoy the user."

// Store is the persistence the orchestrator needs: profile fields plus
// conversation history.
type Store interface {
	personality.Store
	GetHistory(ctx context.Context, uid string) ([]store.Turn, error)
	AppendHistory(ctx context.Context, uid string, turns ...store.Turn) error
}

// Result is the terminal outcome of one orchestration cycle. An empty
// Response means "say nothing" and is a valid success.
type Result struct {
	Response string
	Emotion  personality.Emotion
	Updated  []string
}

// Orchestrator runs the single request/response cycle shared by reactive
// and proactive turns: assemble prompt, invoke model, merge updates,
// extend history, arm follow-up, deliver.
type Orchestrator struct {
	bus       *bus.MessageBus
	provider  providers.LLMProvider
	store     Store
	assembler *personality.Assembler
	merger    *personality.Merger
	sched     *scheduler.Service

	model       string
	maxTokens   int
	temperature float64
	location    *time.Location
	now         func() time.Time

	running atomic.Bool

	locksMu   sync.Mutex
	userLocks map[string]*userLock
}

// userLock serializes cycles per user. A plain mutex queues waiters, so a
// second trigger for a busy user runs after the first completes.
type userLock struct {
	mu   sync.Mutex
	refs int
}

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Location    *time.Location
}

func NewOrchestrator(msgBus *bus.MessageBus, provider providers.LLMProvider, st Store,
	assembler *personality.Assembler, merger *personality.Merger, sched *scheduler.Service, opts Options) *Orchestrator {

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Orchestrator{
		bus:         msgBus,
		provider:    provider,
		store:       st,
		assembler:   assembler,
		merger:      merger,
		sched:       sched,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		location:    loc,
		now:         time.Now,
		userLocks:   make(map[string]*userLock),
	}
}

// SetClock overrides the time source, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Run consumes inbound triggers until the context is cancelled. Results
// with a non-empty response are published outbound; delivery failures stay
// in the transport layer.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.running.Store(true)

	for o.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
			msg, ok := o.bus.ConsumeInbound(ctx)
			if !ok {
				continue
			}

			result := o.Process(ctx, msg)

			// Empty responses still go out for reactive turns so the
			// channel can acknowledge the silence; proactive triggers
			// that choose silence produce nothing at all.
			if result.Response == "" && msg.System {
				continue
			}

			o.bus.PublishOutbound(bus.OutboundMessage{
				Channel:       msg.Channel,
				ChatID:        msg.ChatID,
				Content:       result.Response,
				ReplyToID:     msg.Metadata["message_id"],
				UpdatedFields: result.Updated,
			})
		}
	}

	return nil
}

func (o *Orchestrator) Stop() {
	o.running.Store(false)
}

// Process executes one full cycle for an inbound trigger. It never returns
// an error: a model failure yields the fixed fallback result, and lesser
// failures degrade per their policy.
func (o *Orchestrator) Process(ctx context.Context, msg bus.InboundMessage) Result {
	uid := msg.SenderID
	unlock := o.lockUser(uid)
	defer unlock()

	logger.InfoCF("agent", fmt.Sprintf("Processing trigger: %s", utils.Truncate(msg.Content, 80)),
		map[string]interface{}{
			"channel": msg.Channel,
			"uid":     uid,
			"system":  msg.System,
		})

	// ASSEMBLING
	prompt := o.assembler.Assemble(ctx, uid)
	history, err := o.store.GetHistory(ctx, uid)
	if err != nil {
		// Degrade like a failed profile load: the cycle proceeds without
		// prior context rather than aborting.
		logger.WarnCF("agent", "History load failed, continuing without it", map[string]interface{}{
			"uid":   uid,
			"error": err.Error(),
		})
		history = nil
	}

	messages := make([]providers.Message, 0, len(history)+3)
	messages = append(messages, providers.Message{Role: "system", Content: prompt})
	messages = append(messages, sanitizeHistory(history)...)
	messages = append(messages, providers.Message{Role: "user", Content: msg.Content})
	if msg.AttachmentURL != "" {
		messages = append(messages, providers.Message{Role: "user", Content: msg.AttachmentURL})
	}

	// INVOKING_MODEL
	resp, err := o.provider.Chat(ctx, messages, o.model, map[string]interface{}{
		"max_tokens":  o.maxTokens,
		"temperature": o.temperature,
	})
	if err != nil {
		logger.ErrorCF("agent", "Model invocation failed", map[string]interface{}{
			"uid":   uid,
			"error": err.Error(),
		})
		return fallbackResult()
	}

	reply, err := personality.ParseReply(resp.Content)
	if err != nil {
		logger.ErrorCF("agent", "Model reply did not match schema", map[string]interface{}{
			"uid":     uid,
			"error":   err.Error(),
			"preview": utils.Truncate(resp.Content, 120),
		})
		return fallbackResult()
	}

	// MERGING
	updated := o.merger.Apply(ctx, uid, reply)
	o.extendHistory(ctx, uid, msg, reply)

	// SCHEDULING_FOLLOWUP
	if reply.HasPlannedMessage() {
		o.armFollowUp(uid, reply)
	}

	// DELIVERING happens in the caller; an empty response is a valid
	// intentional-silence outcome.
	return Result{
		Response: reply.Response,
		Emotion:  reply.Emotion,
		Updated:  updated,
	}
}

func fallbackResult() Result {
	return Result{
		Response: FallbackResponse,
		Emotion:  personality.EmotionNeutral,
		Updated:  []string{},
	}
}

// extendHistory appends the user instruction (reactive turns only) and the
// assistant's response to the stored history. Failures are logged and
// swallowed: history bookkeeping never fails a completed cycle.
func (o *Orchestrator) extendHistory(ctx context.Context, uid string, msg bus.InboundMessage, reply *personality.Reply) {
	turns := make([]store.Turn, 0, 2)
	if !msg.System {
		turns = append(turns, store.Turn{Role: "user", Content: msg.Content})
	}
	if reply.Response != "" {
		turns = append(turns, store.Turn{Role: "assistant", Content: reply.Response})
	}
	if len(turns) == 0 {
		return
	}

	if err := o.store.AppendHistory(ctx, uid, turns...); err != nil {
		logger.ErrorCF("agent", "History write failed, turns not recorded", map[string]interface{}{
			"uid":   uid,
			"error": err.Error(),
		})
	}
}

// armFollowUp computes the fire time for a planned message and arms a
// one-shot trigger. A seconds delay wins over a clock time; a non-positive
// or unparseable delay drops the follow-up silently.
func (o *Orchestrator) armFollowUp(uid string, reply *personality.Reply) {
	var delay time.Duration

	if reply.PlannedDelaySeconds > 0 {
		delay = time.Duration(reply.PlannedDelaySeconds) * time.Second
	} else if reply.PlannedTime != "" {
		d, err := o.clockDelay(reply.PlannedTime)
		if err != nil {
			logger.WarnCF("agent", "Dropping follow-up with unparseable time", map[string]interface{}{
				"uid":          uid,
				"planned_time": reply.PlannedTime,
			})
			return
		}
		delay = d
	}

	if _, err := o.sched.ArmOneShot(uid, delay, FollowUpInstruction); err != nil {
		if err == scheduler.ErrNonPositiveDelay {
			logger.DebugCF("agent", "Dropping already-expired follow-up", map[string]interface{}{
				"uid": uid,
			})
			return
		}
		logger.WarnCF("agent", "Could not arm follow-up", map[string]interface{}{
			"uid":   uid,
			"error": err.Error(),
		})
	}
}

// clockDelay resolves an HH:MM:SS (or HH:MM) wall-clock time to a delay
// from now, in the user's timezone. Past times yield a non-positive delay.
func (o *Orchestrator) clockDelay(clock string) (time.Duration, error) {
	layout := "15:04:05"
	if strings.Count(clock, ":") == 1 {
		layout = "15:04"
	}
	parsed, err := time.Parse(layout, strings.TrimSpace(clock))
	if err != nil {
		return 0, fmt.Errorf("parse planned time %q: %w", clock, err)
	}

	now := o.now().In(o.location)
	target := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, o.location)
	return target.Sub(now), nil
}

// sanitizeHistory normalizes stored turns for the model: empty turns are
// dropped and a missing role defaults to user.
func sanitizeHistory(history []store.Turn) []providers.Message {
	out := make([]providers.Message, 0, len(history))
	for _, turn := range history {
		if turn.Content == "" {
			continue
		}
		role := turn.Role
		if role == "" {
			role = "user"
		}
		out = append(out, providers.Message{Role: role, Content: turn.Content})
	}
	return out
}

func (o *Orchestrator) lockUser(uid string) func() {
	o.locksMu.Lock()
	l, ok := o.userLocks[uid]
	if !ok {
		l = &userLock{}
		o.userLocks[uid] = l
	}
	l.refs++
	o.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.userLocks, uid)
		}
		o.locksMu.Unlock()
	}
}
