package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"niabot/pkg/logger"
)

// ErrNonPositiveDelay marks a one-shot request whose computed fire time is
// not in the future. Callers drop these silently.
var ErrNonPositiveDelay = errors.New("scheduler: non-positive delay")

type TriggerKind string

const (
	KindOneShot   TriggerKind = "oneshot"
	KindRecurring TriggerKind = "recurring"
)

// Trigger is one armed unit of work. When it fires, Instruction is fed to
// the orchestrator on behalf of UserID.
type Trigger struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Kind        TriggerKind `json:"kind"`
	Tag         string      `json:"tag,omitempty"`
	FireAtMS    int64       `json:"fire_at_ms,omitempty"` // one-shot only
	CronExpr    string      `json:"cron_expr,omitempty"`  // recurring only
	Instruction string      `json:"instruction"`
	CreatedAtMS int64       `json:"created_at_ms"`

	handler FireFunc // optional override, recurring only, not persisted
}

type FireFunc func(t Trigger)

// Service owns all armed triggers: one-shot follow-ups backed by
// cancellable timers and persisted across restarts, and recurring cron
// triggers evaluated by a minute tick.
type Service struct {
	storePath string
	onFire    FireFunc
	gron      *gronx.Gronx
	loc       *time.Location
	now       func() time.Time

	mu        sync.Mutex
	triggers  map[string]Trigger
	timers    map[string]*time.Timer
	followUps map[string]string // user id -> pending one-shot trigger id
	running   bool
	stop      chan struct{}
}

// NewService creates a scheduler whose cron expressions are evaluated in
// loc (nil means UTC).
func NewService(storePath string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		storePath: storePath,
		gron:      gronx.New(),
		loc:       loc,
		now:       time.Now,
		triggers:  make(map[string]Trigger),
		timers:    make(map[string]*time.Timer),
		followUps: make(map[string]string),
	}
}

func (s *Service) SetOnFire(fn FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFire = fn
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start reloads persisted one-shot triggers and begins the recurring tick.
// A persisted trigger whose fire time passed while the process was down
// fires once immediately.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	if err := s.loadPersisted(); err != nil {
		logger.WarnCF("scheduler", "Could not reload persisted triggers", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.InfoCF("scheduler", "Scheduler started", map[string]interface{}{
		"armed": len(s.Armed()),
	})

	go s.tickLoop()
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// ArmOneShot arms a delayed follow-up for a user. A non-positive delay is
// rejected with ErrNonPositiveDelay. At most one follow-up is pending per
// user: arming replaces the previous one.
func (s *Service) ArmOneShot(userID string, delay time.Duration, instruction string) (Trigger, error) {
	if delay <= 0 {
		return Trigger{}, ErrNonPositiveDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.followUps[userID]; ok {
		s.removeLocked(prev)
		logger.InfoCF("scheduler", "Replaced pending follow-up", map[string]interface{}{
			"user_id":    userID,
			"trigger_id": prev,
		})
	}

	now := s.now()
	t := Trigger{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        KindOneShot,
		FireAtMS:    now.Add(delay).UnixMilli(),
		Instruction: instruction,
		CreatedAtMS: now.UnixMilli(),
	}
	s.triggers[t.ID] = t
	s.followUps[userID] = t.ID
	s.timers[t.ID] = time.AfterFunc(delay, func() { s.fireOneShot(t.ID) })
	s.persistLocked()

	logger.InfoCF("scheduler", "Armed one-shot trigger", map[string]interface{}{
		"user_id":    userID,
		"trigger_id": t.ID,
		"fire_in":    delay.String(),
	})
	return t, nil
}

// ArmRecurring arms a cron-driven trigger routed to the service fire
// handler.
func (s *Service) ArmRecurring(userID, tag, cronExpr, instruction string) (Trigger, error) {
	return s.ArmRecurringFunc(userID, tag, cronExpr, instruction, nil)
}

// ArmRecurringFunc arms a cron-driven trigger with an optional dedicated
// handler (used for internal jobs like the midnight rollover).
func (s *Service) ArmRecurringFunc(userID, tag, cronExpr, instruction string, handler FireFunc) (Trigger, error) {
	if !s.gron.IsValid(cronExpr) {
		return Trigger{}, fmt.Errorf("scheduler: invalid cron expression %q", cronExpr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := Trigger{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        KindRecurring,
		Tag:         tag,
		CronExpr:    cronExpr,
		Instruction: instruction,
		CreatedAtMS: s.now().UnixMilli(),
		handler:     handler,
	}
	s.triggers[t.ID] = t

	logger.InfoCF("scheduler", "Armed recurring trigger", map[string]interface{}{
		"user_id":    userID,
		"trigger_id": t.ID,
		"cron":       cronExpr,
		"tag":        tag,
	})
	return t, nil
}

// Cancel disarms a trigger by id.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return false
	}
	s.removeLocked(id)
	s.persistLocked()
	return true
}

// CancelByTag disarms every trigger carrying the tag and returns how many
// were removed.
func (s *Service) CancelByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.triggers {
		if t.Tag == tag {
			s.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

// PendingFollowUp returns the armed follow-up trigger for a user, if any.
func (s *Service) PendingFollowUp(userID string) (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.followUps[userID]
	if !ok {
		return Trigger{}, false
	}
	t, ok := s.triggers[id]
	return t, ok
}

// Armed lists all armed triggers.
func (s *Service) Armed() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t)
	}
	return out
}

// fireOneShot consumes a one-shot trigger: it is removed before the
// handler runs and is never re-armed.
func (s *Service) fireOneShot(id string) {
	s.mu.Lock()
	t, ok := s.triggers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.removeLocked(id)
	s.persistLocked()
	fire := s.onFire
	s.mu.Unlock()

	if fire == nil {
		return
	}
	logger.InfoCF("scheduler", "One-shot trigger fired", map[string]interface{}{
		"user_id":    t.UserID,
		"trigger_id": t.ID,
	})
	fire(t)
}

func (s *Service) removeLocked(id string) {
	t, ok := s.triggers[id]
	if !ok {
		return
	}
	delete(s.triggers, id)
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	if s.followUps[t.UserID] == id {
		delete(s.followUps, t.UserID)
	}
}

// tickLoop drives recurring triggers. Each wall-clock minute is evaluated
// exactly once against every armed cron expression.
func (s *Service) tickLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var lastMinute time.Time
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			minute := s.now().In(s.loc).Truncate(time.Minute)
			if minute.Equal(lastMinute) {
				continue
			}
			lastMinute = minute
			s.fireDue(minute)
		}
	}
}

func (s *Service) fireDue(ref time.Time) {
	s.mu.Lock()
	due := make([]Trigger, 0)
	for _, t := range s.triggers {
		if t.Kind != KindRecurring {
			continue
		}
		ok, err := s.gron.IsDue(t.CronExpr, ref)
		if err != nil {
			logger.WarnCF("scheduler", "Cron evaluation failed", map[string]interface{}{
				"trigger_id": t.ID,
				"cron":       t.CronExpr,
				"error":      err.Error(),
			})
			continue
		}
		if ok {
			due = append(due, t)
		}
	}
	fire := s.onFire
	s.mu.Unlock()

	for _, t := range due {
		logger.InfoCF("scheduler", "Recurring trigger fired", map[string]interface{}{
			"user_id":    t.UserID,
			"trigger_id": t.ID,
			"cron":       t.CronExpr,
		})
		if t.handler != nil {
			go t.handler(t)
			continue
		}
		if fire != nil {
			go fire(t)
		}
	}
}

type triggerFile struct {
	Triggers []Trigger `json:"triggers"`
}

// loadPersisted re-arms one-shot triggers written by a previous process.
// Already-expired triggers fire once immediately.
func (s *Service) loadPersisted() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file triggerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode trigger store: %w", err)
	}

	s.mu.Lock()
	now := s.now()
	expired := make([]string, 0)
	for _, t := range file.Triggers {
		if t.Kind != KindOneShot || t.ID == "" {
			continue
		}
		s.triggers[t.ID] = t
		s.followUps[t.UserID] = t.ID
		delay := time.UnixMilli(t.FireAtMS).Sub(now)
		if delay <= 0 {
			expired = append(expired, t.ID)
			continue
		}
		id := t.ID
		s.timers[id] = time.AfterFunc(delay, func() { s.fireOneShot(id) })
	}
	s.mu.Unlock()

	for _, id := range expired {
		logger.InfoCF("scheduler", "Firing trigger that expired while down", map[string]interface{}{
			"trigger_id": id,
		})
		go s.fireOneShot(id)
	}
	return nil
}

// persistLocked writes the one-shot triggers to disk. Recurring triggers
// are rebuilt at startup and never persisted.
func (s *Service) persistLocked() {
	if s.storePath == "" {
		return
	}

	file := triggerFile{Triggers: []Trigger{}}
	for _, t := range s.triggers {
		if t.Kind == KindOneShot {
			file.Triggers = append(file.Triggers, t)
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		logger.ErrorCF("scheduler", "Could not encode trigger store", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		logger.ErrorCF("scheduler", "Could not create trigger store dir", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := os.WriteFile(s.storePath, data, 0o644); err != nil {
		logger.ErrorCF("scheduler", "Could not write trigger store", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
