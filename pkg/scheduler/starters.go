package scheduler

import (
	"fmt"
	"math/rand"
	"time"

	"niabot/pkg/logger"
)

// StarterInstruction is fed to the orchestrator when a daily conversation
// starter fires.
const StarterInstruction = "YOU ARE INITIALIZING A NEW CONVERSATION. " +
	"START WITH A STARTER FITTING TO THE PREVIOUS CONVERSATIONS. " +
	"If nothing is good to say, do not respond. Do not annoy the user."

const starterTag = "daily-starter"

// DailyStarters arms a fresh random set of conversation-starter triggers
// for one user each day: once at startup for the remainder of the current
// day, and again at every midnight rollover.
type DailyStarters struct {
	svc         *Service
	userID      string
	windowStart int
	windowEnd   int
	minPerDay   int
	maxPerDay   int
	rng         *rand.Rand
}

func NewDailyStarters(svc *Service, userID string, windowStart, windowEnd, minPerDay, maxPerDay int) *DailyStarters {
	return &DailyStarters{
		svc:         svc,
		userID:      userID,
		windowStart: windowStart,
		windowEnd:   windowEnd,
		minPerDay:   minPerDay,
		maxPerDay:   maxPerDay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start arms today's starters immediately and the midnight rollover that
// replaces them every day after.
func (d *DailyStarters) Start() error {
	d.armDay()

	_, err := d.svc.ArmRecurringFunc(d.userID, "starter-rollover", "0 0 * * *", "", func(Trigger) {
		logger.InfoC("scheduler", "Midnight rollover, scheduling new starters for the day")
		d.armDay()
	})
	return err
}

// armDay replaces the current starter set with a new random draw: 1-4
// triggers (per configured bounds), each at an independently random hour
// within the active window and a random minute.
func (d *DailyStarters) armDay() {
	d.svc.CancelByTag(starterTag)

	count := d.minPerDay
	if d.maxPerDay > d.minPerDay {
		count += d.rng.Intn(d.maxPerDay - d.minPerDay + 1)
	}

	for i := 0; i < count; i++ {
		hour := d.windowStart + d.rng.Intn(d.windowEnd-d.windowStart)
		minute := d.rng.Intn(60)
		expr := fmt.Sprintf("%d %d * * *", minute, hour)

		if _, err := d.svc.ArmRecurring(d.userID, starterTag, expr, StarterInstruction); err != nil {
			logger.WarnCF("scheduler", "Could not arm starter", map[string]interface{}{
				"cron":  expr,
				"error": err.Error(),
			})
		}
	}

	logger.InfoCF("scheduler", "Armed daily starters", map[string]interface{}{
		"user_id": d.userID,
		"count":   count,
	})
}
