package scheduler

import (
	"fmt"
	"testing"
	"time"
)

func TestDailyStarters_ArmsWithinBoundsAndWindow(t *testing.T) {
	svc := NewService("", time.UTC)

	d := NewDailyStarters(svc, "owner", 8, 22, 1, 4)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var starters, rollovers int
	for _, tr := range svc.Armed() {
		switch tr.Tag {
		case starterTag:
			starters++
			var minute, hour int
			if _, err := fmt.Sscanf(tr.CronExpr, "%d %d * * *", &minute, &hour); err != nil {
				t.Fatalf("unparseable starter cron %q: %v", tr.CronExpr, err)
			}
			if hour < 8 || hour >= 22 {
				t.Errorf("starter hour %d outside active window", hour)
			}
			if minute < 0 || minute > 59 {
				t.Errorf("starter minute %d out of range", minute)
			}
			if tr.Instruction != StarterInstruction {
				t.Errorf("starter instruction = %q", tr.Instruction)
			}
		case "starter-rollover":
			rollovers++
			if tr.CronExpr != "0 0 * * *" {
				t.Errorf("rollover cron = %q, want midnight", tr.CronExpr)
			}
		default:
			t.Errorf("unexpected trigger tag %q", tr.Tag)
		}
	}

	if starters < 1 || starters > 4 {
		t.Errorf("starters = %d, want within [1,4]", starters)
	}
	if rollovers != 1 {
		t.Errorf("rollovers = %d, want 1", rollovers)
	}
}

func TestDailyStarters_RolloverReplacesStarterSet(t *testing.T) {
	svc := NewService("", time.UTC)

	d := NewDailyStarters(svc, "owner", 8, 22, 3, 3)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	before := starterIDs(svc)
	if len(before) != 3 {
		t.Fatalf("starters = %d, want exactly 3", len(before))
	}

	// Re-arming (as the midnight rollover does) replaces the whole set.
	d.armDay()

	after := starterIDs(svc)
	if len(after) != 3 {
		t.Fatalf("starters after rollover = %d, want 3", len(after))
	}
	for id := range before {
		if _, ok := after[id]; ok {
			t.Errorf("starter %s survived the rollover", id)
		}
	}
}

func TestDailyStarters_FixedCountWhenBoundsEqual(t *testing.T) {
	svc := NewService("", time.UTC)

	d := NewDailyStarters(svc, "owner", 10, 11, 2, 2)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ids := starterIDs(svc)
	if len(ids) != 2 {
		t.Errorf("starters = %d, want exactly 2", len(ids))
	}
	for _, tr := range svc.Armed() {
		if tr.Tag != starterTag {
			continue
		}
		var minute, hour int
		fmt.Sscanf(tr.CronExpr, "%d %d * * *", &minute, &hour)
		if hour != 10 {
			t.Errorf("hour = %d, want 10 for a one-hour window", hour)
		}
	}
}

func starterIDs(svc *Service) map[string]bool {
	ids := map[string]bool{}
	for _, tr := range svc.Armed() {
		if tr.Tag == starterTag {
			ids[tr.ID] = true
		}
	}
	return ids
}
