package engine

import (
	"math"
	"testing"
	"time"

	"workwatch/internal/config"
	"workwatch/internal/model"
)

func present(labels ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		out[l] = struct{}{}
	}
	return out
}

func newTestAccumulator(threshold int, reset time.Duration) *Accumulator {
	return NewAccumulator([]string{"phone", "food"}, map[string]Policy{
		"phone": {Threshold: threshold, ResetInterval: reset},
		"food":  {Threshold: threshold, ResetInterval: reset},
	})
}

func TestConsecutiveThresholdFiresOnce(t *testing.T) {
	acc := newTestAccumulator(5, time.Minute)
	base := time.Now()
	for i := 0; i < 5; i++ {
		fired := acc.Observe(present("phone"), base.Add(time.Duration(i)*time.Millisecond))
		if i < 4 && len(fired) != 0 {
			t.Fatalf("fired early at %d", i)
		}
		if i == 4 && (len(fired) != 1 || fired[0] != "phone") {
			t.Fatalf("expected phone to fire, got %v", fired)
		}
	}
	c, _ := acc.Counter("phone")
	if c.Count != 0 || !c.Armed {
		t.Fatalf("expected count 0 and armed, got %+v", c)
	}
}

func TestGapResetsCount(t *testing.T) {
	acc := newTestAccumulator(5, time.Minute)
	base := time.Now()
	for i := 0; i < 4; i++ {
		acc.Observe(present("phone"), base)
	}
	acc.Observe(present(), base)
	c, _ := acc.Counter("phone")
	if c.Count != 0 {
		t.Fatalf("expected gap to reset count, got %d", c.Count)
	}
	for i := 0; i < 4; i++ {
		if fired := acc.Observe(present("phone"), base); len(fired) != 0 {
			t.Fatalf("evidence leaked across gap")
		}
	}
}

func TestWindowExpiryRestartsFromOne(t *testing.T) {
	acc := newTestAccumulator(10, time.Second)
	base := time.Now()
	for i := 0; i < 5; i++ {
		acc.Observe(present("phone"), base.Add(time.Duration(i)*100*time.Millisecond))
	}
	acc.Observe(present("phone"), base.Add(time.Second))
	c, _ := acc.Counter("phone")
	if c.Count != 0 {
		t.Fatalf("expected expired window to reset, got %d", c.Count)
	}
	acc.Observe(present("phone"), base.Add(1100*time.Millisecond))
	c, _ = acc.Counter("phone")
	if c.Count != 1 || !c.WindowStart.Equal(base.Add(1100*time.Millisecond)) {
		t.Fatalf("expected restart from 1, got %+v", c)
	}
}

func TestArmedSuppressesUntilClear(t *testing.T) {
	acc := newTestAccumulator(3, time.Hour)
	base := time.Now()
	total := 0
	for i := 0; i < 9; i++ {
		total += len(acc.Observe(present("food"), base))
	}
	if total != 1 {
		t.Fatalf("expected one trigger while armed, got %d", total)
	}
	acc.Observe(present(), base)
	for i := 0; i < 3; i++ {
		total += len(acc.Observe(present("food"), base))
	}
	if total != 2 {
		t.Fatalf("expected re-trigger after clear, got %d", total)
	}
}

func TestFiredInTrackedOrder(t *testing.T) {
	acc := newTestAccumulator(1, time.Minute)
	fired := acc.Observe(present("food", "phone"), time.Now())
	if len(fired) != 2 || fired[0] != "phone" || fired[1] != "food" {
		t.Fatalf("unexpected order %v", fired)
	}
}

func TestConfigureKeepsEvidence(t *testing.T) {
	acc := newTestAccumulator(10, time.Minute)
	now := time.Now()
	acc.Observe(present("phone", "food"), now)
	acc.Configure([]string{"phone", "drowsy"}, map[string]Policy{"phone": {Threshold: 2, ResetInterval: time.Minute}})
	if _, ok := acc.Counter("food"); ok {
		t.Fatalf("food should no longer be tracked")
	}
	if fired := acc.Observe(present("phone"), now); len(fired) != 1 {
		t.Fatalf("expected phone to fire with kept evidence, got %v", fired)
	}
	snap := acc.Snapshot("cam1")
	if len(snap) != 2 || snap[1].Condition != "drowsy" || snap[1].Threshold != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestDeriveConditions(t *testing.T) {
	d := config.DefaultConfig().Detection
	got := DeriveConditions([]model.Detection{
		{Label: "Cigaratte", Confidence: 0.8},
		{Label: "phone", Confidence: 0.2},
	}, d)
	if _, ok := got["cigarette"]; !ok {
		t.Fatalf("expected alias to map cigaratte, got %v", got)
	}
	if _, ok := got["phone"]; ok {
		t.Fatalf("detection below floor must be ignored")
	}
	if _, ok := got[model.ConditionPersonAbsent]; !ok {
		t.Fatalf("expected person_absent")
	}

	got = DeriveConditions([]model.Detection{
		{Label: "person", Confidence: 0.9},
		{Label: "person", Confidence: 0.45},
	}, d)
	if _, ok := got[model.ConditionMultiplePerson]; !ok {
		t.Fatalf("expected multiple_person at the floor, got %v", got)
	}
	if _, ok := got[model.ConditionPersonAbsent]; ok {
		t.Fatalf("person_absent must not be present")
	}

	got = DeriveConditions([]model.Detection{{Label: "person", Confidence: 0.44}}, d)
	if _, ok := got[model.ConditionPersonAbsent]; !ok {
		t.Fatalf("low confidence subject should count as absent")
	}
}

func TestDeriveIgnoresNaNConfidence(t *testing.T) {
	d := config.DefaultConfig().Detection
	got := DeriveConditions([]model.Detection{
		{Label: "phone", Confidence: math.NaN()},
		{Label: "person", Confidence: math.NaN()},
	}, d)
	if _, ok := got["phone"]; ok {
		t.Fatalf("NaN confidence must not clear the floor, got %v", got)
	}
	if _, ok := got[model.ConditionPersonAbsent]; !ok {
		t.Fatalf("NaN subject should count as absent, got %v", got)
	}
}
