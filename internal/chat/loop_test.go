package chat

import (
	"context"
	"testing"
	"time"
)

func TestLoopController_SuspendsAtLimit(t *testing.T) {
	l := NewLoopController(3, 0)
	for i := 1; i <= 2; i++ {
		if pd := l.RoundCompleted(); pd != nil {
			t.Fatalf("suspended after %d rounds", i)
		}
	}
	pd := l.RoundCompleted()
	if pd == nil {
		t.Fatal("expected suspension after 3 rounds")
	}
	if l.State() != LoopSuspended || pd.Count() != 3 {
		t.Errorf("state = %v, count = %d", l.State(), pd.Count())
	}
}

func TestLoopController_ContinueAllowsExactlyN(t *testing.T) {
	l := NewLoopController(3, 0)
	for i := 0; i < 3; i++ {
		l.RoundCompleted()
	}
	if !l.Apply(Continue(2)) {
		t.Fatal("continue should resume")
	}
	if l.State() != LoopRunning {
		t.Fatalf("state = %v", l.State())
	}
	if pd := l.RoundCompleted(); pd != nil {
		t.Fatal("suspended after 1 extra round")
	}
	if pd := l.RoundCompleted(); pd == nil {
		t.Fatal("expected suspension after 2 extra rounds")
	}

	if !l.Apply(Continue(0)) {
		t.Fatal("continue should resume")
	}
	for i := 1; i < DefaultExtendBy; i++ {
		if pd := l.RoundCompleted(); pd != nil {
			t.Fatalf("suspended after %d default rounds", i)
		}
	}
	if pd := l.RoundCompleted(); pd == nil {
		t.Fatal("expected suspension after default extension")
	}
}

func TestLoopController_UnlimitedAndStop(t *testing.T) {
	l := NewLoopController(1, 0)
	if pd := l.RoundCompleted(); pd == nil {
		t.Fatal("expected suspension")
	}
	if !l.Apply(Unlimited()) {
		t.Fatal("unlimited should resume")
	}
	for i := 0; i < 50; i++ {
		if l.RoundCompleted() != nil {
			t.Fatal("unlimited loop suspended")
		}
	}

	l.Reset()
	if l.Count() != 0 || l.State() != LoopRunning {
		t.Fatalf("reset did not clear state: count=%d state=%v", l.Count(), l.State())
	}
	if pd := l.RoundCompleted(); pd == nil {
		t.Fatal("unlimited leaked across turns")
	}
	if l.Apply(Stop()) {
		t.Fatal("stop should not resume")
	}
	if l.State() != LoopSuspended {
		t.Errorf("state after stop = %v", l.State())
	}
}

func TestPendingDecision_ResolveOnce(t *testing.T) {
	pd := newPendingDecision(10)
	go func() {
		time.Sleep(5 * time.Millisecond)
		pd.Resolve(Unlimited())
	}()
	d, err := pd.Wait(context.Background())
	if err != nil || d.Kind != DecisionUnlimited {
		t.Fatalf("Wait() = %v, %v", d, err)
	}
	if pd.Resolve(Stop()) {
		t.Error("second Resolve should be ignored")
	}
	d, _ = pd.Wait(context.Background())
	if d.Kind != DecisionUnlimited {
		t.Errorf("decision changed to %v", d.Kind)
	}
}

func TestPendingDecision_WaitHonorsContext(t *testing.T) {
	pd := newPendingDecision(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pd.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
