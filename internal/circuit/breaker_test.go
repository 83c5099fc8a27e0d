package circuit

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errUpstream = stderrors.New("upstream down")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, transitions *[]State) *Breaker {
	return New("backend", Config{
		Timeout:          10 * time.Second,
		Interval:         time.Minute,
		FailureThreshold: 3,
		Now:              clock.Now,
		OnStateChange: func(_ string, _ State, to State) {
			if transitions != nil {
				*transitions = append(*transitions, to)
			}
		},
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []State
	b := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, fail); err != errUpstream {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want CLOSED", b.State())
	}

	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want OPEN", b.State())
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("fn ran while the breaker was open")
	}
	if !errors.HasCode(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("err = %v, want CIRCUIT_OPEN", err)
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", b.State())
	}
	if got := b.Snapshot().Counts.ConsecutiveFailures; got != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []State
	b := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(10 * time.Second)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after timeout, want HALF_OPEN", b.State())
	}
	if err := b.Execute(ctx, succeed); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v after successful probe, want CLOSED", b.State())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)

	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Errorf("state = %v after failed probe, want OPEN", b.State())
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(10 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(ctx, succeed)
	if !errors.HasCode(err, errors.ErrCodeTooManyRequests) {
		t.Errorf("second probe err = %v, want CIRCUIT_TOO_MANY_REQUESTS", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first probe err = %v", err)
	}
}

func TestBreaker_IsSuccessful(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := New("backend", Config{
		FailureThreshold: 1,
		Now:              clock.Now,
		IsSuccessful: func(err error) bool {
			return err == nil || err.Error() == "client error"
		},
	})

	_ = b.Execute(context.Background(), func(context.Context) error {
		return stderrors.New("client error")
	})
	if b.State() != StateClosed {
		t.Errorf("state = %v, ignored errors must not trip the breaker", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	b.Reset()

	snap := b.Snapshot()
	if snap.State != StateClosed || snap.Counts != (Counts{}) {
		t.Errorf("snapshot after reset = %+v", snap)
	}
	if snap.Name != "backend" || b.Name() != "backend" {
		t.Errorf("name = %q", snap.Name)
	}
}
