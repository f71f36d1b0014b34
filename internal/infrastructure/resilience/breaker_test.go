package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote down")

// clock is a manually advanced time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(settings Settings) (*Breaker, *clock, *[]string) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	var transitions []string
	settings.OnStateChange = func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	b := New("test", settings)
	b.now = clk.Now
	return b, clk, &transitions
}

func fail() error    { return errRemote }
func succeed() error { return nil }

func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		calls     []func() error
		wantState State
	}{
		{"stays closed on successes", []func() error{succeed, succeed, succeed}, StateClosed},
		{"success resets the failure run", []func() error{fail, fail, succeed, fail, fail}, StateClosed},
		{"opens after threshold failures", []func() error{fail, fail, fail}, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _ := newTestBreaker(Settings{Threshold: 3, Cooldown: time.Minute})
			for _, call := range tt.calls {
				_ = b.Do(call)
			}
			assert.Equal(t, tt.wantState, b.State())
		})
	}
}

func TestBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	b, _, _ := newTestBreaker(Settings{Threshold: 1, Cooldown: time.Minute})
	require.ErrorIs(t, b.Do(fail), errRemote)

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	b, clk, transitions := newTestBreaker(Settings{Threshold: 1, Cooldown: time.Minute})
	_ = b.Do(fail)

	clk.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	// failed probe reopens
	assert.ErrorIs(t, b.Do(fail), errRemote)
	assert.Equal(t, StateOpen, b.State())

	clk.Advance(time.Minute)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}, *transitions)
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, clk, _ := newTestBreaker(Settings{Threshold: 1, Cooldown: time.Second})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()

	<-inProbe
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IsFailure(t *testing.T) {
	errMissing := errors.New("not found")
	b, _, _ := newTestBreaker(Settings{
		Threshold: 1,
		IsFailure: func(err error) bool { return err != nil && !errors.Is(err, errMissing) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errMissing }), errMissing)
	}
	assert.Equal(t, StateClosed, b.State())
}
