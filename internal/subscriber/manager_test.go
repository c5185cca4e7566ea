package subscriber

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launch-helpdesk/internal/chain"
	"launch-helpdesk/internal/models"
)

type fakeSub struct {
	events chan models.LaunchEvent
	alive  atomic.Bool
	once   sync.Once
}

func newFakeSub() *fakeSub {
	s := &fakeSub{events: make(chan models.LaunchEvent, 8)}
	s.alive.Store(true)
	return s
}

func (s *fakeSub) Events() <-chan models.LaunchEvent { return s.events }
func (s *fakeSub) IsAlive() bool                     { return s.alive.Load() }
func (s *fakeSub) Cancel() {
	s.once.Do(func() {
		s.alive.Store(false)
		close(s.events)
	})
}

type fakeClient struct {
	mu    sync.Mutex
	subs  []*fakeSub
	err   error
	opens chan *fakeSub
}

func (c *fakeClient) SubscribeLaunches(context.Context) (chain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		err := c.err
		c.err = nil
		c.opens <- nil
		return nil, err
	}
	s := newFakeSub()
	c.subs = append(c.subs, s)
	c.opens <- s
	return s, nil
}

type collector struct {
	got chan models.LaunchEvent
}

func (c *collector) OnNewLaunch(ev models.LaunchEvent) { c.got <- ev }

func next[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestRunForwardsEventsAcrossResubscribe(t *testing.T) {
	fc := clockwork.NewFakeClock()
	client := &fakeClient{opens: make(chan *fakeSub, 4)}
	events := &collector{got: make(chan models.LaunchEvent, 4)}
	m := NewManager(client, events, fc, 15*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	first := next(t, client.opens)
	first.events <- models.LaunchEvent{Sender: "a", Robot: "admin"}
	assert.Equal(t, "a", next(t, events.got).Sender)

	// Subscription dies on its own; the watchdog notices on the next tick.
	first.alive.Store(false)
	block, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	require.NoError(t, fc.BlockUntilContext(block, 1))
	fc.Advance(15 * time.Second)

	second := next(t, client.opens)
	require.NotNil(t, second)
	second.events <- models.LaunchEvent{Sender: "b", Robot: "admin"}
	assert.Equal(t, "b", next(t, events.got).Sender)

	cancel()
	next(t, done)
	assert.False(t, second.IsAlive())
}

func TestRunRetriesFailedInitialSubscribe(t *testing.T) {
	fc := clockwork.NewFakeClock()
	client := &fakeClient{opens: make(chan *fakeSub, 4), err: errors.New("dial tcp: connection refused")}
	m := NewManager(client, &collector{got: make(chan models.LaunchEvent, 1)}, fc, 15*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	assert.Nil(t, next(t, client.opens))
	block, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	require.NoError(t, fc.BlockUntilContext(block, 1))
	fc.Advance(15 * time.Second)

	assert.NotNil(t, next(t, client.opens))
}
