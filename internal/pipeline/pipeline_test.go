package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launch-helpdesk/internal/models"
)

const (
	admin  = "4GzMLepDF5nKTWDM6XpB3CrBcFmwgazcVFAD3ZBNAjKT6hQJ"
	sender = "4FNQo2tK6PLeEhNEUuPePs8B8xKNwx15fX7tC2XnYpkC8W1j"
)

// syncPool runs jobs inline so tests can observe them without waiting.
type syncPool struct {
	mu    sync.Mutex
	names []string
	errs  []error
	panic bool
}

func (p *syncPool) Submit(name string, run func(ctx context.Context) error) string {
	if p.panic {
		panic("pool exploded")
	}
	err := run(context.Background())
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	p.errs = append(p.errs, err)
	return "job"
}

func (p *syncPool) Stop() {}

type handled struct{ cid, sender string }

type recordingHandler struct {
	mu    sync.Mutex
	calls []handled
}

func (h *recordingHandler) Handle(_ context.Context, cid, sender string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, handled{cid, sender})
	return nil
}

func ones() [32]byte {
	var p [32]byte
	copy(p[:], bytes.Repeat([]byte{0x01}, 32))
	return p
}

func TestOnNewLaunchAccepted(t *testing.T) {
	pool := &syncPool{}
	h := &recordingHandler{}
	p := New(admin, pool, h, nil)

	p.OnNewLaunch(models.LaunchEvent{Sender: sender, Robot: admin, Param: ones()})

	require.Len(t, h.calls, 1)
	assert.Equal(t, handled{"QmNQa1FSTXNHmrjjfgUW3Px3Vkke4oKiFWdigWkYSux2Pi", sender}, h.calls[0])
	assert.Equal(t, []string{"handle QmNQa1FSTXNHmrjjfgUW3Px3Vkke4oKiFWdigWkYSux2Pi"}, pool.names)
}

func TestOnNewLaunchIgnoresOtherTargets(t *testing.T) {
	pool := &syncPool{}
	h := &recordingHandler{}
	p := New(admin, pool, h, nil)

	for _, robot := range []string{"", sender, admin + " ", "4gzmlepdf5nktwdm6xpb3crbcfmwgazcvfad3zbnajkt6hqj"} {
		assert.NotPanics(t, func() {
			p.OnNewLaunch(models.LaunchEvent{Sender: sender, Robot: robot, Param: ones()})
		})
	}
	assert.Empty(t, h.calls)
	assert.Empty(t, pool.names)
}

func TestOnNewLaunchOneUnitPerEvent(t *testing.T) {
	pool := &syncPool{}
	h := &recordingHandler{}
	p := New(admin, pool, h, nil)

	for i := 0; i < 5; i++ {
		var param [32]byte
		param[0] = byte(i)
		p.OnNewLaunch(models.LaunchEvent{Sender: sender, Robot: admin, Param: param})
	}
	assert.Len(t, h.calls, 5)
}

func TestOnNewLaunchSwallowsPanics(t *testing.T) {
	p := New(admin, &syncPool{panic: true}, &recordingHandler{}, nil)
	assert.NotPanics(t, func() {
		p.OnNewLaunch(models.LaunchEvent{Sender: sender, Robot: admin, Param: ones()})
	})
}
