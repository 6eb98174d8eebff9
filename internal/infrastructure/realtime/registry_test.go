package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-leadchat/internal/infrastructure/metrics"
)

type fakeHandle struct {
	mu      sync.Mutex
	name    string
	sent    [][]byte
	closed  bool
	code    int
	sendErr error
}

func (f *fakeHandle) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeHandle) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed, f.code = true, code
	}
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistrySupersession(t *testing.T) {
	r := NewRegistry()
	h1 := &fakeHandle{name: "h1"}
	h2 := &fakeHandle{name: "h2"}

	assert.Nil(t, r.Register("U", h1))
	assert.True(t, r.IsOnline("U"))

	prev := r.Register("U", h2)
	assert.Same(t, h1, prev)
	assert.True(t, h1.isClosed())
	assert.Equal(t, CloseSessionReplaced, h1.code)
	assert.False(t, h2.isClosed())

	got, ok := r.Lookup("U")
	require.True(t, ok)
	assert.Same(t, h2, got)

	// stale disconnect of the superseded handle is a no-op
	assert.False(t, r.Unregister("U", h1))
	got, ok = r.Lookup("U")
	require.True(t, ok)
	assert.Same(t, h2, got)

	assert.True(t, r.Unregister("U", h2))
	assert.False(t, r.IsOnline("U"))
	_, ok = r.Lookup("U")
	assert.False(t, ok)
}

func TestRegistryRegisterSameHandleTwice(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandle{}
	r.Register("U", h)
	assert.Nil(t, r.Register("U", h))
	assert.False(t, h.isClosed())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	const users = 20
	const rounds = 50

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				h := &fakeHandle{}
				r.Register(userID, h)
				if i%2 == 0 {
					r.Unregister(userID, h)
				}
			}
		}()
	}
	wg.Wait()

	// the last round (odd index) leaves every user registered with an open handle
	assert.Equal(t, users, r.Len())
	for u := 0; u < users; u++ {
		h, ok := r.Lookup(fmt.Sprintf("user-%d", u))
		require.True(t, ok)
		assert.False(t, h.(*fakeHandle).isClosed())
	}

	r.Close()
	assert.Equal(t, 0, r.Len())
}

func TestRegistryUnregisterRace(t *testing.T) {
	// an old connection's cleanup racing a new registration must never remove the new handle
	for i := 0; i < 200; i++ {
		r := NewRegistry()
		old := &fakeHandle{}
		r.Register("U", old)
		fresh := &fakeHandle{}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); r.Register("U", fresh) }()
		go func() { defer wg.Done(); r.Unregister("U", old) }()
		wg.Wait()

		got, ok := r.Lookup("U")
		require.True(t, ok)
		assert.Same(t, fresh, got)
	}
}

type fakeBridge struct {
	mu        sync.Mutex
	published map[string][][]byte
	err       error
}

func (b *fakeBridge) Publish(_ context.Context, userID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[userID] = append(b.published[userID], payload)
	return nil
}

func TestDispatcherDeliver(t *testing.T) {
	r := NewRegistry()
	local := &fakeHandle{}
	r.Register("local", local)

	d := NewDispatcher(r, nil, zap.NewNop())
	assert.Equal(t, metrics.DeliveryLive, d.Deliver(context.Background(), "local", []byte("a")))
	assert.Equal(t, metrics.DeliveryDeferred, d.Deliver(context.Background(), "offline", []byte("b")))
	assert.Len(t, local.sent, 1)

	bridge := &fakeBridge{}
	d = NewDispatcher(r, bridge, zap.NewNop())
	assert.Equal(t, metrics.DeliveryRemote, d.Deliver(context.Background(), "elsewhere", []byte("c")))
	assert.Len(t, bridge.published["elsewhere"], 1)

	bridge.err = errors.New("redis down")
	assert.Equal(t, metrics.DeliveryDeferred, d.Deliver(context.Background(), "elsewhere", []byte("d")))
}
