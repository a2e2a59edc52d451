package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock only moves when told to. In immediate mode After fires at once
// and advances the clock by the requested duration.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	immediate bool
	waits     []time.Duration
	timers    []fakeTimer
}

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func newImmediateClock() *fakeClock {
	return &fakeClock{now: testEpoch, immediate: true}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	if c.immediate {
		c.now = c.now.Add(d)
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, fakeTimer{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.timers[:0]
	for _, timer := range c.timers {
		if timer.at.After(c.now) {
			remaining = append(remaining, timer)
			continue
		}
		timer.ch <- c.now
	}
	c.timers = remaining
}

// Pending counts timers that have not fired yet.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type fakeHandle struct {
	mu      sync.Mutex
	events  chan ports.LifecycleEvent
	closed  bool
	pingErr error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan ports.LifecycleEvent, 16)}
}

func (h *fakeHandle) Events() <-chan ports.LifecycleEvent {
	return h.events
}

func (h *fakeHandle) Ping(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pingErr
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

func (h *fakeHandle) Emit(kind ports.LifecycleEventKind, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.events <- ports.LifecycleEvent{Kind: kind, Detail: detail}
	}
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeDriver fails the first failNext connects, or all of them with failAll.
type fakeDriver struct {
	mu       sync.Mutex
	failAll  bool
	failNext int
	block    chan struct{}
	requests []ports.ConnectRequest
	handles  []*fakeHandle
}

func (d *fakeDriver) Connect(ctx context.Context, req ports.ConnectRequest) (ports.SessionHandle, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, errors.New("connection refused")
	}
	handle := newFakeHandle()
	d.handles = append(d.handles, handle)
	return handle, nil
}

func (d *fakeDriver) Requests() []ports.ConnectRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ports.ConnectRequest(nil), d.requests...)
}

func (d *fakeDriver) Handle(i int) *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[i]
}

type inMemoryResourceRepo[T any] struct {
	mu        sync.Mutex
	resources []domain.Resource[T]
	saves     int
	saveErr   error
}

func (r *inMemoryResourceRepo[T]) List(context.Context) ([]domain.Resource[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Resource[T](nil), r.resources...), nil
}

func (r *inMemoryResourceRepo[T]) SaveAll(_ context.Context, resources []domain.Resource[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.resources = append([]domain.Resource[T](nil), resources...)
	return nil
}

func (r *inMemoryResourceRepo[T]) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func numbered[T any](prefix string, attributes T) Generator[T] {
	return func(index int) (domain.ResourceID, T) {
		return domain.ResourceID(fmt.Sprintf("%s-%d", prefix, index)), attributes
	}
}

// newTestFleet builds three generated pools of the given size sharing clock.
func newTestFleet(t *testing.T, clock ports.Clock, size int) *Fleet {
	t.Helper()

	random := ports.NewSeededRandom(42)
	accounts, err := NewPoolBuilder[domain.AccountAttributes](domain.ResourceKindAccount, clock, random, nil).
		WithGenerator(numbered("account", domain.AccountAttributes{Handle: "steve"})).
		Build(size)
	require.NoError(t, err)
	routes, err := NewPoolBuilder[domain.RouteAttributes](domain.ResourceKindRoute, clock, random, nil).
		WithGenerator(numbered("route", domain.RouteAttributes{Address: "10.0.0.1", Port: 1080, Protocol: "socks5", Class: domain.RouteClassResidential, Country: "DE"})).
		Build(size)
	require.NoError(t, err)
	fingerprints, err := NewPoolBuilder[domain.FingerprintAttributes](domain.ResourceKindFingerprint, clock, random, nil).
		WithGenerator(numbered("fingerprint", domain.FingerprintAttributes{ViewDistance: 12, RenderDistance: 12, EntityDistance: 100})).
		Build(size)
	require.NoError(t, err)

	return &Fleet{
		Accounts:     accounts,
		Routes:       routes,
		Fingerprints: fingerprints,
		Ledger:       NewActivityLedger(nil, clock, nil, DefaultLedgerOptions()),
		Suspicion:    NewSuspicionTracker(),
		Clock:        clock,
		Random:       random,
	}
}

func mockAnyContext() interface{} {
	return mock.Anything
}

func mockAnything() interface{} {
	return mock.Anything
}

func eventually(t *testing.T, condition func() bool) {
	t.Helper()
	require.Eventually(t, condition, 2*time.Second, 5*time.Millisecond)
}
