package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

var ErrHandleClosed = errors.New("session handle closed")

type Options struct {
	// FailureRate is the probability that a handshake is rejected.
	FailureRate float64
	// DropRate is the probability, per DropCheck, that a live connection drops.
	DropRate  float64
	Latency   time.Duration
	DropCheck time.Duration
}

func DefaultOptions() Options {
	return Options{
		FailureRate: 0.1,
		DropRate:    0.01,
		Latency:     50 * time.Millisecond,
		DropCheck:   time.Second,
	}
}

// Driver stands in for the game client. Outcomes are drawn from the injected
// Random, so a seeded source replays the same fleet history.
type Driver struct {
	random ports.Random
	opts   Options
	logger *zap.Logger

	connects atomic.Int64
	rejected atomic.Int64
}

var _ ports.SessionDriver = (*Driver)(nil)

func NewDriver(random ports.Random, opts Options, logger *zap.Logger) *Driver {
	if random == nil {
		random = ports.NewSeededRandom(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DropCheck <= 0 {
		opts.DropCheck = DefaultOptions().DropCheck
	}
	return &Driver{random: random, opts: opts, logger: logger.Named("sim")}
}

func (d *Driver) Connect(ctx context.Context, req ports.ConnectRequest) (ports.SessionHandle, error) {
	d.connects.Add(1)

	if d.opts.Latency > 0 {
		timer := time.NewTimer(d.opts.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s: %w", req.Route.Attributes.Endpoint(), ctx.Err())
		case <-timer.C:
		}
	}

	if d.random.Float64() < d.opts.FailureRate {
		d.rejected.Add(1)
		d.logger.Debug("handshake rejected",
			zap.String("session", string(req.SessionID)),
			zap.String("account", string(req.Account.ID)),
			zap.String("route", string(req.Route.ID)),
		)
		return nil, fmt.Errorf("connect %s: server closed the connection during login", req.Route.Attributes.Endpoint())
	}

	h := &Handle{
		sessionID: req.SessionID,
		events:    make(chan ports.LifecycleEvent, 4),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	go h.run(d.random, d.opts)

	return h, nil
}

// Stats reports how many handshakes were attempted and rejected.
func (d *Driver) Stats() (connects, rejected int64) {
	return d.connects.Load(), d.rejected.Load()
}

// Handle is one simulated connection.
type Handle struct {
	sessionID domain.SessionID
	events    chan ports.LifecycleEvent
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped bool
	actions map[domain.EventKind]int
}

var _ ports.SessionHandle = (*Handle)(nil)

func (h *Handle) Events() <-chan ports.LifecycleEvent {
	return h.events
}

func (h *Handle) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.isDown() {
		return ErrHandleClosed
	}
	return nil
}

func (h *Handle) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.exited
	return nil
}

// Actions returns how many actions of each kind were executed on the handle.
func (h *Handle) Actions() map[domain.EventKind]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[domain.EventKind]int, len(h.actions))
	for kind, n := range h.actions {
		out[kind] = n
	}
	return out
}

func (h *Handle) isDown() bool {
	select {
	case <-h.done:
		return true
	default:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// run owns the events channel and closes it on exit.
func (h *Handle) run(random ports.Random, opts Options) {
	defer close(h.exited)
	defer close(h.events)

	if !h.emit(ports.LifecycleSpawned, "") {
		return
	}

	ticker := time.NewTicker(opts.DropCheck)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if random.Float64() >= opts.DropRate {
				continue
			}
			h.mu.Lock()
			h.dropped = true
			h.mu.Unlock()
			h.emit(ports.LifecycleDisconnected, "connection reset by peer")
			return
		}
	}
}

func (h *Handle) emit(kind ports.LifecycleEventKind, detail string) bool {
	select {
	case <-h.done:
		return false
	case h.events <- ports.LifecycleEvent{Kind: kind, Detail: detail, At: time.Now()}:
		return true
	}
}
