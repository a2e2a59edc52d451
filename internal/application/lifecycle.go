package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

var (
	errLifecycleClosed = errors.New("session lifecycle is shut down")
	errSessionClosed   = errors.New("session closed during handshake")
	errOpenAbandoned   = errors.New("open abandoned by caller")
)

const terminationBuffer = 64

type LifecycleOptions struct {
	BaseBackoff       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	MaxAttempts       int
	HandshakeTimeout  time.Duration
	// StableAfter is how long a session must stay connected before its
	// reconnect attempts reset. Zero resets on every successful handshake.
	StableAfter time.Duration
	// MinDwell decides the release outcome: connected longer than this is a
	// success, anything shorter a failure.
	MinDwell time.Duration
	// HealthInterval between handle pings; zero disables pinging.
	HealthInterval time.Duration
}

func DefaultLifecycleOptions() LifecycleOptions {
	return LifecycleOptions{
		BaseBackoff:       time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        30 * time.Second,
		MaxAttempts:       10,
		HandshakeTimeout:  30 * time.Second,
		StableAfter:       60 * time.Second,
		MinDwell:          2 * time.Minute,
		HealthInterval:    30 * time.Second,
	}
}

// Backoff returns min(MaxBackoff, BaseBackoff * BackoffMultiplier^attempts).
func (o LifecycleOptions) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(o.BaseBackoff) * math.Pow(o.BackoffMultiplier, float64(attempts))
	if o.MaxBackoff > 0 && (math.IsInf(delay, 1) || delay > float64(o.MaxBackoff)) {
		return o.MaxBackoff
	}
	return time.Duration(delay)
}

type managedSession struct {
	session     domain.Session
	account     domain.Resource[domain.AccountAttributes]
	route       domain.Resource[domain.RouteAttributes]
	fingerprint domain.Resource[domain.FingerprintAttributes]
	handle      ports.SessionHandle

	ctx    context.Context
	cancel context.CancelFunc
	force  chan string
	done   chan struct{}
}

// SessionLifecycle owns every session state machine. Each session is driven
// by one goroutine that lives from Open until the session is Terminated.
type SessionLifecycle struct {
	fleet   *Fleet
	driver  ports.SessionDriver
	secrets ports.SecretStore
	opts    LifecycleOptions
	logger  *zap.Logger

	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	sessions map[domain.SessionID]*managedSession
	closed   bool

	terminations      chan domain.SessionTermination
	handshakeFailures atomic.Int64
	poolExhaustions   atomic.Int64
	terminated        atomic.Int64
}

// NewSessionLifecycle wires the lifecycle to the fleet pools. secrets may be
// nil when accounts carry no credential reference.
func NewSessionLifecycle(fleet *Fleet, driver ports.SessionDriver, secrets ports.SecretStore, opts LifecycleOptions) *SessionLifecycle {
	fleet.withDefaults()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultLifecycleOptions().MaxAttempts
	}
	if opts.BackoffMultiplier < 1 {
		opts.BackoffMultiplier = 1
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultLifecycleOptions().HandshakeTimeout
	}

	root, cancel := context.WithCancel(context.Background())
	return &SessionLifecycle{
		fleet:        fleet,
		driver:       driver,
		secrets:      secrets,
		opts:         opts,
		logger:       fleet.Logger.Named("lifecycle"),
		root:         root,
		cancelRoot:   cancel,
		sessions:     make(map[domain.SessionID]*managedSession),
		terminations: make(chan domain.SessionTermination, terminationBuffer),
	}
}

func (l *SessionLifecycle) Options() LifecycleOptions {
	return l.opts
}

// Open checks out one resource of each kind for role and performs the first
// handshake. Pool exhaustion fails without creating a session. A failed
// handshake returns the session in Reconnecting together with an error
// wrapping ErrHandshakeFailed; retries continue in the background. When ctx
// ends before the handshake does, the facets go back unscored and the session
// is terminated.
func (l *SessionLifecycle) Open(ctx context.Context, role domain.Role) (domain.Session, error) {
	now := l.fleet.Clock.Now()
	sessionCtx, cancel := context.WithCancel(l.root)
	ms := &managedSession{
		session: domain.Session{
			ID:             domain.SessionID(uuid.NewString()),
			Role:           role,
			State:          domain.SessionConnecting,
			OpenedAt:       now,
			LastActivityAt: now,
		},
		ctx:    sessionCtx,
		cancel: cancel,
		force:  make(chan string, 1),
		done:   make(chan struct{}),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		return domain.Session{}, errLifecycleClosed
	}
	if err := l.acquireLocked(ms); err != nil {
		l.mu.Unlock()
		cancel()
		l.recordExhaustion(ms.session.ID, role, err)
		return domain.Session{}, fmt.Errorf("open %s session: %w", role, err)
	}
	l.sessions[ms.session.ID] = ms
	l.wg.Add(1)
	l.mu.Unlock()

	sessionTransitions.WithLabelValues(domain.SessionConnecting.String()).Inc()
	l.logger.Info("session opening",
		zap.String("session", string(ms.session.ID)),
		zap.String("role", string(role)),
		zap.String("account", string(ms.account.ID)),
		zap.String("route", string(ms.route.ID)),
		zap.String("fingerprint", string(ms.fingerprint.ID)),
	)

	// the caller's ctx bounds only this first handshake
	hctx, stop := context.WithCancelCause(sessionCtx)
	unhook := context.AfterFunc(ctx, func() { stop(context.Cause(ctx)) })
	err := l.handshake(hctx, ms)
	unhook()
	stop(nil)

	go l.drive(ms)

	session, _ := l.Get(ms.session.ID)
	if err != nil {
		return session, fmt.Errorf("open %s session: %w", role, err)
	}
	return session, nil
}

// acquireLocked checks out the missing facets. On any failure the facets
// acquired by this call are returned unscored.
func (l *SessionLifecycle) acquireLocked(ms *managedSession) error {
	role := ms.session.Role

	account, err := l.fleet.Accounts.AcquireForRole(role)
	if err != nil {
		return err
	}
	route, err := l.fleet.Routes.AcquireForRole(role)
	if err != nil {
		return errors.Join(err, l.fleet.Accounts.Return(account.ID))
	}
	fingerprint, err := l.fleet.Fingerprints.AcquireForRole(role)
	if err != nil {
		return errors.Join(err, l.fleet.Accounts.Return(account.ID), l.fleet.Routes.Return(route.ID))
	}

	ms.account, ms.route, ms.fingerprint = account, route, fingerprint
	ms.session.AssignedAccount = account.ID
	ms.session.AssignedRoute = route.ID
	ms.session.AssignedFingerprint = fingerprint.ID
	return nil
}

// releaseLocked scores and frees every held facet. Facets are cleared as
// they are released so a second call is a no-op.
func (l *SessionLifecycle) releaseLocked(ms *managedSession, outcome domain.Outcome) {
	release := func(kind domain.ResourceKind, id domain.ResourceID, fn func(domain.ResourceID, domain.Outcome) error) {
		if id == "" {
			return
		}
		if err := fn(id, outcome); err != nil {
			l.logger.Warn("release resource",
				zap.String("session", string(ms.session.ID)),
				zap.String("kind", string(kind)),
				zap.String("resource", string(id)),
				zap.Error(err),
			)
		}
	}

	release(domain.ResourceKindAccount, ms.session.AssignedAccount, l.fleet.Accounts.Release)
	release(domain.ResourceKindRoute, ms.session.AssignedRoute, l.fleet.Routes.Release)
	release(domain.ResourceKindFingerprint, ms.session.AssignedFingerprint, l.fleet.Fingerprints.Release)
	l.clearFacetsLocked(ms)
}

// returnLocked frees every held facet without scoring it.
func (l *SessionLifecycle) returnLocked(ms *managedSession) {
	free := func(kind domain.ResourceKind, id domain.ResourceID, fn func(domain.ResourceID) error) {
		if id == "" {
			return
		}
		if err := fn(id); err != nil {
			l.logger.Warn("return resource",
				zap.String("session", string(ms.session.ID)),
				zap.String("kind", string(kind)),
				zap.String("resource", string(id)),
				zap.Error(err),
			)
		}
	}

	free(domain.ResourceKindAccount, ms.session.AssignedAccount, l.fleet.Accounts.Return)
	free(domain.ResourceKindRoute, ms.session.AssignedRoute, l.fleet.Routes.Return)
	free(domain.ResourceKindFingerprint, ms.session.AssignedFingerprint, l.fleet.Fingerprints.Return)
	l.clearFacetsLocked(ms)
}

func (l *SessionLifecycle) clearFacetsLocked(ms *managedSession) {
	ms.session.AssignedAccount = ""
	ms.session.AssignedRoute = ""
	ms.session.AssignedFingerprint = ""
	ms.account = domain.Resource[domain.AccountAttributes]{}
	ms.route = domain.Resource[domain.RouteAttributes]{}
	ms.fingerprint = domain.Resource[domain.FingerprintAttributes]{}
}

// dwellOutcomeLocked is Success only for sessions that stayed connected
// longer than MinDwell.
func (l *SessionLifecycle) dwellOutcomeLocked(ms *managedSession) domain.Outcome {
	if ms.session.ActiveFor(l.fleet.Clock.Now()) > l.opts.MinDwell {
		return domain.OutcomeSuccess
	}
	return domain.OutcomeFailure
}

func (l *SessionLifecycle) setStateLocked(ms *managedSession, state domain.SessionState) {
	if ms.session.State == state {
		return
	}
	previous := ms.session.State
	ms.session.State = state
	sessionTransitions.WithLabelValues(state.String()).Inc()
	l.logger.Info("session state",
		zap.String("session", string(ms.session.ID)),
		zap.Stringer("from", previous),
		zap.Stringer("to", state),
		zap.Int("attempts", ms.session.ReconnectAttempts),
	)
}

func (l *SessionLifecycle) handshake(ctx context.Context, ms *managedSession) error {
	l.mu.Lock()
	req := ports.ConnectRequest{
		SessionID:   ms.session.ID,
		Role:        ms.session.Role,
		Account:     ms.account,
		Route:       ms.route,
		Fingerprint: ms.fingerprint,
	}
	l.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, l.opts.HandshakeTimeout)
	defer cancel()

	var handle ports.SessionHandle
	credential, err := l.credential(hctx, req.Account)
	if err == nil {
		req.Credential = credential
		handle, err = l.driver.Connect(hctx, req)
	}

	// ctx is only done when the caller or the session gave up; the handshake
	// timeout lives on hctx alone
	if err != nil && ctx.Err() != nil {
		return l.abandonHandshake(ms, context.Cause(ctx))
	}
	return l.completeHandshake(ms, handle, err)
}

// abandonHandshake returns the facets of a session whose handshake was cut
// short by its caller and terminates it. Nothing is scored.
func (l *SessionLifecycle) abandonHandshake(ms *managedSession, cause error) error {
	l.mu.Lock()
	if ms.session.State == domain.SessionTerminated {
		l.mu.Unlock()
		return errSessionClosed
	}
	l.returnLocked(ms)
	handle, note := l.terminateLocked(ms, domain.TerminationExplicitStop)
	l.mu.Unlock()

	l.finishTermination(handle, note)
	l.logger.Info("handshake abandoned", zap.String("session", string(ms.session.ID)), zap.Error(cause))
	return fmt.Errorf("%w: %w", errOpenAbandoned, cause)
}

func (l *SessionLifecycle) credential(ctx context.Context, account domain.Resource[domain.AccountAttributes]) (string, error) {
	if l.secrets == nil || account.Attributes.SecretRef == "" {
		return "", nil
	}
	credential, err := l.secrets.Get(ctx, account.Attributes.SecretRef)
	if err != nil {
		return "", fmt.Errorf("resolve credential for %s: %w", account.ID, err)
	}
	return credential, nil
}

func (l *SessionLifecycle) completeHandshake(ms *managedSession, handle ports.SessionHandle, connectErr error) error {
	now := l.fleet.Clock.Now()

	l.mu.Lock()
	if ms.session.State == domain.SessionTerminated {
		l.mu.Unlock()
		if handle != nil {
			_ = handle.Close()
		}
		return errSessionClosed
	}

	if connectErr != nil {
		l.handshakeFailures.Add(1)
		l.releaseLocked(ms, domain.OutcomeFailure)
		l.setStateLocked(ms, domain.SessionReconnecting)
		ms.session.LastActivityAt = now
		l.mu.Unlock()

		l.fleet.Ledger.Append(domain.ActivityEvent{
			SessionID: ms.session.ID,
			Kind:      domain.EventHandshakeFailed,
			Timestamp: now,
			Note:      connectErr.Error(),
		})
		l.logger.Warn("handshake failed", zap.String("session", string(ms.session.ID)), zap.Error(connectErr))
		return fmt.Errorf("%w: %w", domain.ErrHandshakeFailed, connectErr)
	}

	ms.handle = handle
	ms.session.ActiveSince = now
	ms.session.LastActivityAt = now
	l.setStateLocked(ms, domain.SessionActive)
	if l.opts.StableAfter <= 0 {
		ms.session.ReconnectAttempts = 0
	}
	select {
	case <-ms.force:
	default:
	}
	l.mu.Unlock()

	l.fleet.Ledger.Append(domain.ActivityEvent{
		SessionID: ms.session.ID,
		Kind:      domain.EventSpawned,
		Timestamp: now,
	})
	return nil
}

func (l *SessionLifecycle) drive(ms *managedSession) {
	defer l.wg.Done()
	defer close(ms.done)

	for {
		l.mu.Lock()
		state := ms.session.State
		handle := ms.handle
		l.mu.Unlock()

		switch state {
		case domain.SessionActive, domain.SessionDegraded:
			l.supervise(ms, handle)
		case domain.SessionReconnecting:
			if !l.waitBackoff(ms) {
				return
			}
			l.retry(ms)
		default:
			return
		}
	}
}

// waitBackoff terminates the session once attempts reach MaxAttempts;
// otherwise it sleeps for the next backoff delay. It returns false when the
// session must stop.
func (l *SessionLifecycle) waitBackoff(ms *managedSession) bool {
	l.mu.Lock()
	if ms.session.State == domain.SessionTerminated {
		l.mu.Unlock()
		return false
	}
	if ms.session.ReconnectAttempts >= l.opts.MaxAttempts {
		handle, note := l.terminateLocked(ms, domain.TerminationMaxAttempts)
		l.mu.Unlock()
		l.finishTermination(handle, note)
		return false
	}
	delay := l.opts.Backoff(ms.session.ReconnectAttempts)
	ms.session.ReconnectAttempts++
	attempts := ms.session.ReconnectAttempts
	l.mu.Unlock()

	reconnectDelay.Observe(delay.Seconds())
	l.logger.Info("reconnect scheduled",
		zap.String("session", string(ms.session.ID)),
		zap.Duration("delay", delay),
		zap.Int("attempt", attempts),
	)

	select {
	case <-ms.ctx.Done():
		return false
	case <-l.fleet.Clock.After(delay):
		return true
	}
}

func (l *SessionLifecycle) retry(ms *managedSession) {
	l.mu.Lock()
	if ms.session.State == domain.SessionTerminated {
		l.mu.Unlock()
		return
	}
	if err := l.acquireLocked(ms); err != nil {
		l.mu.Unlock()
		l.recordExhaustion(ms.session.ID, ms.session.Role, err)
		return
	}
	l.setStateLocked(ms, domain.SessionConnecting)
	l.mu.Unlock()

	// retries are logged by completeHandshake and rescheduled by drive
	_ = l.handshake(ms.ctx, ms)
}

func (l *SessionLifecycle) recordExhaustion(id domain.SessionID, role domain.Role, err error) {
	if !errors.Is(err, domain.ErrPoolExhausted) {
		l.logger.Error("acquire resources", zap.String("session", string(id)), zap.Error(err))
		return
	}
	l.poolExhaustions.Add(1)
	l.fleet.Ledger.Append(domain.ActivityEvent{
		SessionID: id,
		Kind:      domain.EventPoolExhausted,
		Timestamp: l.fleet.Clock.Now(),
		Note:      err.Error(),
	})
	l.logger.Warn("pool exhausted", zap.String("session", string(id)), zap.String("role", string(role)), zap.Error(err))
}

func (l *SessionLifecycle) supervise(ms *managedSession, handle ports.SessionHandle) {
	events := handle.Events()

	var health <-chan time.Time
	if l.opts.HealthInterval > 0 {
		health = l.fleet.Clock.After(l.opts.HealthInterval)
	}
	var stable <-chan time.Time
	if l.opts.StableAfter > 0 {
		stable = l.fleet.Clock.After(l.opts.StableAfter)
	}

	for {
		select {
		case <-ms.ctx.Done():
			return
		case reason := <-ms.force:
			l.lose(ms, handle, "forced reconnect: "+reason)
			return
		case event, ok := <-events:
			if !ok {
				l.lose(ms, handle, "event stream closed")
				return
			}
			if l.onEvent(ms, handle, event) {
				return
			}
		case <-health:
			pingCtx, cancel := context.WithTimeout(ms.ctx, l.opts.HandshakeTimeout)
			err := handle.Ping(pingCtx)
			cancel()
			if err != nil {
				l.lose(ms, handle, "health check failed: "+err.Error())
				return
			}
			health = l.fleet.Clock.After(l.opts.HealthInterval)
		case <-stable:
			stable = nil
			l.mu.Lock()
			if ms.handle == handle && (ms.session.State == domain.SessionActive || ms.session.State == domain.SessionDegraded) {
				ms.session.ReconnectAttempts = 0
			}
			l.mu.Unlock()
		}
	}
}

// onEvent records a driver event and applies its transition. It reports
// whether the connection was lost.
func (l *SessionLifecycle) onEvent(ms *managedSession, handle ports.SessionHandle, event ports.LifecycleEvent) bool {
	at := event.At
	if at.IsZero() {
		at = l.fleet.Clock.Now()
	}

	kind := domain.EventError
	switch event.Kind {
	case ports.LifecycleSpawned:
		kind = domain.EventSpawned
	case ports.LifecycleDisconnected:
		kind = domain.EventDisconnected
	}
	l.fleet.Ledger.Append(domain.ActivityEvent{
		SessionID: ms.session.ID,
		Kind:      kind,
		Timestamp: at,
		Note:      event.Detail,
	})

	l.mu.Lock()
	if ms.handle != handle || ms.session.State == domain.SessionTerminated {
		l.mu.Unlock()
		return true
	}
	ms.session.LastActivityAt = at

	switch event.Kind {
	case ports.LifecycleSpawned:
		if ms.session.State == domain.SessionDegraded {
			l.setStateLocked(ms, domain.SessionActive)
		}
		l.mu.Unlock()
		return false
	case ports.LifecycleError:
		if ms.session.State == domain.SessionActive {
			l.setStateLocked(ms, domain.SessionDegraded)
			l.mu.Unlock()
			return false
		}
		l.mu.Unlock()
		l.lose(ms, handle, "repeated error: "+event.Detail)
		return true
	default:
		l.mu.Unlock()
		l.lose(ms, handle, "disconnected: "+event.Detail)
		return true
	}
}

// lose moves a connected session to Reconnecting and releases its facets
// under the dwell rule.
func (l *SessionLifecycle) lose(ms *managedSession, handle ports.SessionHandle, reason string) {
	l.mu.Lock()
	if ms.handle != handle || ms.session.State == domain.SessionTerminated {
		l.mu.Unlock()
		return
	}
	outcome := l.dwellOutcomeLocked(ms)
	l.releaseLocked(ms, outcome)
	ms.handle = nil
	ms.session.ActiveSince = time.Time{}
	l.setStateLocked(ms, domain.SessionReconnecting)
	l.mu.Unlock()

	if err := handle.Close(); err != nil {
		l.logger.Debug("close lost handle", zap.String("session", string(ms.session.ID)), zap.Error(err))
	}
	l.logger.Warn("session lost",
		zap.String("session", string(ms.session.ID)),
		zap.String("reason", reason),
		zap.Stringer("outcome", outcome),
	)
}

// ForceReconnect asks a connected session to drop its connection and go
// through the backoff path. Sessions that are not connected are left alone,
// so repeated calls are harmless.
func (l *SessionLifecycle) ForceReconnect(id domain.SessionID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ms, ok := l.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if ms.session.State != domain.SessionActive && ms.session.State != domain.SessionDegraded {
		return nil
	}
	select {
	case ms.force <- reason:
	default:
	}
	return nil
}

// Close terminates a session from any state, including one whose handshake
// is still in flight, and waits for its goroutine to exit or ctx to end.
func (l *SessionLifecycle) Close(ctx context.Context, id domain.SessionID) error {
	l.mu.Lock()
	ms, ok := l.sessions[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if ms.session.State == domain.SessionTerminated {
		l.mu.Unlock()
		return nil
	}
	handle, note := l.terminateLocked(ms, domain.TerminationExplicitStop)
	l.mu.Unlock()

	l.finishTermination(handle, note)

	select {
	case <-ms.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close session %s: %w", id, ctx.Err())
	}
}

func (l *SessionLifecycle) terminateLocked(ms *managedSession, reason domain.TerminationReason) (ports.SessionHandle, domain.SessionTermination) {
	now := l.fleet.Clock.Now()
	outcome := l.dwellOutcomeLocked(ms)
	l.releaseLocked(ms, outcome)

	handle := ms.handle
	ms.handle = nil
	ms.session.ActiveSince = time.Time{}
	ms.session.LastActivityAt = now
	l.setStateLocked(ms, domain.SessionTerminated)
	ms.cancel()

	return handle, domain.SessionTermination{
		SessionID: ms.session.ID,
		Role:      ms.session.Role,
		Reason:    reason,
		Attempts:  ms.session.ReconnectAttempts,
		At:        now,
	}
}

func (l *SessionLifecycle) finishTermination(handle ports.SessionHandle, note domain.SessionTermination) {
	if handle != nil {
		if err := handle.Close(); err != nil {
			l.logger.Debug("close handle", zap.String("session", string(note.SessionID)), zap.Error(err))
		}
	}

	l.terminated.Add(1)
	sessionTerminations.WithLabelValues(string(note.Reason)).Inc()
	l.fleet.Ledger.Append(domain.ActivityEvent{
		SessionID: note.SessionID,
		Kind:      domain.EventTerminated,
		Timestamp: note.At,
		Note:      string(note.Reason),
	})
	l.logger.Info("session terminated",
		zap.String("session", string(note.SessionID)),
		zap.String("reason", string(note.Reason)),
		zap.Int("attempts", note.Attempts),
	)

	select {
	case l.terminations <- note:
	default:
		// nobody will Forget a session whose note was never delivered
		l.Forget(note.SessionID)
		l.logger.Warn("termination queue full, session forgotten", zap.String("session", string(note.SessionID)))
	}
}

// Terminations delivers one notification per terminated session.
func (l *SessionLifecycle) Terminations() <-chan domain.SessionTermination {
	return l.terminations
}

func (l *SessionLifecycle) Get(id domain.SessionID) (domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ms, ok := l.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return ms.session, nil
}

// Handle returns the live connection of a session, if it has one.
func (l *SessionLifecycle) Handle(id domain.SessionID) (ports.SessionHandle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ms, ok := l.sessions[id]
	if !ok || ms.handle == nil {
		return nil, false
	}
	return ms.handle, true
}

// List returns every session that is not Terminated, oldest first.
func (l *SessionLifecycle) List() []domain.Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions := make([]domain.Session, 0, len(l.sessions))
	for _, ms := range l.sessions {
		if ms.session.State.Live() {
			sessions = append(sessions, ms.session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].OpenedAt.Equal(sessions[j].OpenedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].OpenedAt.Before(sessions[j].OpenedAt)
	})
	return sessions
}

func (l *SessionLifecycle) Counts() map[domain.SessionState]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[domain.SessionState]int)
	for _, ms := range l.sessions {
		counts[ms.session.State]++
	}
	return counts
}

// Forget drops a Terminated session from the table.
func (l *SessionLifecycle) Forget(id domain.SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ms, ok := l.sessions[id]; ok && ms.session.State == domain.SessionTerminated {
		delete(l.sessions, id)
	}
}

func (l *SessionLifecycle) HandshakeFailures() int64 {
	return l.handshakeFailures.Load()
}

func (l *SessionLifecycle) PoolExhaustions() int64 {
	return l.poolExhaustions.Load()
}

func (l *SessionLifecycle) TerminatedTotal() int64 {
	return l.terminated.Load()
}

// Shutdown terminates every session with reason shutdown and waits for their
// goroutines. Open fails afterwards.
func (l *SessionLifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	type pending struct {
		handle ports.SessionHandle
		note   domain.SessionTermination
	}
	var terminated []pending
	for _, ms := range l.sessions {
		if ms.session.State == domain.SessionTerminated {
			continue
		}
		handle, note := l.terminateLocked(ms, domain.TerminationShutdown)
		terminated = append(terminated, pending{handle: handle, note: note})
	}
	l.mu.Unlock()

	for _, p := range terminated {
		l.finishTermination(p.handle, p.note)
	}
	l.cancelRoot()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown sessions: %w", ctx.Err())
	}
}
