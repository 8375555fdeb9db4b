package timer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lotline/lotline/internal/store"
)

// State is the lifecycle state of one viewer's countdown session.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateExpired State = "EXPIRED"
)

// TimerStore defines what the engine needs from the shared store.
type TimerStore interface {
	ReadTimerState(ctx context.Context, roomID uuid.UUID) (store.TimerState, error)
	WriteTimerValue(ctx context.Context, roomID uuid.UUID, seconds int) error
}

// Config holds the engine's tunables. Tolerance and cadence are empirically
// chosen, not load-bearing, so they stay configurable.
type Config struct {
	TickInterval      time.Duration // local countdown granularity
	ReconcileInterval time.Duration // how often local state is checked against the store
	DriftTolerance    int           // seconds of divergence absorbed without correction
	PersistEvery      int           // persist every Nth second of remaining time
	WriteTimeout      time.Duration // budget for one fire-and-forget store write
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second,
		ReconcileInterval: 10 * time.Second,
		DriftTolerance:    2,
		PersistEvery:      5,
		WriteTimeout:      3 * time.Second,
	}
}

// Engine runs one viewer's local countdown for a room. It owns the countdown
// once started and treats the store as a slow, eventually-consistent
// checkpoint: every tick notifies the viewer, writes back at a bounded rate,
// and a periodic reconciliation pulls the local value toward the store's
// whenever they drift apart. One Engine per viewer session; engines never
// share memory, only the store row.
type Engine struct {
	roomID    uuid.UUID
	store     TimerStore
	cfg       Config
	clock     clockwork.Clock
	onTick    func(seconds int)
	onTimeout func()

	mu         sync.Mutex
	state      State
	remaining  int
	lastSyncAt time.Time
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates an engine for one viewer session. Both callbacks are
// required; onTick fires on every local tick and on every correction,
// onTimeout fires exactly once per transition into StateExpired.
func NewEngine(roomID uuid.UUID, ts TimerStore, cfg Config, onTick func(int), onTimeout func()) *Engine {
	return &Engine{
		roomID:    roomID,
		store:     ts,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		onTick:    onTick,
		onTimeout: onTimeout,
		state:     StateIdle,
	}
}

// Start launches the session loop: a 1s tick ticker and a slower
// reconciliation ticker multiplexed in a single goroutine, so tick
// notifications within one viewer are strictly ordered.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go e.run(ctx, done)

	log.Debug().
		Str("room_id", e.roomID.String()).
		Dur("tick_interval", e.cfg.TickInterval).
		Dur("reconcile_interval", e.cfg.ReconcileInterval).
		Msg("timer engine started")
}

// Stop cancels the session. The generation bump invalidates any in-flight
// fire-and-forget write so a late write cannot resurrect a dead session.
// Pending store writes are not awaited.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.generation++
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	log.Debug().Str("room_id", e.roomID.String()).Msg("timer engine stopped")
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	tick := e.clock.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()
	reconcile := e.clock.NewTicker(e.cfg.ReconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			e.tick()
		case <-reconcile.Chan():
			e.reconcile(ctx)
		}
	}
}

// tick runs one second of local countdown. A failed store write is logged
// and swallowed; the local countdown never stalls or rewinds because of it.
func (e *Engine) tick() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	if e.remaining > 0 {
		e.remaining--
	}
	v := e.remaining
	expired := v == 0
	if expired {
		e.state = StateExpired
	}
	gen := e.generation
	e.mu.Unlock()

	e.onTick(v)

	if (e.cfg.PersistEvery > 0 && v%e.cfg.PersistEvery == 0 && v > 0) || v == 0 {
		e.persistAsync(v, gen)
	}

	if expired {
		log.Info().Str("room_id", e.roomID.String()).Msg("local countdown expired")
		e.onTimeout()
	}
}

// persistAsync writes the countdown value back without blocking the tick
// loop. The generation check discards writes that outlive their session.
func (e *Engine) persistAsync(v int, gen uint64) {
	go func() {
		e.mu.Lock()
		stale := gen != e.generation
		e.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
		defer cancel()
		if err := e.store.WriteTimerValue(ctx, e.roomID, v); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", e.roomID.String()).
				Int("value", v).
				Msg("timer write failed; local countdown continues")
		}
	}()
}

// reconcile pulls the local countdown toward the store's value when they
// diverge past the tolerance. Small gaps are normal jitter and left alone so
// viewers don't see the clock jump.
func (e *Engine) reconcile(ctx context.Context) {
	e.mu.Lock()
	running := e.state == StateRunning
	e.mu.Unlock()
	if !running {
		return
	}

	if err := e.syncOnce(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", e.roomID.String()).
			Msg("reconciliation read failed")
	}
}

// ForceSync reconciles against the store immediately, bypassing the
// reconciliation period. Used when the caller suspects a missed update.
func (e *Engine) ForceSync(ctx context.Context) error {
	return e.syncOnce(ctx)
}

func (e *Engine) syncOnce(ctx context.Context) error {
	st, err := e.store.ReadTimerState(ctx, e.roomID)
	if err != nil {
		return err
	}

	corrected := -1
	e.mu.Lock()
	if e.state == StateRunning {
		if drift := abs(st.TimeRemaining - e.remaining); drift > e.cfg.DriftTolerance {
			log.Info().
				Str("room_id", e.roomID.String()).
				Int("local", e.remaining).
				Int("store", st.TimeRemaining).
				Int("drift", drift).
				Msg("drift beyond tolerance; correcting local countdown")
			e.remaining = st.TimeRemaining
			corrected = st.TimeRemaining
		}
	}
	e.lastSyncAt = e.clock.Now()
	e.mu.Unlock()

	if corrected >= 0 {
		e.onTick(corrected)
	}
	return nil
}

// Apply handles an externally supplied timer state, e.g. from a store change
// notification or an upstream control action. The local countdown is
// overwritten immediately and takes priority over in-flight ticks.
//
// Transitions: any state goes Idle when the room deactivates; a paused flag
// freezes a running session; re-entering Running from Expired requires the
// external state to have reset the remaining time above zero.
func (e *Engine) Apply(st store.TimerState) {
	e.mu.Lock()
	prev := e.state
	changed := st.TimeRemaining != e.remaining
	e.remaining = st.TimeRemaining

	switch {
	case !st.IsActive:
		e.state = StateIdle
	case st.IsPaused:
		e.state = StatePaused
	case st.TimeRemaining > 0:
		e.state = StateRunning
	default:
		e.state = StateExpired
	}
	next := e.state
	v := e.remaining
	e.mu.Unlock()

	if changed || prev != next {
		e.onTick(v)
	}
	if next == StateExpired && prev != StateExpired {
		e.onTimeout()
	}

	log.Debug().
		Str("room_id", e.roomID.String()).
		Str("from", string(prev)).
		Str("to", string(next)).
		Int("time_remaining", v).
		Msg("applied external timer state")
}

// TimeRemaining returns the local countdown value.
func (e *Engine) TimeRemaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// IsRunning reports whether the local countdown is actively ticking.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateRunning
}

// State returns the session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastSyncAt returns when the last successful reconciliation happened,
// whether or not it corrected anything.
func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
