package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lotline/lotline/internal/store"
)

type fakeTimerStore struct {
	mu       sync.Mutex
	state    store.TimerState
	readErr  error
	writeErr error
	reads    int
	writes   []int
	writeCh  chan int
}

func newFakeTimerStore(state store.TimerState) *fakeTimerStore {
	return &fakeTimerStore{state: state, writeCh: make(chan int, 32)}
}

func (f *fakeTimerStore) ReadTimerState(ctx context.Context, roomID uuid.UUID) (store.TimerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return store.TimerState{}, f.readErr
	}
	return f.state, nil
}

func (f *fakeTimerStore) WriteTimerValue(ctx context.Context, roomID uuid.UUID, seconds int) error {
	f.mu.Lock()
	f.writes = append(f.writes, seconds)
	err := f.writeErr
	f.mu.Unlock()
	f.writeCh <- seconds
	return err
}

func (f *fakeTimerStore) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// testEngine builds a non-started engine with recorded callbacks. Tick and
// reconcile are driven directly so the tests stay deterministic.
func testEngine(t *testing.T, fs *fakeTimerStore, cfg Config) (*Engine, *[]int, *int) {
	t.Helper()
	ticks := []int{}
	timeouts := 0
	e := NewEngine(uuid.New(), fs, cfg,
		func(v int) { ticks = append(ticks, v) },
		func() { timeouts++ },
	)
	return e, &ticks, &timeouts
}

func mustWrite(t *testing.T, fs *fakeTimerStore, want int) {
	t.Helper()
	select {
	case got := <-fs.writeCh:
		if got != want {
			t.Fatalf("persisted %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for persisted value %d", want)
	}
}

func mustNoWrite(t *testing.T, fs *fakeTimerStore) {
	t.Helper()
	select {
	case got := <-fs.writeCh:
		t.Fatalf("unexpected persisted value %d", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTickCountsDownAndNeverGoesNegative(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	e, ticks, _ := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 3, IsActive: true})
	*ticks = nil

	for i := 0; i < 6; i++ {
		e.tick()
	}

	want := []int{2, 1, 0}
	if len(*ticks) != len(want) {
		t.Fatalf("got %d tick notifications, want %d: %v", len(*ticks), len(want), *ticks)
	}
	prev := 3
	for i, v := range *ticks {
		if v != want[i] {
			t.Fatalf("tick %d = %d, want %d", i, v, want[i])
		}
		if v < 0 || v > prev {
			t.Fatalf("tick sequence not non-increasing and non-negative: %v", *ticks)
		}
		prev = v
	}
	if e.TimeRemaining() != 0 {
		t.Fatalf("time remaining = %d, want 0", e.TimeRemaining())
	}
}

func TestTickIgnoredUnlessRunning(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	e, ticks, _ := testEngine(t, fs, DefaultConfig())

	// Idle: nothing happens.
	e.tick()
	if len(*ticks) != 0 {
		t.Fatalf("idle engine ticked: %v", *ticks)
	}

	// Paused: frozen.
	e.Apply(store.TimerState{TimeRemaining: 10, IsActive: true, IsPaused: true})
	*ticks = nil
	e.tick()
	if len(*ticks) != 0 || e.TimeRemaining() != 10 {
		t.Fatalf("paused engine ticked: ticks=%v remaining=%d", *ticks, e.TimeRemaining())
	}
}

func TestPersistenceCadence(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	e, _, _ := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 20, IsActive: true})

	for i := 0; i < 20; i++ {
		e.tick()
	}

	for _, want := range []int{15, 10, 5, 0} {
		mustWrite(t, fs, want)
	}
	mustNoWrite(t, fs)
}

func TestTimeoutFiresExactlyOnceWithTerminalWrite(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	e, ticks, timeouts := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 1, IsActive: true})
	*ticks = nil

	e.tick()

	if len(*ticks) != 1 || (*ticks)[0] != 0 {
		t.Fatalf("tick notifications = %v, want [0]", *ticks)
	}
	if *timeouts != 1 {
		t.Fatalf("timeout notifications = %d, want 1", *timeouts)
	}
	if e.State() != StateExpired {
		t.Fatalf("state = %s, want %s", e.State(), StateExpired)
	}
	mustWrite(t, fs, 0)

	// Further ticks must not re-fire the timeout.
	e.tick()
	e.tick()
	if *timeouts != 1 {
		t.Fatalf("timeout re-fired: %d", *timeouts)
	}
}

func TestFailedWriteDoesNotStallCountdown(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	fs.writeErr = errors.New("connection refused")
	e, ticks, _ := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 6, IsActive: true})
	*ticks = nil

	e.tick() // 5, write fails
	mustWrite(t, fs, 5)
	e.tick() // 4

	if e.TimeRemaining() != 4 {
		t.Fatalf("countdown stalled at %d after failed write", e.TimeRemaining())
	}
	if len(*ticks) != 2 {
		t.Fatalf("tick notifications = %v, want two", *ticks)
	}
}

func TestDriftCorrectionBeyondTolerance(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{TimeRemaining: 46, IsActive: true})
	e, ticks, _ := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 50, IsActive: true})
	*ticks = nil

	if err := e.ForceSync(context.Background()); err != nil {
		t.Fatalf("force sync: %v", err)
	}

	if e.TimeRemaining() != 46 {
		t.Fatalf("time remaining = %d, want 46", e.TimeRemaining())
	}
	if len(*ticks) != 1 || (*ticks)[0] != 46 {
		t.Fatalf("correction notifications = %v, want [46]", *ticks)
	}
}

func TestDriftWithinToleranceLeftAlone(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{TimeRemaining: 49, IsActive: true})
	e, ticks, _ := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 50, IsActive: true})
	*ticks = nil

	if err := e.ForceSync(context.Background()); err != nil {
		t.Fatalf("force sync: %v", err)
	}

	if e.TimeRemaining() != 50 {
		t.Fatalf("time remaining = %d, want 50 untouched", e.TimeRemaining())
	}
	if len(*ticks) != 0 {
		t.Fatalf("unexpected correction notifications: %v", *ticks)
	}
	if e.LastSyncAt().IsZero() {
		t.Fatal("last sync timestamp not recorded without correction")
	}
}

func TestForceSyncIdempotent(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{TimeRemaining: 46, IsActive: true})
	e, ticks, _ := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 50, IsActive: true})
	*ticks = nil

	if err := e.ForceSync(context.Background()); err != nil {
		t.Fatalf("first force sync: %v", err)
	}
	if err := e.ForceSync(context.Background()); err != nil {
		t.Fatalf("second force sync: %v", err)
	}

	if len(*ticks) != 1 {
		t.Fatalf("second sync without store changes corrected again: %v", *ticks)
	}
}

func TestReconcileSkippedUnlessRunning(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{TimeRemaining: 30, IsActive: true})
	e, _, _ := testEngine(t, fs, DefaultConfig())

	e.reconcile(context.Background())
	if fs.readCount() != 0 {
		t.Fatalf("idle engine read the store %d times", fs.readCount())
	}

	e.Apply(store.TimerState{TimeRemaining: 30, IsActive: true, IsPaused: true})
	e.reconcile(context.Background())
	if fs.readCount() != 0 {
		t.Fatalf("paused engine read the store %d times", fs.readCount())
	}
}

func TestApplyStateTransitions(t *testing.T) {
	tests := []struct {
		name      string
		sequence  []store.TimerState
		wantState State
	}{
		{
			name:      "idle-to-running",
			sequence:  []store.TimerState{{TimeRemaining: 30, IsActive: true}},
			wantState: StateRunning,
		},
		{
			name: "running-to-paused",
			sequence: []store.TimerState{
				{TimeRemaining: 30, IsActive: true},
				{TimeRemaining: 30, IsActive: true, IsPaused: true},
			},
			wantState: StatePaused,
		},
		{
			name: "paused-to-running",
			sequence: []store.TimerState{
				{TimeRemaining: 30, IsActive: true},
				{TimeRemaining: 30, IsActive: true, IsPaused: true},
				{TimeRemaining: 28, IsActive: true},
			},
			wantState: StateRunning,
		},
		{
			name: "any-to-idle-on-deactivate",
			sequence: []store.TimerState{
				{TimeRemaining: 30, IsActive: true},
				{TimeRemaining: 30, IsActive: false},
			},
			wantState: StateIdle,
		},
		{
			name: "expired-reentry-requires-reset",
			sequence: []store.TimerState{
				{TimeRemaining: 0, IsActive: true},
				{TimeRemaining: 60, IsActive: true},
			},
			wantState: StateRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeTimerStore(store.TimerState{})
			e, _, _ := testEngine(t, fs, DefaultConfig())
			for _, st := range tt.sequence {
				e.Apply(st)
			}
			if e.State() != tt.wantState {
				t.Fatalf("state = %s, want %s", e.State(), tt.wantState)
			}
		})
	}
}

func TestApplyOverridesLocalCountdownImmediately(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	e, ticks, _ := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 30, IsActive: true})
	*ticks = nil

	e.Apply(store.TimerState{TimeRemaining: 90, IsActive: true})

	if e.TimeRemaining() != 90 {
		t.Fatalf("time remaining = %d, want 90", e.TimeRemaining())
	}
	if len(*ticks) != 1 || (*ticks)[0] != 90 {
		t.Fatalf("override notifications = %v, want [90]", *ticks)
	}
}

func TestApplyToZeroFiresTimeoutOnce(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	e, _, timeouts := testEngine(t, fs, DefaultConfig())
	e.Apply(store.TimerState{TimeRemaining: 5, IsActive: true})

	e.Apply(store.TimerState{TimeRemaining: 0, IsActive: true})
	e.Apply(store.TimerState{TimeRemaining: 0, IsActive: true})

	if *timeouts != 1 {
		t.Fatalf("timeout notifications = %d, want 1", *timeouts)
	}
}

func TestStoppedSessionDiscardsLateWrites(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{})
	e, _, _ := testEngine(t, fs, DefaultConfig())

	e.mu.Lock()
	e.generation++
	e.mu.Unlock()
	e.persistAsync(7, 0) // write scheduled before the bump

	mustNoWrite(t, fs)
}

func TestRunLoopTicksOnFakeClock(t *testing.T) {
	fs := newFakeTimerStore(store.TimerState{TimeRemaining: 10, IsActive: true})
	fc := clockwork.NewFakeClock()
	ticks := make(chan int, 16)
	e := NewEngine(uuid.New(), fs, DefaultConfig(),
		func(v int) { ticks <- v },
		func() {},
	)
	e.clock = fc

	e.Apply(store.TimerState{TimeRemaining: 10, IsActive: true})
	if got := <-ticks; got != 10 {
		t.Fatalf("seed notification = %d, want 10", got)
	}

	e.Start(context.Background())
	defer e.Stop()

	// Both the tick and reconcile tickers must be armed before advancing.
	fc.BlockUntil(2)
	fc.Advance(time.Second)

	select {
	case got := <-ticks:
		if got != 9 {
			t.Fatalf("first loop tick = %d, want 9", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for loop tick")
	}
}
