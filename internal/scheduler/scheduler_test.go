package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/openbadge/attendd/internal/types"
)

type fakeEngine struct {
	cooldown bool
	busy     bool
	calls    int
	summary  types.SyncSummary
}

func (f *fakeEngine) ScheduledSync(ctx context.Context) types.SyncSummary {
	f.calls++
	return f.summary
}
func (f *fakeEngine) InCooldown() bool { return f.cooldown }
func (f *fakeEngine) Busy() bool       { return f.busy }

type fakeCounter struct {
	pending int
	err     error
}

func (f *fakeCounter) CountByStatus(ctx context.Context) (types.StatusCounts, error) {
	return types.StatusCounts{Pending: f.pending}, f.err
}

func testScheduler(engine *fakeEngine, counter *fakeCounter, opts Options) *Scheduler {
	s := New(engine, counter, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s
}

func defaultOpts() Options {
	return Options{
		Enabled:       true,
		Idle:          30 * time.Second,
		CheckInterval: time.Minute,
		MinPending:    1,
	}
}

func TestTickTriggersWhenAllConditionsHold(t *testing.T) {
	engine := &fakeEngine{}
	counter := &fakeCounter{pending: 3}
	s := testScheduler(engine, counter, defaultOpts())

	base := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	s.NoteActivity(base)
	s.now = func() time.Time { return base.Add(31 * time.Second) }

	s.tick(context.Background())
	if engine.calls != 1 {
		t.Errorf("ScheduledSync calls = %d, want 1", engine.calls)
	}
}

func TestTickDefersWhileActive(t *testing.T) {
	engine := &fakeEngine{}
	s := testScheduler(engine, &fakeCounter{pending: 3}, defaultOpts())

	base := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	s.NoteActivity(base)
	s.now = func() time.Time { return base.Add(29 * time.Second) }

	s.tick(context.Background())
	if engine.calls != 0 {
		t.Error("triggered during the idle window")
	}

	// A new scan pushes the idle window forward.
	s.NoteActivity(base.Add(20 * time.Second))
	s.now = func() time.Time { return base.Add(45 * time.Second) }
	s.tick(context.Background())
	if engine.calls != 0 {
		t.Error("triggered despite recent activity")
	}
}

func TestTickSkipsDuringCooldown(t *testing.T) {
	engine := &fakeEngine{cooldown: true}
	s := testScheduler(engine, &fakeCounter{pending: 5}, defaultOpts())
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	s.tick(context.Background())
	if engine.calls != 0 {
		t.Error("triggered during cooldown")
	}
}

func TestTickSkipsWhileEngineBusy(t *testing.T) {
	engine := &fakeEngine{busy: true}
	s := testScheduler(engine, &fakeCounter{pending: 5}, defaultOpts())
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	s.tick(context.Background())
	if engine.calls != 0 {
		t.Error("triggered while a cycle was in flight")
	}
}

func TestTickRequiresMinPending(t *testing.T) {
	opts := defaultOpts()
	opts.MinPending = 5
	engine := &fakeEngine{}
	counter := &fakeCounter{pending: 4}
	s := testScheduler(engine, counter, opts)
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	s.tick(context.Background())
	if engine.calls != 0 {
		t.Error("triggered below the pending threshold")
	}

	counter.pending = 5
	s.tick(context.Background())
	if engine.calls != 1 {
		t.Errorf("calls = %d, want 1 at the threshold", engine.calls)
	}
}

func TestTickDisabled(t *testing.T) {
	opts := defaultOpts()
	opts.Enabled = false
	engine := &fakeEngine{}
	s := testScheduler(engine, &fakeCounter{pending: 10}, opts)
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	s.tick(context.Background())
	if engine.calls != 0 {
		t.Error("disabled scheduler triggered a sync")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	opts := defaultOpts()
	opts.CheckInterval = 10 * time.Millisecond
	s := testScheduler(&fakeEngine{}, &fakeCounter{}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
