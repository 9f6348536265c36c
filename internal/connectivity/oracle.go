// Package connectivity tracks reachability of the cloud service with
// hysteresis: one good probe flips the state online, only a run of
// consecutive failures flips it offline.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openbadge/attendd/internal/types"
)

// State is the oracle's three-valued connectivity state.
type State string

const (
	StateUnknown State = "unknown" // startup, before the first probe lands
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Prober performs one bounded reachability check. *cloud.Client satisfies
// this with its Health method.
type Prober interface {
	Health(ctx context.Context) error
}

// Options configures the oracle.
type Options struct {
	Timeout      time.Duration // per-probe deadline
	Interval     time.Duration // periodic tick; 0 disables polling
	InitialDelay time.Duration // suppresses probing right after startup
	Hysteresis   int           // consecutive failures before offline
}

// Oracle maintains the connectivity state and emits one notification per
// transition. Concurrent probe requests are coalesced: a trigger while a
// probe is in flight is dropped.
type Oracle struct {
	prober Prober
	opts   Options
	notify func(types.ConnectionStatus)
	log    *slog.Logger

	probing atomic.Bool

	mu       sync.Mutex
	state    State
	failures int
}

// New creates an oracle. notify may be nil; when set it is called once per
// state change, in transition order.
func New(prober Prober, opts Options, notify func(types.ConnectionStatus), log *slog.Logger) *Oracle {
	if opts.Hysteresis < 1 {
		opts.Hysteresis = 1
	}
	return &Oracle{
		prober: prober,
		opts:   opts,
		notify: notify,
		log:    log,
		state:  StateUnknown,
	}
}

// State returns the current connectivity state.
func (o *Oracle) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run drives periodic probing until ctx is canceled. With Interval 0 the
// loop idles; on-demand probes via Trigger still work.
func (o *Oracle) Run(ctx context.Context) {
	if o.opts.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.opts.InitialDelay):
		}
	}

	if o.opts.Interval <= 0 {
		<-ctx.Done()
		return
	}

	// Probe immediately after the initial delay, then on every tick.
	o.Probe(ctx)
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Probe(ctx)
		}
	}
}

// Trigger requests an on-demand probe without blocking the caller (window
// focus regained, OS network-online events, test_connectivity).
func (o *Oracle) Trigger(ctx context.Context) {
	go o.Probe(ctx)
}

// Probe performs one bounded probe and records the outcome. A probe already
// in flight makes this call a no-op.
func (o *Oracle) Probe(ctx context.Context) {
	if !o.probing.CompareAndSwap(false, true) {
		return
	}
	defer o.probing.Store(false)

	pctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	o.record(o.prober.Health(pctx))
}

// record applies the hysteresis rules and emits a notification when the
// state changed.
func (o *Oracle) record(err error) {
	o.mu.Lock()
	prev := o.state
	var msg string
	if err == nil {
		o.failures = 0
		o.state = StateOnline
		msg = "connected to attendance service"
	} else {
		o.failures++
		if o.failures >= o.opts.Hysteresis {
			o.state = StateOffline
		}
		msg = fmt.Sprintf("connection check failed: %v", err)
	}
	cur := o.state
	failures := o.failures
	o.mu.Unlock()

	if err != nil {
		o.log.Debug("probe failed", "error", err, "consecutive", failures)
	}
	if cur != prev && o.notify != nil {
		o.notify(types.ConnectionStatus{OK: cur == StateOnline, Message: msg})
	}
}
