package agent

import "github.com/openbadge/attendd/internal/types"

// SignalKind tags the variants delivered on the agent's signal channel.
type SignalKind string

const (
	SignalConnection SignalKind = "connection_status_changed"
	SignalSyncStage  SignalKind = "sync_stage_changed"
	SignalDuplicate  SignalKind = "duplicate_detected"
)

// Signal is one notification for the display collaborator. Exactly one of
// the payload fields is set, per Kind.
type Signal struct {
	Kind       SignalKind
	Connection *types.ConnectionStatus
	Stage      *types.SyncStage
	Duplicate  *types.DuplicateAlert
}

const signalBuffer = 64

// publish delivers a signal without ever blocking the producer. When the
// buffer is full the oldest entry is dropped; a UI that falls behind loses
// history, never causes backpressure into intake or sync.
func (a *Agent) publish(sig Signal) {
	for {
		select {
		case a.signals <- sig:
			return
		default:
		}
		select {
		case <-a.signals:
		default:
		}
	}
}

func (a *Agent) publishConnection(st types.ConnectionStatus) {
	a.publish(Signal{Kind: SignalConnection, Connection: &st})
}

func (a *Agent) publishStage(st types.SyncStage) {
	a.publish(Signal{Kind: SignalSyncStage, Stage: &st})
}

func (a *Agent) publishDuplicate(alert types.DuplicateAlert) {
	a.publish(Signal{Kind: SignalDuplicate, Duplicate: &alert})
}

// Signals returns the agent's notification channel. A single consumer is
// expected; signals may be dropped under sustained consumer stall.
func (a *Agent) Signals() <-chan Signal {
	return a.signals
}
