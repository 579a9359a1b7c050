package chat

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/credoservice/advisor/internal/fsm"
	"github.com/credoservice/advisor/internal/remote"
	"github.com/credoservice/advisor/internal/store"
)

// Mode is the execution strategy of the dual-mode executor.
type Mode int32

const (
	// ModeChecking: the health probe has not run yet.
	ModeChecking Mode = iota
	// ModeRemote: dispatch through the n8n orchestrator.
	ModeRemote
	// ModeLocal: execute with the in-process interpreter.
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeRemote:
		return "remote"
	case ModeLocal:
		return "local"
	}
	return "checking"
}

// Executor decides per message whether conversation logic runs on the remote
// orchestrator or the local interpreter. Demotion to local is monotonic for
// the executor's lifetime: a remote failure switches strategy once and no
// sequence of local successes promotes back.
type Executor struct {
	remote *remote.Client
	local  *Interpreter
	mode   atomic.Int32
}

func NewExecutor(rc *remote.Client, local *Interpreter) *Executor {
	e := &Executor{remote: rc, local: local}
	e.mode.Store(int32(ModeChecking))
	return e
}

// Mode returns the current execution strategy.
func (e *Executor) Mode() Mode {
	return Mode(e.mode.Load())
}

// Init runs the health probe once and selects the starting mode. Safe and
// idempotent to repeat: an already-selected mode is kept (re-probing cannot
// promote a demoted executor).
func (e *Executor) Init(ctx context.Context) Mode {
	if m := e.Mode(); m != ModeChecking {
		return m
	}
	if err := e.remote.Health(ctx); err != nil {
		e.mode.CompareAndSwap(int32(ModeChecking), int32(ModeLocal))
		log.Printf("Orchestrator health probe failed, starting in local mode: %v", err)
	} else {
		e.mode.CompareAndSwap(int32(ModeChecking), int32(ModeRemote))
		log.Println("Orchestrator reachable, starting in remote mode")
	}
	return e.Mode()
}

// demote flips remote -> local exactly once; any other state is left alone.
func (e *Executor) demote() {
	if e.mode.CompareAndSwap(int32(ModeRemote), int32(ModeLocal)) {
		log.Println("Orchestrator dispatch failed, demoted to local mode for the rest of this session")
	}
}

// Process dispatches one user message. In remote mode a transport failure, a
// fallback-flagged response or an invalid remote payload demotes the executor
// and the same input is immediately reprocessed through the local
// interpreter, so that specific failure is invisible to the user.
func (e *Executor) Process(ctx context.Context, userID, language string, profile fsm.Profile, snap *store.Snapshot, history []store.Message, input string) (*Outcome, error) {
	if e.Mode() == ModeChecking {
		e.Init(ctx)
	}

	if e.Mode() == ModeRemote {
		outcome, err := e.processRemote(ctx, userID, language, snap, input)
		if err == nil {
			return outcome, nil
		}
		log.Printf("Remote dispatch failed for session %s, reprocessing locally: %v", snap.SessionID, err)
		e.demote()
	}

	return e.local.Process(ctx, profile, snap, history, input)
}

func (e *Executor) processRemote(ctx context.Context, userID, language string, snap *store.Snapshot, input string) (*Outcome, error) {
	reply, err := e.remote.Message(ctx, userID, snap.SessionID, input, language, nil)
	if err != nil {
		return nil, err
	}
	if reply.SessionCorrected {
		log.Printf("Orchestrator echoed a session sentinel, substituted local id %s", snap.SessionID)
	}

	state := fsm.State(reply.State)
	if !fsm.Valid(state) {
		// Treat an unknown state like any other malformed payload.
		return nil, remote.ErrUnavailable
	}

	diag := snap.DiagnosticData.Clone()
	if reply.Meta != nil {
		for k, v := range reply.Meta.DiagnosticData {
			diag[k] = v
		}
	}

	outcome := &Outcome{
		Text:           reply.Text,
		NextState:      state,
		DiagnosticData: diag,
	}
	for _, ui := range reply.UI {
		if len(ui.Options) > 0 {
			outcome.Options = ui.Options
			break
		}
	}
	return outcome, nil
}
