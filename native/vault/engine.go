package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sudovault/core/events"
	"sudovault/core/types"
	"sudovault/observability/metrics"
)

// defaultEpochSeconds derives a coarse epoch from wall-clock time when the
// host does not supply its own epoch source.
const defaultEpochSeconds = 43_200

var (
	errNilStaking = errors.New("vault engine: staking pool client not configured")
	errNilTokens  = errors.New("vault engine: token transfer client not configured")
)

type engineState interface {
	VaultGet() (*State, error)
	VaultPut(*State) error
}

// Engine wires the vault credit lifecycle with external state, the
// asynchronous staking/token clients and the event emitter. Execution per
// vault is single threaded; the processing lock serializes the multi-step
// workflows, not goroutines.
type Engine struct {
	state   engineState
	emitter events.Emitter
	staking StakingPool
	tokens  TokenTransfer
	metrics *metrics.VaultMetrics

	nowFn   func() int64
	epochFn func() uint64
	idFn    func() CallID
}

// NewEngine creates a vault engine with a no-op emitter and wall-clock time
// and epoch sources. Callers wire the collaborators via the setters.
func NewEngine() *Engine {
	e := &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		idFn:    func() CallID { return CallID(uuid.NewString()) },
	}
	e.epochFn = func() uint64 { return uint64(e.nowFn() / defaultEpochSeconds) }
	return e
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetStakingPool configures the asynchronous validator pool client.
func (e *Engine) SetStakingPool(p StakingPool) { e.staking = p }

// SetTokenTransfer configures the asynchronous outbound payment client.
func (e *Engine) SetTokenTransfer(t TokenTransfer) { e.tokens = t }

// SetMetrics configures the optional metrics sink.
func (e *Engine) SetMetrics(m *metrics.VaultMetrics) { e.metrics = m }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEpochFunc overrides the epoch source. Primarily intended for tests; the
// production host forwards the staking platform's epoch height.
func (e *Engine) SetEpochFunc(epoch func() uint64) {
	if epoch == nil {
		e.epochFn = func() uint64 { return uint64(e.nowFn() / defaultEpochSeconds) }
		return
	}
	e.epochFn = epoch
}

// SetCallIDFunc overrides correlation id generation. Tests use this to make
// issued calls addressable.
func (e *Engine) SetCallIDFunc(fn func() CallID) {
	if fn == nil {
		e.idFn = func() CallID { return CallID(uuid.NewString()) }
		return
	}
	e.idFn = fn
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) epoch() uint64 {
	if e == nil || e.epochFn == nil {
		return 0
	}
	return e.epochFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vaultEvent{evt: event})
}

func (e *Engine) loadState() (*State, error) {
	if e.state == nil {
		return nil, errNilState
	}
	st, err := e.state.VaultGet()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("vault engine: state backend returned nil state")
	}
	st.normalize()
	return st, nil
}

func (e *Engine) putState(st *State) error {
	if e.state == nil {
		return errNilState
	}
	return e.state.VaultPut(st)
}

func (e *Engine) requireClients() error {
	if e.staking == nil {
		return errNilStaking
	}
	if e.tokens == nil {
		return errNilTokens
	}
	return nil
}

// stageCall records a phase-1 intent in state and returns it. The state must
// be persisted before the external call is handed to the host runtime.
func (e *Engine) stageCall(st *State, intent *CallIntent) *CallIntent {
	intent.ID = e.idFn()
	intent.StartedAt = e.now()
	st.Calls[intent.ID] = intent
	e.metrics.ExternalCall(intent.Kind.String())
	return intent
}

// StagedCall returns a copy of the pending intent for the id. Callback
// surfaces use it to route an outcome to the right continuation.
func (e *Engine) StagedCall(id CallID) (*CallIntent, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	intent, ok := st.Calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	out := *intent
	out.Amount = cloneBigInt(intent.Amount)
	return &out, nil
}

// consumeCall resolves a staged intent exactly once. A continuation arriving
// for an unknown id, or with the wrong kind, is rejected.
func consumeCall(st *State, id CallID, kind CallKind) (*CallIntent, error) {
	intent, ok := st.Calls[id]
	if !ok || intent.Kind != kind {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnknownCall, id, kind)
	}
	delete(st.Calls, id)
	return intent, nil
}
