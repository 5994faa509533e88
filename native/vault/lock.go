package vault

import "fmt"

// acquireLock takes the processing lock for the given workflow kind. A held
// lock rejects the acquire regardless of kind unless it is stale, in which
// case the previous workflow is presumed dead and the lock is overwritten.
// Compare-and-set semantics follow from single-threaded execution per vault.
func (e *Engine) acquireLock(st *State, kind ProcessingState) error {
	now := e.now()
	if st.Lock != nil && now-st.Lock.StartedAt <= LockTimeoutSeconds {
		e.metrics.LockContention()
		return fmt.Errorf("%w: %s held since %d", ErrLockBusy, st.Lock.Kind, st.Lock.StartedAt)
	}
	st.Lock = &ProcessingLock{Kind: kind, StartedAt: now}
	e.metrics.WorkflowStarted(kind.String())
	e.emit(newEvent(EventTypeLockAcquired, map[string]string{
		"kind": kind.String(),
		"at":   formatTimestamp(now),
	}))
	return nil
}

// releaseLock clears the lock unconditionally. Called on every terminal
// transition of a workflow, success or failure.
func (e *Engine) releaseLock(st *State) {
	if st.Lock == nil {
		return
	}
	kind := st.Lock.Kind
	st.Lock = nil
	e.emit(newEvent(EventTypeLockReleased, map[string]string{
		"kind": kind.String(),
		"at":   formatTimestamp(e.now()),
	}))
}

// ensureIdle rejects synchronous owner actions while an asynchronous workflow
// is in flight. Stale locks do not block; the next acquire will overwrite
// them anyway.
func (e *Engine) ensureIdle(st *State) error {
	if st.Lock == nil {
		return nil
	}
	if e.now()-st.Lock.StartedAt > LockTimeoutSeconds {
		return nil
	}
	return fmt.Errorf("%w: %s in progress", ErrLockBusy, st.Lock.Kind)
}

// LockState returns the current lock and whether it is stale. Exposed for
// operators inspecting a stuck vault before retrying.
func (e *Engine) LockState() (*ProcessingLock, bool, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, false, err
	}
	if st.Lock == nil {
		return nil, false, nil
	}
	lock := *st.Lock
	return &lock, e.now()-lock.StartedAt > LockTimeoutSeconds, nil
}
