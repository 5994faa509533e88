package vault

import (
	"fmt"
	"math/big"

	"sudovault/core/events"
)

// memState keeps the vault state in memory for engine tests.
type memState struct {
	st       *State
	putCount int
}

func (m *memState) VaultGet() (*State, error) { return m.st, nil }

func (m *memState) VaultPut(st *State) error {
	m.st = st
	m.putCount++
	return nil
}

type stakeCall struct {
	Call      CallID
	Validator AccountID
	Amount    *big.Int
}

type transferCall struct {
	Call     CallID
	Token    AccountID
	Receiver AccountID
	Amount   *big.Int
	Memo     string
}

// stakingRecorder captures every call handed to the staking client.
type stakingRecorder struct {
	Deposits       []stakeCall
	Unstakes       []stakeCall
	Withdrawals    []stakeCall
	BatchWithdraw  [][]AccountID
	BalanceQueries [][]AccountID
	BatchUnstakes  [][]UnstakeInstruction
}

func (r *stakingRecorder) DepositAndStake(call CallID, validator AccountID, amount *big.Int) {
	r.Deposits = append(r.Deposits, stakeCall{Call: call, Validator: validator, Amount: amount})
}

func (r *stakingRecorder) Unstake(call CallID, validator AccountID, amount *big.Int) {
	r.Unstakes = append(r.Unstakes, stakeCall{Call: call, Validator: validator, Amount: amount})
}

func (r *stakingRecorder) WithdrawAll(call CallID, validator AccountID) {
	r.Withdrawals = append(r.Withdrawals, stakeCall{Call: call, Validator: validator})
}

func (r *stakingRecorder) BatchWithdrawAll(call CallID, validators []AccountID) {
	r.BatchWithdraw = append(r.BatchWithdraw, validators)
}

func (r *stakingRecorder) BatchStakedBalance(call CallID, validators []AccountID) {
	r.BalanceQueries = append(r.BalanceQueries, validators)
}

func (r *stakingRecorder) BatchUnstake(call CallID, instructions []UnstakeInstruction) {
	r.BatchUnstakes = append(r.BatchUnstakes, instructions)
}

// tokenRecorder captures every outbound transfer.
type tokenRecorder struct {
	Transfers []transferCall
}

func (r *tokenRecorder) Transfer(call CallID, token AccountID, receiver AccountID, amount *big.Int, memo string) {
	r.Transfers = append(r.Transfers, transferCall{
		Call: call, Token: token, Receiver: receiver, Amount: amount, Memo: memo,
	})
}

func (r *tokenRecorder) last() transferCall {
	return r.Transfers[len(r.Transfers)-1]
}

// eventRecorder collects emitted event types in order.
type eventRecorder struct {
	Events []events.Event
}

func (r *eventRecorder) Emit(evt events.Event) { r.Events = append(r.Events, evt) }

func (r *eventRecorder) types() []string {
	out := make([]string, 0, len(r.Events))
	for _, evt := range r.Events {
		out = append(out, evt.EventType())
	}
	return out
}

func (r *eventRecorder) has(eventType string) bool {
	for _, evt := range r.Events {
		if evt.EventType() == eventType {
			return true
		}
	}
	return false
}

type testEnv struct {
	engine  *Engine
	state   *memState
	staking *stakingRecorder
	tokens  *tokenRecorder
	events  *eventRecorder

	now   int64
	epoch uint64
}

const (
	testOwner  = AccountID("owner.test")
	testLender = AccountID("lender.test")
	testToken  = AccountID("usdc.test")
	valAlpha   = AccountID("alpha.pool.test")
	valBeta    = AccountID("beta.pool.test")
)

// newTestEnv wires an engine against in-memory collaborators with a
// deterministic clock, epoch and call id sequence.
func newTestEnv(st *State) *testEnv {
	env := &testEnv{
		state:   &memState{st: st},
		staking: &stakingRecorder{},
		tokens:  &tokenRecorder{},
		events:  &eventRecorder{},
		now:     1_000_000,
		epoch:   100,
	}
	seq := 0
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetStakingPool(env.staking)
	env.engine.SetTokenTransfer(env.tokens)
	env.engine.SetEmitter(env.events)
	env.engine.SetNowFunc(func() int64 { return env.now })
	env.engine.SetEpochFunc(func() uint64 { return env.epoch })
	env.engine.SetCallIDFunc(func() CallID {
		seq++
		return CallID(fmt.Sprintf("call-%d", seq))
	})
	return env
}

// amt scales n into the smallest native unit, using the storage reserve as
// the base so one unit of headroom always covers the reserve.
func amt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), StorageReserve())
}

// fundedState builds an owner-held vault whose available balance is
// amt(liquid): one extra reserve unit is added on top.
func fundedState(liquid int64) *State {
	st := NewState(testOwner, 0, 1)
	st.LiquidBalance = amt(liquid + 1)
	return st
}

func openRequest(st *State, createdAt int64) {
	st.Request = &LiquidityRequest{
		Token:      testToken,
		Amount:     amt(1000),
		Interest:   amt(100),
		Collateral: amt(600),
		Duration:   86_400,
		CreatedAt:  createdAt,
	}
}

func offerMessageJSON(action string) string {
	return fmt.Sprintf(`{"action":%q,"token":%q,"amount":%q,"interest":%q,"collateral":%q,"duration":86400}`,
		action, string(testToken), amt(1000).String(), amt(100).String(), amt(600).String())
}
