package loan

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"pawnpool/core/events"
	"pawnpool/crypto"
	nativecommon "pawnpool/native/common"
)

const moduleName = "loan"

const (
	// loanTermMillis is the fixed repayment window granted at loan open.
	loanTermMillis = 604_800_000
	// millisPerYear is the divisor in the reward APR cap.
	millisPerYear = 31_536_000_000
	// rewardAPRPercent caps time-weighted reward accrual at 28% APR on the
	// deposited balance.
	rewardAPRPercent = 28
	// bootstrapShares is minted for the first deposit into an empty pool.
	bootstrapShares = 100
	// defaultCommission is the repayment fee rate in percent when no
	// configuration overrides it.
	defaultCommission = 9
)

var oneHundred = big.NewInt(100)

// Engine orchestrates the share-based deposit pool, the reward accrual
// engine, the whitelist registry and the collateral loan state machine over a
// pluggable persistence layer. Every value movement is issued through the
// transfer resolution protocol: mutate optimistically, hand one transfer to
// the custody collaborator, finalise or compensate when the outcome arrives.
type Engine struct {
	state         engineState
	emitter       events.Emitter
	transfers     TransferSender
	pauses        nativecommon.PauseView
	owner         crypto.Address
	vault         crypto.Address
	commission    uint64
	restrictSeize bool
	nowFn         func() uint64
}

// NewEngine constructs a loan engine bound to the pool owner (the operator
// that receives seized custody and holds privileged methods) and the vault
// address representing pool custody at the external collaborator.
func NewEngine(owner, vault crypto.Address) *Engine {
	return &Engine{
		owner:      owner,
		vault:      vault,
		emitter:    events.NoopEmitter{},
		commission: defaultCommission,
		nowFn:      func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransferSender wires the custody collaborator used for external value
// and token movements.
func (e *Engine) SetTransferSender(sender TransferSender) {
	if e == nil {
		return
	}
	e.transfers = sender
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses installs the pause switches consulted before mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetCommission overrides the repayment fee rate seeded into a fresh pool.
func (e *Engine) SetCommission(percent uint64) {
	if e == nil {
		return
	}
	e.commission = percent
}

// SetRestrictSeize limits SeizeExpired to the pool owner. The default keeps
// seizure permissionless: it only triggers after expiry and always benefits
// the pool regardless of caller.
func (e *Engine) SetRestrictSeize(restrict bool) {
	if e == nil {
		return
	}
	e.restrictSeize = restrict
}

// SetNowFunc overrides the millisecond clock. Primarily for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().UnixMilli()) }
		return
	}
	e.nowFn = now
}

// Owner returns the configured pool owner address.
func (e *Engine) Owner() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.owner
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().UnixMilli())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfers
	}
	return nil
}

func (e *Engine) ensurePool() (*Pool, error) {
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &Pool{Commission: e.commission}
	}
	if pool.TotalBalance == nil {
		pool.TotalBalance = big.NewInt(0)
	}
	if pool.TotalShares == nil {
		pool.TotalShares = big.NewInt(0)
	}
	if pool.TotalLoan == nil {
		pool.TotalLoan = big.NewInt(0)
	}
	if pool.TotalRewards == nil {
		pool.TotalRewards = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) ensureAccount(addr crypto.Address) (*Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &Account{Address: addr}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	if acc.Shares == nil {
		acc.Shares = big.NewInt(0)
	}
	if acc.OutstandingLoan == nil {
		acc.OutstandingLoan = big.NewInt(0)
	}
	if acc.ClaimedReward == nil {
		acc.ClaimedReward = big.NewInt(0)
	}
	return acc, nil
}

// availableBalance is the liquidity not currently on loan.
func availableBalance(pool *Pool) *big.Int {
	available := new(big.Int).Sub(pool.TotalBalance, pool.TotalLoan)
	if available.Sign() < 0 {
		return big.NewInt(0)
	}
	return available
}

func (e *Engine) registerPending(pending *PendingTransfer) error {
	pending.ID = uuid.NewString()
	pending.CreatedAt = e.now()
	return e.state.PendingPut(pending)
}

func (e *Engine) sendValue(ctx context.Context, pending *PendingTransfer) error {
	if err := e.registerPending(pending); err != nil {
		return err
	}
	if err := e.transfers.SendValue(ctx, pending.ID, pending.Recipient, pending.Value()); err != nil {
		// Failing to enqueue is equivalent to an immediate failure
		// outcome: compensate right away and surface the send error.
		if rerr := e.ResolveTransfer(ctx, pending.ID, false); rerr != nil {
			return rerr
		}
		return fmt.Errorf("loan engine: enqueue value transfer: %w", err)
	}
	return nil
}

func (e *Engine) sendToken(ctx context.Context, pending *PendingTransfer) error {
	if err := e.registerPending(pending); err != nil {
		return err
	}
	if err := e.transfers.SendToken(ctx, pending.ID, pending.Collateral.Contract, pending.Collateral.TokenID, pending.Recipient); err != nil {
		if rerr := e.ResolveTransfer(ctx, pending.ID, false); rerr != nil {
			return rerr
		}
		return fmt.Errorf("loan engine: enqueue custody transfer: %w", err)
	}
	return nil
}
