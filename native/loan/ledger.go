package loan

import (
	"context"
	"math/big"

	"pawnpool/crypto"
	nativecommon "pawnpool/native/common"
)

// Deposit credits the caller's pool balance and mints proportional shares.
// The balance change is applied before the confirming transfer resolves; a
// failed transfer reverses the exact deltas. Returns the post-deposit
// balance.
func (e *Engine) Deposit(ctx context.Context, caller crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	acc, err := e.ensureAccount(caller)
	if err != nil {
		return nil, err
	}

	e.foldRewards(pool, acc)

	// Share mint uses the totals before this deposit is folded in.
	minted := new(big.Int)
	if pool.TotalShares.Sign() == 0 {
		minted.SetInt64(bootstrapShares)
	} else {
		minted.Mul(amount, pool.TotalShares)
		minted.Quo(minted, pool.TotalBalance)
	}

	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	acc.Shares = new(big.Int).Add(acc.Shares, minted)
	pool.TotalBalance = new(big.Int).Add(pool.TotalBalance, amount)
	pool.TotalShares = new(big.Int).Add(pool.TotalShares, minted)

	if err := e.state.PutAccount(acc); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	pending := &PendingTransfer{
		Kind:          TransferDeposit,
		Account:       caller,
		Recipient:     e.vault,
		Amount:        new(big.Int).Set(amount),
		SharesPool:    new(big.Int).Set(minted),
		SharesAccount: new(big.Int).Set(minted),
	}
	if err := e.sendValue(ctx, pending); err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

// Withdraw debits the caller's balance and burns shares using the snapshot
// formula floor(total_shares * amount / total_balance) over pre-withdrawal
// totals. The snapshot calculation is kept verbatim for compatibility even
// though repeated partial withdrawals can drift aggregate shares slightly;
// the drift bound is covered by a fuzz test.
func (e *Engine) Withdraw(ctx context.Context, caller crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	if availableBalance(pool).Cmp(amount) < 0 {
		return nil, errPoolLiquidity
	}
	acc, err := e.ensureAccount(caller)
	if err != nil {
		return nil, err
	}
	if acc.Balance.Cmp(amount) < 0 {
		return nil, errAccountBalance
	}

	e.foldRewards(pool, acc)

	burned := new(big.Int).Mul(pool.TotalShares, amount)
	burned.Quo(burned, pool.TotalBalance)

	accountBurn := burned
	if burned.Cmp(acc.Shares) > 0 {
		accountBurn = new(big.Int).Set(acc.Shares)
	}

	acc.Balance = new(big.Int).Sub(acc.Balance, amount)
	acc.Shares = new(big.Int).Sub(acc.Shares, accountBurn)
	pool.TotalBalance = new(big.Int).Sub(pool.TotalBalance, amount)
	pool.TotalShares = new(big.Int).Sub(pool.TotalShares, burned)
	if pool.TotalShares.Sign() < 0 {
		pool.TotalShares = big.NewInt(0)
	}

	if err := e.state.PutAccount(acc); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	pending := &PendingTransfer{
		Kind:          TransferWithdraw,
		Account:       caller,
		Recipient:     caller,
		Amount:        new(big.Int).Set(amount),
		SharesPool:    new(big.Int).Set(burned),
		SharesAccount: new(big.Int).Set(accountBurn),
	}
	if err := e.sendValue(ctx, pending); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// WithdrawAll withdraws the caller's entire deposited balance.
func (e *Engine) WithdrawAll(ctx context.Context, caller crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acc, err := e.ensureAccount(caller)
	if err != nil {
		return nil, err
	}
	return e.Withdraw(ctx, caller, acc.Balance)
}

// ClaimRewards folds accrual and pays out the caller's claimed reward. The
// reward bucket and pool are debited before the payout resolves; a failed
// payout restores both.
func (e *Engine) ClaimRewards(ctx context.Context, caller crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	acc, err := e.ensureAccount(caller)
	if err != nil {
		return nil, err
	}

	e.foldRewards(pool, acc)

	amount := new(big.Int).Set(acc.ClaimedReward)
	if amount.Sign() == 0 {
		return nil, errNoRewards
	}
	if pool.TotalRewards.Cmp(amount) < 0 {
		return nil, errRewardsPool
	}

	acc.ClaimedReward = big.NewInt(0)
	pool.TotalRewards = new(big.Int).Sub(pool.TotalRewards, amount)

	if err := e.state.PutAccount(acc); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	pending := &PendingTransfer{
		Kind:      TransferRewards,
		Account:   caller,
		Recipient: caller,
		Amount:    amount,
	}
	if err := e.sendValue(ctx, pending); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}
