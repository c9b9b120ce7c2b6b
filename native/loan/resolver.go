package loan

import (
	"context"
	"log/slog"
	"math/big"
)

// ResolveTransfer delivers the outcome of one external transfer identified by
// its receipt. Each receipt resolves at most once: the pending record is
// removed before the outcome is applied, so a duplicate delivery surfaces as
// an unknown receipt. Success finalises the optimistic mutation and emits the
// domain event; failure applies the recorded inverse deltas exactly.
func (e *Engine) ResolveTransfer(ctx context.Context, receiptID string, success bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pending, err := e.state.PendingGet(receiptID)
	if err != nil {
		return err
	}
	if pending == nil {
		return errUnknownReceipt
	}
	if err := e.state.PendingDelete(receiptID); err != nil {
		return err
	}

	if !success {
		slog.Warn("external transfer failed, compensating ledger",
			"receipt", pending.ID,
			"kind", uint8(pending.Kind),
			"account", pending.Account.String(),
			"amount", pending.Amount)
	}

	switch pending.Kind {
	case TransferDeposit:
		return e.resolveDeposit(pending, success)
	case TransferWithdraw:
		return e.resolveWithdraw(pending, success)
	case TransferRewards:
		return e.resolveRewards(pending, success)
	case TransferCustodyIn:
		return e.resolveCustodyIn(ctx, pending, success)
	case TransferPayout:
		return e.resolvePayout(pending, success)
	case TransferRepay:
		return e.resolveRepay(pending, success)
	case TransferCustodyOut:
		return e.resolveCustodyOut(pending, success)
	default:
		return errUnknownReceipt
	}
}

func (e *Engine) resolveDeposit(pending *PendingTransfer, success bool) error {
	if success {
		e.emit(newDepositEvent(pending.Account, pending.Amount))
		return nil
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	acc, err := e.ensureAccount(pending.Account)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, pending.Amount)
	acc.Shares = new(big.Int).Sub(acc.Shares, pending.SharesAccount)
	pool.TotalBalance = new(big.Int).Sub(pool.TotalBalance, pending.Amount)
	pool.TotalShares = new(big.Int).Sub(pool.TotalShares, pending.SharesPool)
	if err := e.state.PutAccount(acc); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

func (e *Engine) resolveWithdraw(pending *PendingTransfer, success bool) error {
	if success {
		e.emit(newWithdrawEvent(pending.Account, pending.Amount))
		return nil
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	acc, err := e.ensureAccount(pending.Account)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, pending.Amount)
	acc.Shares = new(big.Int).Add(acc.Shares, pending.SharesAccount)
	pool.TotalBalance = new(big.Int).Add(pool.TotalBalance, pending.Amount)
	pool.TotalShares = new(big.Int).Add(pool.TotalShares, pending.SharesPool)
	if err := e.state.PutAccount(acc); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

func (e *Engine) resolveRewards(pending *PendingTransfer, success bool) error {
	if success {
		e.emit(newClaimRewardsEvent(pending.Account, pending.Amount))
		return nil
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	acc, err := e.ensureAccount(pending.Account)
	if err != nil {
		return err
	}
	acc.ClaimedReward = new(big.Int).Add(acc.ClaimedReward, pending.Amount)
	pool.TotalRewards = new(big.Int).Add(pool.TotalRewards, pending.Amount)
	if err := e.state.PutAccount(acc); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// resolveCustodyIn finishes the first leg of a loan open. On success the loan
// amount is booked against the collateral and paid out through a second leg;
// on failure only the optimistic custodian assignment is reverted, since no
// funds moved.
func (e *Engine) resolveCustodyIn(ctx context.Context, pending *PendingTransfer, success bool) error {
	if !success {
		if err := e.state.CustodianRemove(pending.Account, pending.Collateral); err != nil {
			return err
		}
		return e.state.DeleteCollateral(pending.Collateral)
	}

	col, err := e.ensureCollateral(pending.Collateral)
	if err != nil {
		return err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	acc, err := e.ensureAccount(pending.Account)
	if err != nil {
		return err
	}

	loanAmount := new(big.Int).Sub(oneHundred, new(big.Int).SetUint64(pending.FeePercent))
	loanAmount.Mul(pending.Price, loanAmount)
	loanAmount.Quo(loanAmount, oneHundred)
	expiry := e.now() + loanTermMillis

	col.Principal = new(big.Int).Add(col.Principal, loanAmount)
	col.Price = new(big.Int).Set(pending.Price)
	col.FeePercent = pending.FeePercent
	col.Expiry = expiry
	acc.OutstandingLoan = new(big.Int).Add(acc.OutstandingLoan, loanAmount)
	pool.TotalLoan = new(big.Int).Add(pool.TotalLoan, loanAmount)

	if err := e.state.PutCollateral(col); err != nil {
		return err
	}
	if err := e.state.PutAccount(acc); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	payout := &PendingTransfer{
		Kind:       TransferPayout,
		Account:    pending.Account,
		Recipient:  pending.Account,
		Amount:     loanAmount,
		Collateral: pending.Collateral,
		Price:      new(big.Int).Set(pending.Price),
		FeePercent: pending.FeePercent,
		Expiry:     expiry,
	}
	return e.sendValue(ctx, payout)
}

// resolvePayout finishes the second leg of a loan open. Compensation unwinds
// the booked debt but deliberately leaves custody with the pool; reversing
// the already-confirmed custody transfer is not part of this path.
func (e *Engine) resolvePayout(pending *PendingTransfer, success bool) error {
	if success {
		e.emit(newLoanOpenedEvent(pending.Account, pending.Collateral, pending.Amount, pending.Price, pending.FeePercent, pending.Expiry))
		return nil
	}

	col, err := e.ensureCollateral(pending.Collateral)
	if err != nil {
		return err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	acc, err := e.ensureAccount(pending.Account)
	if err != nil {
		return err
	}

	col.Principal = new(big.Int).Sub(col.Principal, pending.Amount)
	if col.Principal.Sign() < 0 {
		col.Principal = big.NewInt(0)
	}
	col.Price = nil
	col.FeePercent = 0
	col.Expiry = 0
	acc.OutstandingLoan = new(big.Int).Sub(acc.OutstandingLoan, pending.Amount)
	if acc.OutstandingLoan.Sign() < 0 {
		acc.OutstandingLoan = big.NewInt(0)
	}
	pool.TotalLoan = new(big.Int).Sub(pool.TotalLoan, pending.Amount)
	if pool.TotalLoan.Sign() < 0 {
		pool.TotalLoan = big.NewInt(0)
	}

	if err := e.state.PutCollateral(col); err != nil {
		return err
	}
	if err := e.state.PutAccount(acc); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

func (e *Engine) resolveRepay(pending *PendingTransfer, success bool) error {
	if success {
		e.emit(newLoanPaidEvent(pending.Account, pending.Collateral, pending.Amount, pending.Fee))
		return nil
	}

	col, err := e.ensureCollateral(pending.Collateral)
	if err != nil {
		return err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	acc, err := e.ensureAccount(pending.Account)
	if err != nil {
		return err
	}

	col.Principal = new(big.Int).Add(col.Principal, pending.Amount)
	acc.OutstandingLoan = new(big.Int).Add(acc.OutstandingLoan, pending.Amount)
	pool.TotalLoan = new(big.Int).Add(pool.TotalLoan, pending.Amount)
	pool.TotalRewards = new(big.Int).Sub(pool.TotalRewards, pending.Fee)
	if pool.TotalRewards.Sign() < 0 {
		pool.TotalRewards = big.NewInt(0)
	}

	if err := e.state.PutCollateral(col); err != nil {
		return err
	}
	if err := e.state.PutAccount(acc); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// resolveCustodyOut finishes a collateral return. Success clears the loan
// entry entirely; failure leaves the recorded custodian in place so the claim
// can be retried.
func (e *Engine) resolveCustodyOut(pending *PendingTransfer, success bool) error {
	if !success {
		return nil
	}
	if err := e.state.CustodianRemove(pending.Recipient, pending.Collateral); err != nil {
		return err
	}
	if err := e.state.DeleteCollateral(pending.Collateral); err != nil {
		return err
	}
	e.emit(newLoanClaimedEvent(pending.Recipient, pending.Collateral))
	return nil
}
