package loan

import (
	"context"
	"math/big"

	"pawnpool/crypto"
	nativecommon "pawnpool/native/common"
)

func (e *Engine) ensureCollateral(id CollateralID) (*Collateral, error) {
	col, err := e.state.GetCollateral(id)
	if err != nil {
		return nil, err
	}
	if col == nil {
		col = &Collateral{ID: id}
	}
	if col.Principal == nil {
		col.Principal = big.NewInt(0)
	}
	return col, nil
}

// OpenLoan starts a collateral loan for the caller. The custodian assignment
// is recorded before the token is pulled into pool custody; the assignment is
// reverted if the custody transfer fails. Once custody succeeds the loan
// amount is booked and paid out through a second transfer leg.
func (e *Engine) OpenLoan(ctx context.Context, caller crypto.Address, id CollateralID) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	entry, err := e.state.GetWhitelist(id.Contract)
	if err != nil {
		return err
	}
	if !entry.Eligible() {
		return errNotEligible
	}

	col, err := e.ensureCollateral(id)
	if err != nil {
		return err
	}
	if col.Principal.Sign() > 0 {
		return errLoanActive
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	if availableBalance(pool).Cmp(entry.Price) < 0 {
		return errPoolLiquidity
	}

	// Optimistic custody assignment: the borrower is recorded as custodian
	// before the token transfer is confirmed. A collateral entry left over
	// from a seizure still carries the previous custodian; drop its index
	// entry so the reverse lookup never lists the token twice.
	if !col.Custodian.IsZero() && !col.Custodian.Equal(caller) {
		if err := e.state.CustodianRemove(col.Custodian, id); err != nil {
			return err
		}
	}
	col.Custodian = caller
	if err := e.state.PutCollateral(col); err != nil {
		return err
	}
	if err := e.state.CustodianAdd(caller, id); err != nil {
		return err
	}

	pending := &PendingTransfer{
		Kind:       TransferCustodyIn,
		Account:    caller,
		Recipient:  e.vault,
		Collateral: id,
		Price:      new(big.Int).Set(entry.Price),
		FeePercent: entry.FeePercent,
	}
	return e.sendToken(ctx, pending)
}

// Repay settles the loan against an exact payment of principal plus fee. The
// ledger deltas apply synchronously, the payment is confirmed through a
// transfer leg, and the collateral return is chained immediately once the
// principal reaches zero.
func (e *Engine) Repay(ctx context.Context, caller crypto.Address, id CollateralID, payment *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if payment == nil || payment.Sign() <= 0 {
		return errInvalidAmount
	}

	col, err := e.state.GetCollateral(id)
	if err != nil {
		return err
	}
	if col == nil {
		return errNoCollateral
	}
	if col.Principal == nil || col.Principal.Sign() == 0 {
		return errNoActiveLoan
	}
	if e.now() >= col.Expiry {
		return errLoanExpired
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}

	principal := new(big.Int).Set(col.Principal)
	fee := new(big.Int).Mul(principal, new(big.Int).SetUint64(pool.Commission))
	fee.Quo(fee, oneHundred)
	required := new(big.Int).Add(principal, fee)
	if payment.Cmp(required) != 0 {
		return errWrongPayment
	}

	acc, err := e.ensureAccount(caller)
	if err != nil {
		return err
	}
	if acc.OutstandingLoan.Cmp(principal) < 0 {
		return errAccountBalance
	}

	col.Principal = big.NewInt(0)
	acc.OutstandingLoan = new(big.Int).Sub(acc.OutstandingLoan, principal)
	pool.TotalLoan = new(big.Int).Sub(pool.TotalLoan, principal)
	pool.TotalRewards = new(big.Int).Add(pool.TotalRewards, fee)

	if err := e.state.PutCollateral(col); err != nil {
		return err
	}
	if err := e.state.PutAccount(acc); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	pending := &PendingTransfer{
		Kind:       TransferRepay,
		Account:    caller,
		Recipient:  e.vault,
		Amount:     principal,
		Fee:        fee,
		Collateral: id,
	}
	if err := e.sendValue(ctx, pending); err != nil {
		return err
	}

	// Principal is zero now; hand the token back right away.
	return e.Claim(ctx, id)
}

// Claim returns the collateral token to its recorded custodian. Only valid
// once the outstanding principal is zero. The loan entry is cleared when the
// custody transfer confirms.
func (e *Engine) Claim(ctx context.Context, id CollateralID) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	col, err := e.state.GetCollateral(id)
	if err != nil {
		return err
	}
	if col == nil || col.Custodian.IsZero() {
		return errNoCustodian
	}
	if col.Principal != nil && col.Principal.Sign() > 0 {
		return errCloseLoanFirst
	}

	pending := &PendingTransfer{
		Kind:       TransferCustodyOut,
		Account:    col.Custodian,
		Recipient:  col.Custodian,
		Collateral: id,
	}
	return e.sendToken(ctx, pending)
}

// SeizeExpired transfers custody of an expired loan's collateral to the pool
// owner and unwinds the written-off principal. By default any caller may
// trigger seizure once the deadline passed; SetRestrictSeize limits it to the
// owner.
func (e *Engine) SeizeExpired(caller crypto.Address, id CollateralID) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.restrictSeize && !caller.Equal(e.owner) {
		return errNotOwner
	}

	col, err := e.state.GetCollateral(id)
	if err != nil {
		return err
	}
	if col == nil || col.Custodian.IsZero() {
		return errNoCustodian
	}
	if col.Expiry == 0 || e.now() < col.Expiry {
		return errLoanNotExpired
	}

	previous := col.Custodian
	principal := cloneBigInt(col.Principal)

	if err := e.state.CustodianRemove(previous, id); err != nil {
		return err
	}
	col.Custodian = e.owner
	col.Principal = big.NewInt(0)
	col.Expiry = 0
	if err := e.state.PutCollateral(col); err != nil {
		return err
	}
	if err := e.state.CustodianAdd(e.owner, id); err != nil {
		return err
	}

	// Write the seized debt off the borrower and the pool so the
	// outstanding-principal sums stay consistent with the zeroed entry.
	if principal.Sign() > 0 {
		pool, err := e.ensurePool()
		if err != nil {
			return err
		}
		acc, err := e.ensureAccount(previous)
		if err != nil {
			return err
		}
		acc.OutstandingLoan = new(big.Int).Sub(acc.OutstandingLoan, principal)
		if acc.OutstandingLoan.Sign() < 0 {
			acc.OutstandingLoan = big.NewInt(0)
		}
		pool.TotalLoan = new(big.Int).Sub(pool.TotalLoan, principal)
		if pool.TotalLoan.Sign() < 0 {
			pool.TotalLoan = big.NewInt(0)
		}
		if err := e.state.PutAccount(acc); err != nil {
			return err
		}
		if err := e.state.PutPool(pool); err != nil {
			return err
		}
	}

	e.emit(newClaimExpiredEvent(previous, id))
	return nil
}
