package loan

import (
	"math/big"
	"sort"

	"pawnpool/crypto"
)

// BalanceOf returns the supplier's deposited principal.
func (e *Engine) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acc.Balance), nil
}

// SharesOf returns the supplier's pool shares.
func (e *Engine) SharesOf(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acc.Shares), nil
}

// RewardOf returns the supplier's total claimable reward at the current time:
// the folded bucket plus the capped accrual since the last fold. The read does
// not mutate state.
func (e *Engine) RewardOf(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return new(big.Int).Set(acc.ClaimedReward), nil
	}
	total := unclaimedReward(pool, acc, e.now())
	return total.Add(total, acc.ClaimedReward), nil
}

// BorrowedOf returns the account's aggregate outstanding loan principal.
func (e *Engine) BorrowedOf(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acc.OutstandingLoan), nil
}

// LoanByID projects the collateral record identified by contract and token.
func (e *Engine) LoanByID(id CollateralID) (*LoanView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	col, err := e.state.GetCollateral(id)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, errNoCollateral
	}
	return e.loanView(col), nil
}

// LoansByCustodian lists the loans whose collateral the address placed into
// custody, ordered by collateral key for a stable pagination cursor. A zero
// limit returns everything past the offset.
func (e *Engine) LoansByCustodian(addr crypto.Address, offset, limit uint64) ([]*LoanView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.CustodianCollateral(addr)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })

	if offset >= uint64(len(ids)) {
		return []*LoanView{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < uint64(len(ids)) {
		ids = ids[:limit]
	}

	views := make([]*LoanView, 0, len(ids))
	for _, id := range ids {
		col, err := e.state.GetCollateral(id)
		if err != nil {
			return nil, err
		}
		if col == nil {
			continue
		}
		views = append(views, e.loanView(col))
	}
	return views, nil
}

// PoolTotals returns a copy of the pool aggregates.
func (e *Engine) PoolTotals() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// AvailableBalance returns the liquidity not currently lent out.
func (e *Engine) AvailableBalance() (*big.Int, error) {
	pool, err := e.PoolTotals()
	if err != nil {
		return nil, err
	}
	return availableBalance(pool), nil
}

// ActiveLoanCount returns the number of collateral records with a non-zero
// principal.
func (e *Engine) ActiveLoanCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.ActiveLoanCount()
}

// Commission returns the fee percent the pool retains on repayment.
func (e *Engine) Commission() (uint64, error) {
	pool, err := e.PoolTotals()
	if err != nil {
		return 0, err
	}
	return pool.Commission, nil
}

func (e *Engine) loanView(col *Collateral) *LoanView {
	view := &LoanView{
		Contract:  col.ID.Contract.String(),
		TokenID:   col.ID.TokenID,
		Custodian: col.Custodian.String(),
		Principal: new(big.Int).Set(col.Principal),
		ExpiresAt: col.Expiry,
	}
	if col.Expiry >= loanTermMillis {
		view.StartedAt = col.Expiry - loanTermMillis
	}
	if col.Expiry > 0 && e.now() >= col.Expiry {
		view.Expired = true
	}
	return view
}
