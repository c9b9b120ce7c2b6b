package loan

import (
	"fmt"
	"math/big"

	"pawnpool/crypto"
)

// CollateralID identifies a single non-fungible token by its issuing contract
// and token identifier. The composite key keeps one ledger entry per physical
// token.
type CollateralID struct {
	Contract crypto.Address
	TokenID  string
}

// Key renders the storage key for the collateral entry.
func (c CollateralID) Key() string {
	return fmt.Sprintf("%s||%s", c.Contract.String(), c.TokenID)
}

// Pool captures the process-wide accounting state of the deposit pool.
// Amounts are denominated in the smallest currency unit and expressed as big
// integers to preserve 128-bit precision.
type Pool struct {
	// TotalBalance is the aggregate liquidity deposited by all accounts.
	TotalBalance *big.Int
	// TotalShares tracks the proportional ownership units minted against
	// deposits.
	TotalShares *big.Int
	// TotalLoan is the sum of outstanding principal across all collateral.
	TotalLoan *big.Int
	// TotalRewards holds the undistributed reward pool fed by repayment fees.
	TotalRewards *big.Int
	// Commission is the fee rate in percent applied to principal at
	// repayment.
	Commission uint64
}

// Clone returns a deep copy of the pool record.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := &Pool{Commission: p.Commission}
	clone.TotalBalance = cloneBigInt(p.TotalBalance)
	clone.TotalShares = cloneBigInt(p.TotalShares)
	clone.TotalLoan = cloneBigInt(p.TotalLoan)
	clone.TotalRewards = cloneBigInt(p.TotalRewards)
	return clone
}

// Account maintains the deposit and borrowing position of a single principal.
type Account struct {
	// Address is the unique principal identifier.
	Address crypto.Address
	// Balance is the deposited amount currently not on loan.
	Balance *big.Int
	// Shares is the proportional claim on the pool.
	Shares *big.Int
	// OutstandingLoan sums the principal still owed across the account's
	// loans.
	OutstandingLoan *big.Int
	// ClaimedReward accumulates folded reward awaiting payout.
	ClaimedReward *big.Int
	// LastClaimTime records when reward accrual was last folded, in
	// milliseconds since epoch. Zero means never.
	LastClaimTime uint64
}

// Clone returns a deep copy of the account record.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Address: a.Address, LastClaimTime: a.LastClaimTime}
	clone.Balance = cloneBigInt(a.Balance)
	clone.Shares = cloneBigInt(a.Shares)
	clone.OutstandingLoan = cloneBigInt(a.OutstandingLoan)
	clone.ClaimedReward = cloneBigInt(a.ClaimedReward)
	return clone
}

// Collateral records the loan state attached to one physical token.
type Collateral struct {
	ID CollateralID
	// Custodian is the principal currently controlling the token: the
	// borrower while a loan is active, the pool owner once seized.
	Custodian crypto.Address
	// Principal is the outstanding loan amount secured by this token.
	Principal *big.Int
	// Price and FeePercent are the whitelist terms captured at loan open.
	Price      *big.Int
	FeePercent uint64
	// Expiry is the repayment deadline in milliseconds since epoch, zero
	// when no loan is active.
	Expiry uint64
}

// Clone returns a deep copy of the collateral record.
func (c *Collateral) Clone() *Collateral {
	if c == nil {
		return nil
	}
	clone := &Collateral{
		ID:         c.ID,
		Custodian:  c.Custodian,
		FeePercent: c.FeePercent,
		Expiry:     c.Expiry,
	}
	clone.Principal = cloneBigInt(c.Principal)
	clone.Price = cloneBigInt(c.Price)
	return clone
}

// WhitelistEntry stores eligibility and loan terms for a collateral-issuing
// contract. Terms may be present without the contract being enabled and vice
// versa; eligibility requires all three.
type WhitelistEntry struct {
	Contract crypto.Address
	Enabled  bool
	// Price is the loan price unit for the contract's tokens; nil when
	// unset.
	Price *big.Int
	// FeePercent is the open fee in percent, bounded 1..50. HasPercent
	// distinguishes an unset percent from zero.
	FeePercent uint64
	HasPercent bool
}

// Eligible reports whether loans may be issued against the contract.
func (w *WhitelistEntry) Eligible() bool {
	return w != nil && w.Enabled && w.Price != nil && w.HasPercent
}

// Clone returns a deep copy of the whitelist entry.
func (w *WhitelistEntry) Clone() *WhitelistEntry {
	if w == nil {
		return nil
	}
	clone := &WhitelistEntry{
		Contract:   w.Contract,
		Enabled:    w.Enabled,
		FeePercent: w.FeePercent,
		HasPercent: w.HasPercent,
	}
	if w.Price != nil {
		clone.Price = new(big.Int).Set(w.Price)
	}
	return clone
}

// LoanView is the read-model projection of a collateral loan returned by
// queries.
type LoanView struct {
	Contract  string   `json:"contract"`
	TokenID   string   `json:"tokenId"`
	Custodian string   `json:"custodian"`
	Principal *big.Int `json:"principal"`
	StartedAt uint64   `json:"startedAt"`
	ExpiresAt uint64   `json:"expiresAt"`
	Expired   bool     `json:"expired"`
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
