package loan

import (
	"math/big"

	"pawnpool/crypto"
)

// TransferKind labels the ledger operation that initiated a pending external
// transfer. The kind selects both the finalisation and the compensation path
// when the transfer resolves.
type TransferKind uint8

const (
	// TransferDeposit confirms receipt of a deposit into the pool vault.
	TransferDeposit TransferKind = iota + 1
	// TransferWithdraw pays a withdrawal out to the depositor.
	TransferWithdraw
	// TransferRewards pays folded rewards out to the depositor.
	TransferRewards
	// TransferCustodyIn moves the collateral token into pool custody when a
	// loan is opened.
	TransferCustodyIn
	// TransferPayout pays the opened loan amount to the borrower.
	TransferPayout
	// TransferRepay confirms receipt of an exact repayment into the vault.
	TransferRepay
	// TransferCustodyOut returns the collateral token to its recorded
	// custodian.
	TransferCustodyOut
)

// Valid reports whether the kind is within the supported range.
func (k TransferKind) Valid() bool {
	return k >= TransferDeposit && k <= TransferCustodyOut
}

// PendingTransfer captures everything needed to finalise or exactly undo the
// optimistic mutation attached to one in-flight external transfer. Deltas are
// stored as fixed amounts, never re-derived from current totals, so
// compensation stays correct even after unrelated operations have run in the
// meantime.
type PendingTransfer struct {
	// ID is the receipt identifier shared with the custody collaborator.
	ID   string
	Kind TransferKind
	// Account is the principal whose ledger entries were mutated.
	Account crypto.Address
	// Recipient receives the external transfer.
	Recipient crypto.Address
	// Amount is the value moved, or the principal delta for loan legs.
	Amount *big.Int
	// Fee is the commission portion credited to the rewards pool on repay.
	Fee *big.Int
	// SharesPool and SharesAccount are the share deltas applied to the pool
	// total and the account on deposit or withdrawal. They can differ when
	// the snapshot burn formula exceeds the account's remaining shares.
	SharesPool    *big.Int
	SharesAccount *big.Int
	// Collateral identifies the token for custody and loan legs.
	Collateral CollateralID
	// Price and FeePercent carry the whitelist terms captured when a loan
	// open was initiated.
	Price      *big.Int
	FeePercent uint64
	// Expiry is the deadline recorded by the payout leg.
	Expiry uint64
	// CreatedAt is the engine clock when the transfer was issued, in
	// milliseconds since epoch.
	CreatedAt uint64
}

// Value returns the amount moved by the external value leg. Repay legs move
// the principal and the commission fee together; the record keeps them split
// so compensation can route the fee back out of the rewards pool.
func (p *PendingTransfer) Value() *big.Int {
	if p.Kind == TransferRepay && p.Fee != nil {
		return new(big.Int).Add(p.Amount, p.Fee)
	}
	return p.Amount
}

// Clone returns a deep copy of the pending transfer record.
func (p *PendingTransfer) Clone() *PendingTransfer {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Amount = cloneBigInt(p.Amount)
	clone.Fee = cloneBigInt(p.Fee)
	clone.SharesPool = cloneBigInt(p.SharesPool)
	clone.SharesAccount = cloneBigInt(p.SharesAccount)
	clone.Price = cloneBigInt(p.Price)
	return &clone
}
