package storage

import (
	"math/big"

	"pawnpool/crypto"
	"pawnpool/native/loan"
)

// Persisted records mirror the ledger types with RLP-friendly layouts:
// addresses flatten to raw payload bytes and optional big integers carry an
// explicit presence flag, since RLP cannot distinguish nil from zero.

type poolRecord struct {
	TotalBalance *big.Int
	TotalShares  *big.Int
	TotalLoan    *big.Int
	TotalRewards *big.Int
	Commission   uint64
}

type accountRecord struct {
	Address         []byte
	Balance         *big.Int
	Shares          *big.Int
	OutstandingLoan *big.Int
	ClaimedReward   *big.Int
	LastClaimTime   uint64
}

type collateralRecord struct {
	Contract   []byte
	TokenID    string
	Custodian  []byte
	Principal  *big.Int
	Price      *big.Int
	HasPrice   bool
	FeePercent uint64
	Expiry     uint64
}

type whitelistRecord struct {
	Contract   []byte
	Enabled    bool
	Price      *big.Int
	HasPrice   bool
	FeePercent uint64
	HasPercent bool
}

type pendingRecord struct {
	ID            string
	Kind          uint8
	Account       []byte
	Recipient     []byte
	Amount        *big.Int
	Fee           *big.Int
	SharesPool    *big.Int
	SharesAccount *big.Int
	Contract      []byte
	TokenID       string
	Price         *big.Int
	HasPrice      bool
	FeePercent    uint64
	Expiry        uint64
	CreatedAt     uint64
}

func normalizeBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func encodeAddr(addr crypto.Address) []byte {
	return addr.Bytes()
}

func decodeAddr(raw []byte) crypto.Address {
	if len(raw) == 0 {
		return crypto.Address{}
	}
	return crypto.MustAddress(crypto.PawnPrefix, raw)
}

func toPoolRecord(pool *loan.Pool) *poolRecord {
	return &poolRecord{
		TotalBalance: normalizeBig(pool.TotalBalance),
		TotalShares:  normalizeBig(pool.TotalShares),
		TotalLoan:    normalizeBig(pool.TotalLoan),
		TotalRewards: normalizeBig(pool.TotalRewards),
		Commission:   pool.Commission,
	}
}

func (r *poolRecord) toPool() *loan.Pool {
	return &loan.Pool{
		TotalBalance: r.TotalBalance,
		TotalShares:  r.TotalShares,
		TotalLoan:    r.TotalLoan,
		TotalRewards: r.TotalRewards,
		Commission:   r.Commission,
	}
}

func toAccountRecord(acc *loan.Account) *accountRecord {
	return &accountRecord{
		Address:         encodeAddr(acc.Address),
		Balance:         normalizeBig(acc.Balance),
		Shares:          normalizeBig(acc.Shares),
		OutstandingLoan: normalizeBig(acc.OutstandingLoan),
		ClaimedReward:   normalizeBig(acc.ClaimedReward),
		LastClaimTime:   acc.LastClaimTime,
	}
}

func (r *accountRecord) toAccount() *loan.Account {
	return &loan.Account{
		Address:         decodeAddr(r.Address),
		Balance:         r.Balance,
		Shares:          r.Shares,
		OutstandingLoan: r.OutstandingLoan,
		ClaimedReward:   r.ClaimedReward,
		LastClaimTime:   r.LastClaimTime,
	}
}

func toCollateralRecord(col *loan.Collateral) *collateralRecord {
	return &collateralRecord{
		Contract:   encodeAddr(col.ID.Contract),
		TokenID:    col.ID.TokenID,
		Custodian:  encodeAddr(col.Custodian),
		Principal:  normalizeBig(col.Principal),
		Price:      normalizeBig(col.Price),
		HasPrice:   col.Price != nil,
		FeePercent: col.FeePercent,
		Expiry:     col.Expiry,
	}
}

func (r *collateralRecord) toCollateral() *loan.Collateral {
	col := &loan.Collateral{
		ID: loan.CollateralID{
			Contract: decodeAddr(r.Contract),
			TokenID:  r.TokenID,
		},
		Custodian:  decodeAddr(r.Custodian),
		Principal:  r.Principal,
		FeePercent: r.FeePercent,
		Expiry:     r.Expiry,
	}
	if r.HasPrice {
		col.Price = r.Price
	}
	return col
}

func toWhitelistRecord(entry *loan.WhitelistEntry) *whitelistRecord {
	return &whitelistRecord{
		Contract:   encodeAddr(entry.Contract),
		Enabled:    entry.Enabled,
		Price:      normalizeBig(entry.Price),
		HasPrice:   entry.Price != nil,
		FeePercent: entry.FeePercent,
		HasPercent: entry.HasPercent,
	}
}

func (r *whitelistRecord) toWhitelistEntry() *loan.WhitelistEntry {
	entry := &loan.WhitelistEntry{
		Contract:   decodeAddr(r.Contract),
		Enabled:    r.Enabled,
		FeePercent: r.FeePercent,
		HasPercent: r.HasPercent,
	}
	if r.HasPrice {
		entry.Price = r.Price
	}
	return entry
}

func toPendingRecord(pending *loan.PendingTransfer) *pendingRecord {
	return &pendingRecord{
		ID:            pending.ID,
		Kind:          uint8(pending.Kind),
		Account:       encodeAddr(pending.Account),
		Recipient:     encodeAddr(pending.Recipient),
		Amount:        normalizeBig(pending.Amount),
		Fee:           normalizeBig(pending.Fee),
		SharesPool:    normalizeBig(pending.SharesPool),
		SharesAccount: normalizeBig(pending.SharesAccount),
		Contract:      encodeAddr(pending.Collateral.Contract),
		TokenID:       pending.Collateral.TokenID,
		Price:         normalizeBig(pending.Price),
		HasPrice:      pending.Price != nil,
		FeePercent:    pending.FeePercent,
		Expiry:        pending.Expiry,
		CreatedAt:     pending.CreatedAt,
	}
}

func (r *pendingRecord) toPendingTransfer() *loan.PendingTransfer {
	pending := &loan.PendingTransfer{
		ID:            r.ID,
		Kind:          loan.TransferKind(r.Kind),
		Account:       decodeAddr(r.Account),
		Recipient:     decodeAddr(r.Recipient),
		Amount:        r.Amount,
		Fee:           r.Fee,
		SharesPool:    r.SharesPool,
		SharesAccount: r.SharesAccount,
		Collateral: loan.CollateralID{
			Contract: decodeAddr(r.Contract),
			TokenID:  r.TokenID,
		},
		FeePercent: r.FeePercent,
		Expiry:     r.Expiry,
		CreatedAt:  r.CreatedAt,
	}
	if r.HasPrice {
		pending.Price = r.Price
	}
	return pending
}
