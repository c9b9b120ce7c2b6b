package loan

import (
	"context"
	"math/big"

	"pawnpool/crypto"
)

// engineState is the persistence surface the engine mutates. Get methods
// return (nil, nil) when no record exists so callers can lazily create
// entries.
type engineState interface {
	GetPool() (*Pool, error)
	PutPool(*Pool) error

	GetAccount(addr crypto.Address) (*Account, error)
	PutAccount(*Account) error

	GetCollateral(id CollateralID) (*Collateral, error)
	PutCollateral(*Collateral) error
	DeleteCollateral(id CollateralID) error
	ActiveLoanCount() (uint64, error)

	CustodianAdd(addr crypto.Address, id CollateralID) error
	CustodianRemove(addr crypto.Address, id CollateralID) error
	CustodianCollateral(addr crypto.Address) ([]CollateralID, error)

	GetWhitelist(contract crypto.Address) (*WhitelistEntry, error)
	PutWhitelist(*WhitelistEntry) error
	DeleteWhitelist(contract crypto.Address) error
	WhitelistEntries() ([]*WhitelistEntry, error)

	PendingPut(*PendingTransfer) error
	PendingGet(id string) (*PendingTransfer, error)
	PendingDelete(id string) error
}

// TransferSender hands value and custody movements to the external custody
// collaborator. Calls only enqueue the transfer; the outcome arrives later
// through Engine.ResolveTransfer keyed by the receipt identifier.
type TransferSender interface {
	SendValue(ctx context.Context, receiptID string, to crypto.Address, amount *big.Int) error
	SendToken(ctx context.Context, receiptID string, contract crypto.Address, tokenID string, to crypto.Address) error
}
