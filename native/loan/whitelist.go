package loan

import (
	"math/big"

	"pawnpool/crypto"
)

// SetTerms upserts the loan price and fee percent for a collateral contract.
// Owner-only. Setting terms does not by itself enable the contract.
func (e *Engine) SetTerms(caller, contract crypto.Address, price *big.Int, percent uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.owner) {
		return errNotOwner
	}
	if percent < 1 || percent > 50 {
		return errPercentRange
	}
	if price == nil || price.Cmp(big.NewInt(1)) < 0 {
		return errPriceRange
	}

	entry, err := e.state.GetWhitelist(contract)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &WhitelistEntry{Contract: contract}
	}
	entry.Price = new(big.Int).Set(price)
	entry.FeePercent = percent
	entry.HasPercent = true
	if err := e.state.PutWhitelist(entry); err != nil {
		return err
	}

	e.emit(newWhitelistPriceEvent(contract, price, percent))
	return nil
}

// WhitelistAdd enables loans against the contract's tokens. Terms must be set
// separately before the contract becomes eligible.
func (e *Engine) WhitelistAdd(caller, contract crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.owner) {
		return errNotOwner
	}

	entry, err := e.state.GetWhitelist(contract)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &WhitelistEntry{Contract: contract}
	}
	entry.Enabled = true
	if err := e.state.PutWhitelist(entry); err != nil {
		return err
	}

	e.emit(newWhitelistAddEvent(contract))
	return nil
}

// WhitelistRemove disables the contract and clears its terms atomically.
func (e *Engine) WhitelistRemove(caller, contract crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.owner) {
		return errNotOwner
	}
	if err := e.state.DeleteWhitelist(contract); err != nil {
		return err
	}

	e.emit(newWhitelistRemoveEvent(contract))
	return nil
}

// IsEligible reports whether loans may currently be opened against the
// contract: it must be enabled and carry both a price and a fee percent.
func (e *Engine) IsEligible(contract crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	entry, err := e.state.GetWhitelist(contract)
	if err != nil {
		return false, err
	}
	return entry.Eligible(), nil
}

// EligibleContracts lists the contracts that currently pass the eligibility
// check. Terms may have been cleared independently of the enabled flag, so
// both are re-checked.
func (e *Engine) EligibleContracts() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entries, err := e.state.WhitelistEntries()
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(entries))
	for _, entry := range entries {
		if entry.Eligible() {
			out = append(out, entry.Contract)
		}
	}
	return out, nil
}

// Terms returns the configured price and fee percent for the contract.
func (e *Engine) Terms(contract crypto.Address) (*big.Int, uint64, error) {
	if e == nil || e.state == nil {
		return nil, 0, errNilState
	}
	entry, err := e.state.GetWhitelist(contract)
	if err != nil {
		return nil, 0, err
	}
	if entry == nil || entry.Price == nil || !entry.HasPercent {
		return nil, 0, errNoTerms
	}
	return new(big.Int).Set(entry.Price), entry.FeePercent, nil
}
