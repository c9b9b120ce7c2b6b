package loan

import (
	"math/big"
	"strconv"

	"pawnpool/core/events"
	"pawnpool/crypto"
)

const (
	EventTypeDeposit          = "loan.ft.deposit"
	EventTypeWithdraw         = "loan.ft.withdraw"
	EventTypeClaimRewards     = "loan.ft.claim_rewards"
	EventTypeLoanOpened       = "loan.opened"
	EventTypeLoanPaid         = "loan.paid"
	EventTypeLoanClaimed      = "loan.claimed"
	EventTypeClaimExpired     = "loan.claim_expired"
	EventTypeWhitelistPrice   = "loan.whitelist.price_updated"
	EventTypeWhitelistAdded   = "loan.whitelist.added"
	EventTypeWhitelistRemoved = "loan.whitelist.removed"
)

func newDepositEvent(account crypto.Address, amount *big.Int) *events.Event {
	return newLedgerEvent(EventTypeDeposit, account, amount)
}

func newWithdrawEvent(account crypto.Address, amount *big.Int) *events.Event {
	return newLedgerEvent(EventTypeWithdraw, account, amount)
}

func newClaimRewardsEvent(account crypto.Address, amount *big.Int) *events.Event {
	return newLedgerEvent(EventTypeClaimRewards, account, amount)
}

func newLedgerEvent(eventType string, account crypto.Address, amount *big.Int) *events.Event {
	attrs := map[string]string{
		"account": account.String(),
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}

func newLoanOpenedEvent(borrower crypto.Address, id CollateralID, amount, price *big.Int, feePercent uint64, expiry uint64) *events.Event {
	attrs := collateralAttrs(borrower, id)
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	if price != nil {
		attrs["price"] = price.String()
	}
	attrs["feePercent"] = strconv.FormatUint(feePercent, 10)
	attrs["expiry"] = strconv.FormatUint(expiry, 10)
	return &events.Event{Type: EventTypeLoanOpened, Attributes: attrs}
}

func newLoanPaidEvent(payer crypto.Address, id CollateralID, principal, fee *big.Int) *events.Event {
	attrs := collateralAttrs(payer, id)
	if principal != nil {
		attrs["principal"] = principal.String()
	}
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	return &events.Event{Type: EventTypeLoanPaid, Attributes: attrs}
}

func newLoanClaimedEvent(custodian crypto.Address, id CollateralID) *events.Event {
	return &events.Event{Type: EventTypeLoanClaimed, Attributes: collateralAttrs(custodian, id)}
}

func newClaimExpiredEvent(borrower crypto.Address, id CollateralID) *events.Event {
	return &events.Event{Type: EventTypeClaimExpired, Attributes: collateralAttrs(borrower, id)}
}

func collateralAttrs(account crypto.Address, id CollateralID) map[string]string {
	return map[string]string{
		"account":  account.String(),
		"contract": id.Contract.String(),
		"tokenId":  id.TokenID,
	}
}

func newWhitelistPriceEvent(contract crypto.Address, price *big.Int, percent uint64) *events.Event {
	attrs := map[string]string{
		"contract":   contract.String(),
		"feePercent": strconv.FormatUint(percent, 10),
	}
	if price != nil {
		attrs["price"] = price.String()
	}
	return &events.Event{Type: EventTypeWhitelistPrice, Attributes: attrs}
}

func newWhitelistAddEvent(contract crypto.Address) *events.Event {
	return &events.Event{Type: EventTypeWhitelistAdded, Attributes: map[string]string{
		"contract": contract.String(),
	}}
}

func newWhitelistRemoveEvent(contract crypto.Address) *events.Event {
	return &events.Event{Type: EventTypeWhitelistRemoved, Attributes: map[string]string{
		"contract": contract.String(),
	}}
}
