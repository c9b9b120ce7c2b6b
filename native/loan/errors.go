package loan

import (
	"errors"
	"fmt"
)

// Taxonomy roots. Every operation failure wraps exactly one of these so
// transport layers can map outcomes without string matching.
var (
	ErrValidation        = errors.New("loan engine: validation failed")
	ErrPermission        = errors.New("loan engine: permission denied")
	ErrInsufficientFunds = errors.New("loan engine: insufficient funds")
	ErrNotFound          = errors.New("loan engine: not found")
	ErrExpired           = errors.New("loan engine: expiry constraint violated")
)

var (
	errNilState     = errors.New("loan engine: state not configured")
	errNilTransfers = errors.New("loan engine: transfer sender not configured")

	errInvalidAmount  = fmt.Errorf("%w: amount must be positive", ErrValidation)
	errLoanActive     = fmt.Errorf("%w: collateral already securing a loan", ErrValidation)
	errNoActiveLoan   = fmt.Errorf("%w: no outstanding loan for collateral", ErrValidation)
	errCloseLoanFirst = fmt.Errorf("%w: close loan first", ErrValidation)
	errWrongPayment   = fmt.Errorf("%w: payment must equal principal plus fee", ErrValidation)
	errPercentRange   = fmt.Errorf("%w: fee percent must be between 1 and 50", ErrValidation)
	errPriceRange     = fmt.Errorf("%w: price must be at least 1", ErrValidation)
	errNoRewards      = fmt.Errorf("%w: no folded rewards to claim", ErrValidation)

	errNotOwner    = fmt.Errorf("%w: caller is not the pool owner", ErrPermission)
	errNotEligible = fmt.Errorf("%w: collateral contract not whitelisted", ErrPermission)

	errAccountBalance = fmt.Errorf("%w: account balance too low", ErrInsufficientFunds)
	errPoolLiquidity  = fmt.Errorf("%w: available pool liquidity too low", ErrInsufficientFunds)
	errRewardsPool    = fmt.Errorf("%w: rewards pool cannot cover claim", ErrInsufficientFunds)

	errNoCustodian    = fmt.Errorf("%w: collateral custodian not recorded", ErrNotFound)
	errNoCollateral   = fmt.Errorf("%w: unknown collateral", ErrNotFound)
	errNoTerms        = fmt.Errorf("%w: loan terms not configured for contract", ErrNotFound)
	errUnknownReceipt = fmt.Errorf("%w: unknown transfer receipt", ErrNotFound)

	errLoanExpired    = fmt.Errorf("%w: repayment window closed", ErrExpired)
	errLoanNotExpired = fmt.Errorf("%w: loan has not expired", ErrExpired)
)
