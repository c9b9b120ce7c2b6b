package loan

import (
	"errors"
	"math/big"
	"testing"
)

func TestSetTermsValidation(t *testing.T) {
	env := newTestEnv(t)
	contract := makeAddress(0x30)
	stranger := makeAddress(0x02)

	if err := env.engine.SetTerms(stranger, contract, big.NewInt(100), 10); !errors.Is(err, ErrPermission) {
		t.Fatalf("set terms by stranger: got %v, want permission error", err)
	}
	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(100), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero percent: got %v, want validation error", err)
	}
	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(100), 51); !errors.Is(err, ErrValidation) {
		t.Fatalf("percent above 50: got %v, want validation error", err)
	}
	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(0), 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero price: got %v, want validation error", err)
	}
	if err := env.engine.SetTerms(env.owner, contract, nil, 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil price: got %v, want validation error", err)
	}

	// Both percent bounds are inclusive.
	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(1), 1); err != nil {
		t.Fatalf("minimum terms: %v", err)
	}
	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(1), 50); err != nil {
		t.Fatalf("maximum percent: %v", err)
	}
}

func TestEligibilityNeedsTermsAndEnable(t *testing.T) {
	env := newTestEnv(t)
	contract := makeAddress(0x30)

	eligible, err := env.engine.IsEligible(contract)
	if err != nil {
		t.Fatalf("eligibility of unknown contract: %v", err)
	}
	if eligible {
		t.Fatal("unknown contract reported eligible")
	}

	if err := env.engine.WhitelistAdd(env.owner, contract); err != nil {
		t.Fatalf("whitelist add: %v", err)
	}
	eligible, err = env.engine.IsEligible(contract)
	if err != nil {
		t.Fatalf("eligibility without terms: %v", err)
	}
	if eligible {
		t.Fatal("contract without terms reported eligible")
	}

	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(500), 15); err != nil {
		t.Fatalf("set terms: %v", err)
	}
	eligible, err = env.engine.IsEligible(contract)
	if err != nil {
		t.Fatalf("eligibility with full setup: %v", err)
	}
	if !eligible {
		t.Fatal("enabled contract with terms reported ineligible")
	}

	price, percent, err := env.engine.Terms(contract)
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	requireBig(t, price, 500, "configured price")
	if percent != 15 {
		t.Fatalf("configured percent: got %d, want 15", percent)
	}
}

func TestWhitelistRemoveClearsTerms(t *testing.T) {
	env := newTestEnv(t)
	contract := makeAddress(0x30)
	stranger := makeAddress(0x02)

	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(500), 15); err != nil {
		t.Fatalf("set terms: %v", err)
	}
	if err := env.engine.WhitelistAdd(env.owner, contract); err != nil {
		t.Fatalf("whitelist add: %v", err)
	}
	if err := env.engine.WhitelistRemove(stranger, contract); !errors.Is(err, ErrPermission) {
		t.Fatalf("remove by stranger: got %v, want permission error", err)
	}
	if err := env.engine.WhitelistRemove(env.owner, contract); err != nil {
		t.Fatalf("whitelist remove: %v", err)
	}

	eligible, err := env.engine.IsEligible(contract)
	if err != nil {
		t.Fatalf("eligibility after removal: %v", err)
	}
	if eligible {
		t.Fatal("removed contract reported eligible")
	}
	if _, _, err := env.engine.Terms(contract); !errors.Is(err, ErrNotFound) {
		t.Fatalf("terms after removal: got %v, want not found", err)
	}
}

func TestEligibleContractsListsOnlyComplete(t *testing.T) {
	env := newTestEnv(t)
	full := makeAddress(0x30)
	enabledOnly := makeAddress(0x31)
	termsOnly := makeAddress(0x32)

	if err := env.engine.SetTerms(env.owner, full, big.NewInt(100), 10); err != nil {
		t.Fatalf("set terms: %v", err)
	}
	if err := env.engine.WhitelistAdd(env.owner, full); err != nil {
		t.Fatalf("whitelist add: %v", err)
	}
	if err := env.engine.WhitelistAdd(env.owner, enabledOnly); err != nil {
		t.Fatalf("whitelist add: %v", err)
	}
	if err := env.engine.SetTerms(env.owner, termsOnly, big.NewInt(100), 10); err != nil {
		t.Fatalf("set terms: %v", err)
	}

	contracts, err := env.engine.EligibleContracts()
	if err != nil {
		t.Fatalf("eligible contracts: %v", err)
	}
	if len(contracts) != 1 {
		t.Fatalf("eligible contracts: got %d, want 1", len(contracts))
	}
	if !contracts[0].Equal(full) {
		t.Fatalf("eligible contract: got %s, want %s", contracts[0], full)
	}
}
