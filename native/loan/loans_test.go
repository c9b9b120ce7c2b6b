package loan

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"pawnpool/crypto"
)

// whitelistContract enables a collateral contract with the given terms and
// seeds pool liquidity from a dedicated lender.
func (env *testEnv) whitelistContract(t *testing.T, contractLast byte, price int64, percent uint64, liquidity int64) CollateralID {
	t.Helper()
	contract := makeAddress(contractLast)
	if err := env.engine.SetTerms(env.owner, contract, big.NewInt(price), percent); err != nil {
		t.Fatalf("set terms: %v", err)
	}
	if err := env.engine.WhitelistAdd(env.owner, contract); err != nil {
		t.Fatalf("whitelist add: %v", err)
	}
	if liquidity > 0 {
		lender := makeAddress(0x77)
		if _, err := env.engine.Deposit(context.Background(), lender, big.NewInt(liquidity)); err != nil {
			t.Fatalf("seed liquidity: %v", err)
		}
		env.resolveLast(t, true)
	}
	return CollateralID{Contract: contract, TokenID: "token-1"}
}

// openBookedLoan drives a loan open through both transfer legs: custody-in
// confirmed, payout confirmed.
func (env *testEnv) openBookedLoan(t *testing.T, borrower crypto.Address, id CollateralID) {
	t.Helper()
	if err := env.engine.OpenLoan(context.Background(), borrower, id); err != nil {
		t.Fatalf("open loan: %v", err)
	}
	env.resolveLast(t, true) // custody-in, enqueues the payout leg
	env.resolveLast(t, true) // payout
}

func TestOpenLoanBooksPrincipalAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)

	opened := env.now
	env.openBookedLoan(t, bob, id)

	// loan amount = 10_000 * (100-20) / 100
	borrowed, err := env.engine.BorrowedOf(bob)
	if err != nil {
		t.Fatalf("borrowed of bob: %v", err)
	}
	requireBig(t, borrowed, 8000, "borrowed principal")

	view, err := env.engine.LoanByID(id)
	if err != nil {
		t.Fatalf("loan by id: %v", err)
	}
	requireBig(t, view.Principal, 8000, "loan view principal")
	if view.ExpiresAt != opened+loanTermMillis {
		t.Fatalf("loan expiry: got %d, want %d", view.ExpiresAt, opened+loanTermMillis)
	}
	if view.StartedAt != opened {
		t.Fatalf("loan start: got %d, want %d", view.StartedAt, opened)
	}
	if view.Expired {
		t.Fatal("fresh loan reported expired")
	}
	if view.Custodian != bob.String() {
		t.Fatalf("custodian: got %s, want %s", view.Custodian, bob)
	}

	count, err := env.engine.ActiveLoanCount()
	if err != nil {
		t.Fatalf("active loan count: %v", err)
	}
	if count != 1 {
		t.Fatalf("active loan count: got %d, want 1", count)
	}

	pool, err := env.engine.PoolTotals()
	if err != nil {
		t.Fatalf("pool totals: %v", err)
	}
	requireBig(t, pool.TotalLoan, 8000, "pool total loan")
}

func TestOpenLoanRequiresEligibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	contract := makeAddress(0x30)
	id := CollateralID{Contract: contract, TokenID: "token-1"}

	if err := env.engine.OpenLoan(ctx, bob, id); !errors.Is(err, ErrPermission) {
		t.Fatalf("open against unknown contract: got %v, want permission error", err)
	}

	// Enabled without terms is still ineligible.
	if err := env.engine.WhitelistAdd(env.owner, contract); err != nil {
		t.Fatalf("whitelist add: %v", err)
	}
	if err := env.engine.OpenLoan(ctx, bob, id); !errors.Is(err, ErrPermission) {
		t.Fatalf("open without terms: got %v, want permission error", err)
	}
}

func TestOpenLoanRejectsSecondActiveLoan(t *testing.T) {
	env := newTestEnv(t)
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	env.openBookedLoan(t, bob, id)

	if err := env.engine.OpenLoan(context.Background(), bob, id); !errors.Is(err, ErrValidation) {
		t.Fatalf("second open: got %v, want validation error", err)
	}
}

func TestOpenLoanRequiresLiquidity(t *testing.T) {
	env := newTestEnv(t)
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 5000)

	if err := env.engine.OpenLoan(context.Background(), bob, id); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("open beyond liquidity: got %v, want insufficient funds", err)
	}
}

func TestOpenLoanCustodyFailureRevertsAssignment(t *testing.T) {
	env := newTestEnv(t)
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)

	if err := env.engine.OpenLoan(context.Background(), bob, id); err != nil {
		t.Fatalf("open loan: %v", err)
	}
	env.resolveLast(t, false)

	if _, err := env.engine.LoanByID(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("loan after failed custody: got %v, want not found", err)
	}
	views, err := env.engine.LoansByCustodian(bob, 0, 0)
	if err != nil {
		t.Fatalf("loans by custodian: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("custodian index after failed custody: %d entries", len(views))
	}
	borrowed, err := env.engine.BorrowedOf(bob)
	if err != nil {
		t.Fatalf("borrowed of bob: %v", err)
	}
	requireBig(t, borrowed, 0, "borrowed after failed custody")
}

func TestPayoutFailureUnwindsDebtButKeepsCustody(t *testing.T) {
	env := newTestEnv(t)
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)

	if err := env.engine.OpenLoan(context.Background(), bob, id); err != nil {
		t.Fatalf("open loan: %v", err)
	}
	env.resolveLast(t, true)  // custody confirmed
	env.resolveLast(t, false) // payout failed

	borrowed, err := env.engine.BorrowedOf(bob)
	if err != nil {
		t.Fatalf("borrowed of bob: %v", err)
	}
	requireBig(t, borrowed, 0, "borrowed after failed payout")
	pool, err := env.engine.PoolTotals()
	if err != nil {
		t.Fatalf("pool totals: %v", err)
	}
	requireBig(t, pool.TotalLoan, 0, "pool loans after failed payout")

	// Custody stays with the pool: the confirmed token transfer is not
	// reversed, only the booked debt.
	view, err := env.engine.LoanByID(id)
	if err != nil {
		t.Fatalf("loan by id: %v", err)
	}
	requireBig(t, view.Principal, 0, "principal after failed payout")
	if view.Custodian != bob.String() {
		t.Fatalf("custodian after failed payout: got %s, want %s", view.Custodian, bob)
	}
	if view.ExpiresAt != 0 {
		t.Fatalf("expiry after failed payout: got %d, want 0", view.ExpiresAt)
	}
}

func TestRepayDemandsExactPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	env.openBookedLoan(t, bob, id)

	// principal 8000, commission 9% of principal = 720
	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8719)); !errors.Is(err, ErrValidation) {
		t.Fatalf("underpayment: got %v, want validation error", err)
	}
	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8721)); !errors.Is(err, ErrValidation) {
		t.Fatalf("overpayment: got %v, want validation error", err)
	}
	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8720)); err != nil {
		t.Fatalf("exact repayment: %v", err)
	}
}

func TestRepayLegMovesPrincipalPlusFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	env.openBookedLoan(t, bob, id)

	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8720)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	sent := env.sender.sent
	repayLeg := sent[len(sent)-2]
	if !repayLeg.value {
		t.Fatalf("expected a value leg for the repayment")
	}
	if !repayLeg.to.Equal(env.vault) {
		t.Fatalf("repay leg recipient: got %s, want %s", repayLeg.to, env.vault)
	}
	requireBig(t, repayLeg.amount, 8720, "repay leg amount")
}

func TestRepayAndClaimClosesLoan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	env.openBookedLoan(t, bob, id)

	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8720)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	// Repay enqueues the payment confirmation, then chains the collateral
	// return.
	sent := env.sender.sent
	repayReceipt := sent[len(sent)-2].id
	claimReceipt := sent[len(sent)-1].id
	if err := env.engine.ResolveTransfer(ctx, repayReceipt, true); err != nil {
		t.Fatalf("resolve repay: %v", err)
	}
	if err := env.engine.ResolveTransfer(ctx, claimReceipt, true); err != nil {
		t.Fatalf("resolve claim: %v", err)
	}

	if _, err := env.engine.LoanByID(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("loan after close: got %v, want not found", err)
	}
	count, err := env.engine.ActiveLoanCount()
	if err != nil {
		t.Fatalf("active loan count: %v", err)
	}
	if count != 0 {
		t.Fatalf("active loan count after close: got %d, want 0", count)
	}
	borrowed, err := env.engine.BorrowedOf(bob)
	if err != nil {
		t.Fatalf("borrowed of bob: %v", err)
	}
	requireBig(t, borrowed, 0, "borrowed after close")
	pool, err := env.engine.PoolTotals()
	if err != nil {
		t.Fatalf("pool totals: %v", err)
	}
	requireBig(t, pool.TotalLoan, 0, "pool loans after close")
	requireBig(t, pool.TotalRewards, 720, "fee folded into rewards")
}

func TestRepayFailureRestoresLoanState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	env.openBookedLoan(t, bob, id)

	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8720)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	sent := env.sender.sent
	repayReceipt := sent[len(sent)-2].id
	if err := env.engine.ResolveTransfer(ctx, repayReceipt, false); err != nil {
		t.Fatalf("resolve repay failure: %v", err)
	}

	view, err := env.engine.LoanByID(id)
	if err != nil {
		t.Fatalf("loan by id: %v", err)
	}
	requireBig(t, view.Principal, 8000, "principal restored")
	borrowed, err := env.engine.BorrowedOf(bob)
	if err != nil {
		t.Fatalf("borrowed of bob: %v", err)
	}
	requireBig(t, borrowed, 8000, "borrowed restored")
	pool, err := env.engine.PoolTotals()
	if err != nil {
		t.Fatalf("pool totals: %v", err)
	}
	requireBig(t, pool.TotalLoan, 8000, "pool loans restored")
	requireBig(t, pool.TotalRewards, 0, "fee reversed")
}

func TestRepayWindowClosesAtExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	opened := env.now
	env.openBookedLoan(t, bob, id)

	env.now = opened + loanTermMillis
	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8720)); !errors.Is(err, ErrExpired) {
		t.Fatalf("repay at expiry: got %v, want expiry error", err)
	}

	env.now = opened + loanTermMillis - 1
	if err := env.engine.Repay(ctx, bob, id, big.NewInt(8720)); err != nil {
		t.Fatalf("repay just before expiry: %v", err)
	}
}

func TestReopenAfterSeizureClearsOldCustodyIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	carol := makeAddress(0x03)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	opened := env.now
	env.openBookedLoan(t, bob, id)

	env.now = opened + loanTermMillis
	if err := env.engine.SeizeExpired(carol, id); err != nil {
		t.Fatalf("seize: %v", err)
	}

	if err := env.engine.OpenLoan(ctx, carol, id); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	env.resolveLast(t, true)
	env.resolveLast(t, true)

	views, err := env.engine.LoansByCustodian(env.owner, 0, 0)
	if err != nil {
		t.Fatalf("loans by owner: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("owner custody entries after reopen: got %d, want 0", len(views))
	}
	views, err = env.engine.LoansByCustodian(carol, 0, 0)
	if err != nil {
		t.Fatalf("loans by carol: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("carol custody entries: got %d, want 1", len(views))
	}
	if views[0].Custodian != carol.String() {
		t.Fatalf("custodian after reopen: got %s, want %s", views[0].Custodian, carol)
	}
}

func TestSeizeExpiredTransfersCustodyToOwner(t *testing.T) {
	env := newTestEnv(t)
	bob := makeAddress(0x02)
	keeper := makeAddress(0x55)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	opened := env.now
	env.openBookedLoan(t, bob, id)

	if err := env.engine.SeizeExpired(keeper, id); !errors.Is(err, ErrExpired) {
		t.Fatalf("seize before expiry: got %v, want expiry error", err)
	}

	env.now = opened + loanTermMillis
	if err := env.engine.SeizeExpired(keeper, id); err != nil {
		t.Fatalf("seize at expiry: %v", err)
	}

	view, err := env.engine.LoanByID(id)
	if err != nil {
		t.Fatalf("loan by id: %v", err)
	}
	if view.Custodian != env.owner.String() {
		t.Fatalf("custodian after seize: got %s, want owner %s", view.Custodian, env.owner)
	}
	requireBig(t, view.Principal, 0, "principal after seize")

	borrowed, err := env.engine.BorrowedOf(bob)
	if err != nil {
		t.Fatalf("borrowed of bob: %v", err)
	}
	requireBig(t, borrowed, 0, "debt written off")
	pool, err := env.engine.PoolTotals()
	if err != nil {
		t.Fatalf("pool totals: %v", err)
	}
	requireBig(t, pool.TotalLoan, 0, "pool loans written off")

	views, err := env.engine.LoansByCustodian(env.owner, 0, 0)
	if err != nil {
		t.Fatalf("loans by custodian: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("owner custody entries: got %d, want 1", len(views))
	}
	views, err = env.engine.LoansByCustodian(bob, 0, 0)
	if err != nil {
		t.Fatalf("loans by custodian: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("borrower custody entries after seize: got %d, want 0", len(views))
	}
}

func TestSeizeRestrictedToOwner(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetRestrictSeize(true)
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)
	opened := env.now
	env.openBookedLoan(t, bob, id)
	env.now = opened + loanTermMillis

	if err := env.engine.SeizeExpired(bob, id); !errors.Is(err, ErrPermission) {
		t.Fatalf("restricted seize by borrower: got %v, want permission error", err)
	}
	if err := env.engine.SeizeExpired(env.owner, id); err != nil {
		t.Fatalf("restricted seize by owner: %v", err)
	}
}

func TestClaimRequiresClosedLoan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	id := env.whitelistContract(t, 0x30, 10_000, 20, 1_000_000)

	if err := env.engine.Claim(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim unknown collateral: got %v, want not found", err)
	}

	env.openBookedLoan(t, bob, id)
	if err := env.engine.Claim(ctx, id); !errors.Is(err, ErrValidation) {
		t.Fatalf("claim with open loan: got %v, want validation error", err)
	}
}

func TestRepayRequiresActiveLoan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := makeAddress(0x02)
	id := makeCollateral(0x30, "token-1")

	if err := env.engine.Repay(ctx, bob, id, big.NewInt(100)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("repay unknown collateral: got %v, want not found", err)
	}
}
