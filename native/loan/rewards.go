package loan

import "math/big"

// unclaimedReward computes the time-weighted, capped reward accrued by the
// account since its last fold. The truncation order of the APR cap is part of
// the wire-compatible behaviour: divide by 100 first, then by the
// milliseconds in a year, then scale by elapsed time. Do not rearrange.
func unclaimedReward(pool *Pool, acc *Account, now uint64) *big.Int {
	if pool == nil || acc == nil {
		return big.NewInt(0)
	}
	if acc.LastClaimTime == 0 || now <= acc.LastClaimTime {
		return big.NewInt(0)
	}
	if acc.Shares == nil || acc.Shares.Sign() == 0 {
		return big.NewInt(0)
	}
	if acc.Balance == nil || acc.Balance.Sign() == 0 {
		return big.NewInt(0)
	}
	if pool.TotalShares == nil || pool.TotalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	elapsed := new(big.Int).SetUint64(now - acc.LastClaimTime)

	poolShare := new(big.Int).Mul(pool.TotalRewards, acc.Shares)
	poolShare.Quo(poolShare, pool.TotalShares)

	aprCap := new(big.Int).Mul(acc.Balance, big.NewInt(rewardAPRPercent))
	aprCap.Quo(aprCap, oneHundred)
	aprCap.Quo(aprCap, big.NewInt(millisPerYear))
	aprCap.Mul(aprCap, elapsed)

	if poolShare.Cmp(aprCap) > 0 {
		return aprCap
	}
	return poolShare
}

// foldRewards moves the pending accrual into the account's claimed bucket and
// restarts the reward clock. Every balance-affecting operation folds first so
// accrual is never silently skipped across a balance change.
func (e *Engine) foldRewards(pool *Pool, acc *Account) {
	now := e.now()
	accrued := unclaimedReward(pool, acc, now)
	if accrued.Sign() > 0 {
		acc.ClaimedReward = new(big.Int).Add(acc.ClaimedReward, accrued)
	}
	acc.LastClaimTime = now
}
