package game

// SelectWinner returns the pick with the strictly greatest return
// percentage. Picks whose return cannot be computed are ignored. Equal
// returns go to the earliest submission, then the lowest pick id.
func SelectWinner(picks []Pick) (Pick, bool) {
	var (
		best    Pick
		bestPct float64
		found   bool
	)
	for _, p := range picks {
		pct := p.ReturnPercentage
		if !usable(pct) {
			entry, cur := EffectivePrices(p.SubmittedPrice, p.CurrentValue, p.Daily)
			pct = ComputeReturn(entry, cur).ReturnPercentage
		}
		if pct == nil {
			continue
		}
		if !found || *pct > bestPct || (*pct == bestPct && submittedBefore(p, best)) {
			best, bestPct, found = p, *pct, true
			best.ReturnPercentage = copyFloat(pct)
		}
	}
	return best, found
}

func submittedBefore(a, b Pick) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
