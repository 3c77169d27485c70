package allocation

import (
	"sort"

	"github.com/shopspring/decimal"
)

var cent = decimal.New(1, -2)

// RoundShares rounds each share to cents so that the rounded values add up
// to total. Shares are floored first and the missing cents go to the shares
// with the largest dropped remainder. Surplus cents are taken back from the
// shares with the smallest remainder.
func RoundShares(shares []decimal.Decimal, total decimal.Decimal) []decimal.Decimal {
	if len(shares) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, len(shares))
	rest := make([]decimal.Decimal, len(shares))
	sum := decimal.Zero
	for i, s := range shares {
		out[i] = s.RoundFloor(2)
		rest[i] = s.Sub(out[i])
		sum = sum.Add(out[i])
	}

	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rest[order[a]].GreaterThan(rest[order[b]])
	})

	missing := total.Round(2).Sub(sum).Div(cent).IntPart()
	for i := 0; missing > 0; i = (i + 1) % len(order) {
		out[order[i]] = out[order[i]].Add(cent)
		missing--
	}
	for i := len(order) - 1; missing < 0; i-- {
		if i < 0 {
			i = len(order) - 1
		}
		out[order[i]] = out[order[i]].Sub(cent)
		missing++
	}
	return out
}
