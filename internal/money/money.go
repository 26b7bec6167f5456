package money

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.French)

// Format renders an amount stored in minor units (cents) with grouping,
// e.g. 25000050 -> "250 000,50". Only the whole part goes through the
// locale printer, so no amount loses precision.
func Format(minor int64) string {
	abs := decimal.New(minor, -2).Abs()
	fixed := abs.StringFixed(2)

	sign := ""
	if minor < 0 {
		sign = "-"
	}

	return sign + printer.Sprintf("%d", abs.IntPart()) + "," + fixed[len(fixed)-2:]
}

// Split distributes total across weights proportionally. Every share is
// rounded down to a whole minor unit and the remainder goes to the last share,
// so the result always sums to total.
func Split(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if len(weights) == 0 {
		return shares
	}

	var sum int64
	for _, w := range weights {
		sum += w
	}

	if sum == 0 {
		return shares
	}

	var (
		t         = decimal.NewFromInt(total)
		s         = decimal.NewFromInt(sum)
		allocated int64
	)

	for i, w := range weights[:len(weights)-1] {
		share := t.Mul(decimal.NewFromInt(w)).Div(s).Floor().IntPart()
		shares[i] = share
		allocated += share
	}

	shares[len(shares)-1] = total - allocated

	return shares
}
