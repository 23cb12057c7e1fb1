package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type LateFeeMode string

const (
	LateFeeFlat       LateFeeMode = "flat"
	LateFeePercentage LateFeeMode = "percentage"
)

// LatePolicy charges for every started Unit past the rental end. In flat mode each
// unit costs Amount; in percentage mode each unit costs Percent of the rental total.
type LatePolicy struct {
	Mode    LateFeeMode
	Amount  int64
	Percent decimal.Decimal
	Unit    time.Duration
}

func ParseLateFeeMode(s string) LateFeeMode {
	if LateFeeMode(strings.ToLower(s)) == LateFeePercentage {
		return LateFeePercentage
	}
	return LateFeeFlat
}

// OverdueUnits counts the started units between rentalEnd and actualReturn.
func (p LatePolicy) OverdueUnits(rentalEnd, actualReturn time.Time) int64 {
	if !actualReturn.After(rentalEnd) || p.Unit <= 0 {
		return 0
	}
	late := actualReturn.Sub(rentalEnd)
	n := int64(late / p.Unit)
	if late%p.Unit != 0 {
		n++
	}
	return n
}

// LateFee is zero when the return is on time; otherwise units * per-unit fee.
func LateFee(p LatePolicy, rentalEnd time.Time, rentalTotal int64, actualReturn time.Time) int64 {
	units := p.OverdueUnits(rentalEnd, actualReturn)
	if units == 0 {
		return 0
	}
	switch p.Mode {
	case LateFeePercentage:
		perUnit := decimal.NewFromInt(rentalTotal).Mul(p.Percent).Div(decimal.NewFromInt(100))
		return RoundHalfUp(perUnit.Mul(decimal.NewFromInt(units)))
	default:
		return p.Amount * units
	}
}
