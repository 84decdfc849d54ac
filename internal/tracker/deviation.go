package tracker

import "math"

// DeviationTolerance is the relative gap between measured and planned
// quantity above which a step is flagged. Exactly 5% is not flagged.
const DeviationTolerance = 0.05

// boundarySlack absorbs binary rounding of decimal weights so a gap of
// exactly DeviationTolerance stays unflagged at any scale.
const boundarySlack = 1e-9

// Deviation returns the signed deviation of measured from planned in percent
// and whether it exceeds DeviationTolerance. Steps with no planned quantity
// have no deviation and are never flagged.
func Deviation(measured, planned float64) (*float64, bool) {
	if planned <= 0 {
		return nil, false
	}
	gap := measured - planned
	pct := gap / planned * 100
	return &pct, math.Abs(gap) > DeviationTolerance*planned*(1+boundarySlack)
}
