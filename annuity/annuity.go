// Package annuity converts upfront capital costs into equivalent annual payments.
package annuity

import (
	"log"
	"math"
)

// Payment returns the constant per-period payment that amortizes pv over
// periods at the given discount rate.
//
// Invalid input (periods <= 0 or a NaN argument) does not fail: a warning is
// logged and 0 is returned, meaning "no annualized cost".
func Payment(rate float64, periods int, pv float64, logger *log.Logger) float64 {
	if logger == nil {
		logger = log.Default()
	}

	if periods <= 0 || math.IsNaN(rate) || math.IsNaN(pv) {
		logger.Printf("Warning: annuity undefined for rate=%v periods=%d pv=%v, using 0", rate, periods, pv)
		return 0
	}

	if rate == 0 {
		return pv / float64(periods)
	}

	factor := 1 - math.Pow(1+rate, -float64(periods))
	if factor == 0 || math.IsInf(factor, 0) || math.IsNaN(factor) {
		logger.Printf("Warning: annuity factor degenerate for rate=%v periods=%d, using 0", rate, periods)
		return 0
	}

	return pv * rate / factor
}

// CapitalCost returns the annualized capital cost attribute of a component:
// the magnitude of the annuity over its lifetime plus the fixed operating cost.
func CapitalCost(rate float64, lifetime int, capex, fom float64, logger *log.Logger) float64 {
	return math.Abs(Payment(rate, lifetime, capex, logger)) + fom
}
