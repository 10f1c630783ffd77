package forecast

import "math"

// Confidence is a heuristic reliability label.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// LinearRegression returns the least-squares slope of ys against their
// index. Fewer than two points yield 0.
func LinearRegression(ys []float64) float64 {
	n := float64(len(ys))
	if len(ys) < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	den := n*sumX2 - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// PercentageChange is (cur-old)/old*100. A zero old value maps to 100 when
// cur is positive and to 0 otherwise.
func PercentageChange(old, cur float64) float64 {
	if old == 0 {
		if cur > 0 {
			return 100
		}
		return 0
	}
	return (cur - old) / old * 100
}

// CoefficientOfVariation is the population standard deviation of ys over
// their mean. ok is false when it is undefined.
func CoefficientOfVariation(ys []float64) (cv float64, ok bool) {
	if len(ys) == 0 {
		return 0, false
	}
	var sum float64
	for _, y := range ys {
		sum += y
	}
	mean := sum / float64(len(ys))
	if mean == 0 {
		return 0, false
	}
	var sq float64
	for _, y := range ys {
		sq += (y - mean) * (y - mean)
	}
	return math.Sqrt(sq/float64(len(ys))) / mean, true
}

// weeklyConfidence grades weekly order counts by their coefficient of variation.
func weeklyConfidence(orders []float64) Confidence {
	if len(orders) < 2 {
		return ConfidenceLow
	}
	cv, ok := CoefficientOfVariation(orders)
	switch {
	case !ok:
		return ConfidenceLow
	case cv < 0.5:
		return ConfidenceHigh
	case cv < 1.0:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func productConfidence(views int64) Confidence {
	switch {
	case views < 5:
		return ConfidenceLow
	case views < 20:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
