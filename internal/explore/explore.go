// Package explore anneals the exploration-noise magnitude from training progress.
package explore

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// steepMult sharpens the logistic curve so the transition happens near
	// the midpoint of [0, annealMax] rather than linearly across it.
	steepMult = 8.0

	// ScoreWindow caps how many trailing episode scores form the running average.
	ScoreWindow = 50
)

// Rate returns the exploration magnitude for the given running-average score.
// It rolls off from eStart at low scores to eMin once avgScore reaches annealMax.
func Rate(avgScore, eMin, eStart, annealMax float64) float64 {
	x := math.Max(0, math.Min(avgScore, annealMax))

	steepness := steepMult / annealMax
	offset := annealMax / 2
	span := eStart - eMin

	return eMin + span/(1+math.Exp(steepness*(x-offset)))
}

// RunningAverage is the mean of the last min(len(scores), ScoreWindow) scores.
func RunningAverage(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	return stat.Mean(scores[max(0, len(scores)-ScoreWindow):], nil)
}
