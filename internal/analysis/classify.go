package analysis

import (
	"math"

	"github.com/blunderlab/blunderlab/internal/models"
)

// Classify tags a move from its centipawn loss and the evaluations around
// it. cpl, evalBefore and evalAfter are centipawns from the moving
// player's perspective; either evaluation may be nil when the engine
// produced no score for that position, in which case only the numeric
// thresholds apply.
//
// Cheap moves are decided on cpl alone. Expensive ones consult the
// surrounding evaluations so that a move which throws away a winning
// position is called a blunder even when the raw loss sits in mistake
// territory, and vice versa a "loss" inside a still-winning position is
// only a mistake.
func Classify(cpl float64, evalBefore, evalAfter *float64) models.Classification {
	loss := math.Abs(cpl)

	switch {
	case loss <= 10:
		return models.ClassBest
	case loss <= 25:
		return models.ClassExcellent
	case loss <= 50:
		return models.ClassGood
	}

	if evalBefore != nil && evalAfter != nil {
		b := *evalBefore / 100
		a := *evalAfter / 100

		switch {
		case b > 1.5 && a < -1.5: // winning to losing
			return models.ClassBlunder
		case math.Abs(b) < 0.5 && a < -2.0: // equal to losing
			return models.ClassBlunder
		case b >= 0.5 && b <= 1.5 && a < -2.0: // slight edge to losing
			return models.ClassBlunder
		}
	}

	if loss >= 300 {
		return models.ClassBlunder
	}

	if evalBefore != nil && evalAfter != nil {
		b := *evalBefore / 100
		a := *evalAfter / 100

		switch {
		case b > 2.0 && a >= -0.5 && a <= 0.5: // winning shrunk to equal
			return models.ClassMistake
		case b > 2.5 && a > 0.5 && a < 1.5: // big edge shrunk to small
			return models.ClassMistake
		}
	}

	if loss >= 150 {
		return models.ClassMistake
	}

	if loss > 50 {
		if evalAfter != nil && *evalAfter/100 <= -1.0 {
			return models.ClassMistake
		}
		return models.ClassInaccuracy
	}

	return models.ClassGood
}
