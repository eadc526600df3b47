package analysis

// GamePhase labels where in a game a given ply falls.
type GamePhase string

const (
	PhaseOpening    GamePhase = "opening"
	PhaseMiddlegame GamePhase = "middlegame"
	PhaseEndgame    GamePhase = "endgame"
)

// Phase maps a 0-based ply index to a game phase. The first twenty plies
// are the opening; the endgame starts at ply forty or, for long games,
// in the final thirty percent, whichever comes first.
func Phase(halfMove, totalPlies int) GamePhase {
	if halfMove < 20 {
		return PhaseOpening
	}
	if halfMove >= 40 {
		return PhaseEndgame
	}
	if totalPlies > 0 && float64(halfMove) >= 0.7*float64(totalPlies) {
		return PhaseEndgame
	}
	return PhaseMiddlegame
}
