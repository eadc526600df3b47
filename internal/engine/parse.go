package engine

import (
	"strconv"
	"strings"
)

// Score is a UCI score from the point of view of the side to move.
type Score struct {
	CP     int
	Mate   int
	IsMate bool
}

// mateBase is the centipawn value a mate-in-0 folds to. Each ply of
// distance to mate shaves 100 off so nearer mates score higher.
const mateBase = 10_000

// Centipawns folds mate scores into the centipawn scale so evals can be
// compared and stored uniformly. Mate in N for the side to move becomes
// +(10000 - 100*N); being mated becomes the negation. Mate 0 means the
// side to move is already mated.
func (s Score) Centipawns() float64 {
	if !s.IsMate {
		return float64(s.CP)
	}
	n := s.Mate
	if n >= 0 {
		v := mateBase - 100*n
		if n == 0 {
			return -mateBase
		}
		return float64(v)
	}
	return float64(-(mateBase - 100*(-n)))
}

// Pawns is Centipawns scaled to pawn units.
func (s Score) Pawns() float64 { return s.Centipawns() / 100 }

// Line is one principal variation reported by the engine.
type Line struct {
	PV    []string
	Score Score
	Depth int
}

// BestMove returns the first move of the variation, or "" for a
// terminal position.
func (l Line) BestMove() string {
	if len(l.PV) == 0 {
		return ""
	}
	return l.PV[0]
}

type infoLine struct {
	multiPV int
	depth   int
	score   Score
	pv      []string
}

// parseInfo extracts depth, multipv, score and pv from a UCI info line.
// Lines without a score (currmove chatter, string lines) are rejected.
func parseInfo(line string) (infoLine, bool) {
	if !strings.HasPrefix(line, "info ") {
		return infoLine{}, false
	}
	fields := strings.Fields(line)

	info := infoLine{multiPV: 1}
	haveScore := false

	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				info.depth, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "multipv":
			if i+1 < len(fields) {
				info.multiPV, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "score":
			if i+2 >= len(fields) {
				return infoLine{}, false
			}
			n, err := strconv.Atoi(fields[i+2])
			if err != nil {
				return infoLine{}, false
			}
			switch fields[i+1] {
			case "cp":
				info.score = Score{CP: n}
			case "mate":
				info.score = Score{Mate: n, IsMate: true}
			default:
				return infoLine{}, false
			}
			haveScore = true
			i += 2
		case "string":
			// Free-form engine chatter, never a search result.
			return infoLine{}, false
		case "pv":
			info.pv = fields[i+1:]
			i = len(fields)
		}
	}

	if !haveScore {
		return infoLine{}, false
	}
	return info, true
}
