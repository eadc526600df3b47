// Package analysis walks a parsed game through a UCI engine and turns raw
// evaluations into per-move records and aggregate statistics.
package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/notnil/chess"
	"github.com/notnil/chess/opening"
	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/models"
)

// Evaluator is the engine surface the analyzer needs. *engine.Engine
// satisfies it; tests script one, and the worker layers an eval cache
// over the real engine behind the same interface.
type Evaluator interface {
	Analyse(ctx context.Context, fen string, limit engine.Limit, k int) ([]engine.Line, error)
}

// MoveAnalysis is the analysis of a single played move. Evaluations are
// centipawns from the moving player's perspective.
type MoveAnalysis struct {
	HalfMove       int
	MoveNumber     int
	IsWhite        bool
	SAN            string
	UCI            string
	EvalBefore     *float64
	EvalAfter      *float64
	BestMoveUCI    string
	Classification models.Classification
	CentipawnLoss  *float64
	Phase          GamePhase
}

// Stats aggregates a game's analysis over the moves of one side.
type Stats struct {
	NumMoves        int
	AverageCPL      float64
	Accuracy        float64
	NumBlunders     int
	NumMistakes     int
	NumInaccuracies int
}

// Result is a fully analyzed game.
type Result struct {
	Moves       []MoveAnalysis
	Stats       Stats
	OpeningCode string
	OpeningName string
}

// Analyzer drives an Evaluator over every position of a game.
type Analyzer struct {
	ev    Evaluator
	limit engine.Limit
	book  *opening.BookECO
	log   *logrus.Entry
}

// New builds an Analyzer searching each position at the given limit.
func New(ev Evaluator, limit engine.Limit) *Analyzer {
	return &Analyzer{
		ev:    ev,
		limit: limit,
		book:  opening.NewBookECO(),
		log:   logrus.WithField("component", "analyzer"),
	}
}

// AnalyzeGame parses the PGN and evaluates every position exactly once.
// With n moves there are n+1 positions and n+1 engine calls; move i reads
// its before-eval from position i and its after-eval from position i+1.
// Statistics count only the moves played by userColor.
//
// On context cancellation the partial work is discarded and ctx.Err()
// is returned.
func (a *Analyzer) AnalyzeGame(ctx context.Context, pgn string, userColor models.Color) (*Result, error) {
	game, err := parsePGN(pgn)
	if err != nil {
		return nil, err
	}

	moves := game.Moves()
	positions := game.Positions()
	if len(moves) == 0 {
		return nil, fmt.Errorf("game has no moves")
	}
	if len(positions) != len(moves)+1 {
		return nil, fmt.Errorf("inconsistent game: %d positions for %d moves", len(positions), len(moves))
	}

	res := &Result{Moves: make([]MoveAnalysis, 0, len(moves))}
	res.OpeningCode, res.OpeningName = a.openingFor(game, moves)

	evals := make([]float64, len(positions))
	bestMoves := make([]string, len(positions))

	for i, pos := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := a.ev.Analyse(ctx, pos.String(), a.limit, 1)
		if err != nil {
			return nil, fmt.Errorf("analyse ply %d: %w", i, err)
		}
		evals[i] = lines[0].Score.Centipawns()
		bestMoves[i] = lines[0].BestMove()
	}

	userIsWhite := userColor == models.White
	totalLoss := 0.0
	userMoves := 0

	for i, move := range moves {
		isWhite := i%2 == 0

		evalBefore := evals[i]
		evalAfter := -evals[i+1] // flip back to the mover's point of view
		cpl := evals[i] + evals[i+1]

		ma := MoveAnalysis{
			HalfMove:       i,
			MoveNumber:     i/2 + 1,
			IsWhite:        isWhite,
			SAN:            chess.AlgebraicNotation{}.Encode(positions[i], move),
			UCI:            chess.UCINotation{}.Encode(positions[i], move),
			EvalBefore:     &evalBefore,
			EvalAfter:      &evalAfter,
			BestMoveUCI:    bestMoves[i],
			Classification: Classify(cpl, &evalBefore, &evalAfter),
			CentipawnLoss:  &cpl,
			Phase:          Phase(i, len(moves)),
		}
		res.Moves = append(res.Moves, ma)

		if isWhite == userIsWhite {
			userMoves++
			totalLoss += math.Max(0, cpl)
			switch ma.Classification {
			case models.ClassBlunder:
				res.Stats.NumBlunders++
			case models.ClassMistake:
				res.Stats.NumMistakes++
			case models.ClassInaccuracy:
				res.Stats.NumInaccuracies++
			}
		}
	}

	res.Stats.NumMoves = len(moves)
	if userMoves > 0 {
		res.Stats.AverageCPL = totalLoss / float64(userMoves)
	}
	res.Stats.Accuracy = clamp(100-res.Stats.AverageCPL/10, 0, 100)

	return res, nil
}

// openingFor prefers the PGN's own ECO/Opening headers and falls back to
// a longest-prefix lookup in the ECO book.
func (a *Analyzer) openingFor(game *chess.Game, moves []*chess.Move) (code, name string) {
	if tag := game.GetTagPair("ECO"); tag != nil {
		code = tag.Value
	}
	if tag := game.GetTagPair("Opening"); tag != nil {
		name = tag.Value
	}
	if code != "" && name != "" {
		return code, name
	}
	if found := a.book.Find(moves); found != nil {
		if code == "" {
			code = found.Code()
		}
		if name == "" {
			name = found.Title()
		}
	}
	return code, name
}

func parsePGN(pgn string) (*chess.Game, error) {
	opt, err := chess.PGN(strings.NewReader(pgn))
	if err != nil {
		return nil, fmt.Errorf("parse pgn: %w", err)
	}
	return chess.NewGame(opt), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
