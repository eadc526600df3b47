// Package coach generates short natural-language commentary for the
// worst moves of an analyzed game. Commentary is a strictly optional
// side effect: every call is bounded by a wall-clock timeout, at most a
// handful of moves per game are annotated, and any failure leaves the
// move without commentary rather than failing the analysis.
package coach

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/models"
)

const (
	// callTimeout is the hard wall-clock bound per commentary call.
	callTimeout = 25 * time.Second
	// maxPerGame caps annotated moves per game.
	maxPerGame = 5
)

// Commentator is one commentary backend.
type Commentator interface {
	Comment(ctx context.Context, prompt string) (string, error)
}

// Coach selects the moves worth talking about and drives a Commentator.
type Coach struct {
	backend Commentator
	log     *logrus.Entry
}

// New wraps a backend. A nil backend disables the coach.
func New(backend Commentator) *Coach {
	return &Coach{backend: backend, log: logrus.WithField("component", "coach")}
}

// Annotate fills CoachCommentary on up to maxPerGame of the user's
// blunders and mistakes, in game order. Backend errors and timeouts are
// logged and skipped.
func (c *Coach) Annotate(ctx context.Context, moves []models.Move, userIsWhite bool, openingName string) {
	if c == nil || c.backend == nil {
		return
	}

	annotated := 0
	for i := range moves {
		if annotated >= maxPerGame {
			return
		}
		m := &moves[i]
		if m.IsWhite != userIsWhite {
			continue
		}
		if m.Classification != models.ClassBlunder && m.Classification != models.ClassMistake {
			continue
		}

		text, err := c.comment(ctx, m, openingName)
		if err != nil {
			c.log.WithError(err).WithField("half_move", m.HalfMove).Warn("commentary skipped")
			continue
		}
		m.CoachCommentary = text
		annotated++
	}
}

func (c *Coach) comment(ctx context.Context, m *models.Move, openingName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.backend.Comment(ctx, buildPrompt(m, openingName))
}

func buildPrompt(m *models.Move, openingName string) string {
	side := "Black"
	if m.IsWhite {
		side = "White"
	}
	prompt := fmt.Sprintf(
		"You are a friendly chess coach. On move %d, %s played %s, which was a %s.",
		m.MoveNumber, side, m.SAN, m.Classification)
	if m.BestMoveUCI != "" {
		prompt += fmt.Sprintf(" The engine preferred %s.", m.BestMoveUCI)
	}
	if m.CentipawnLoss != nil {
		prompt += fmt.Sprintf(" The move lost about %.0f centipawns.", *m.CentipawnLoss)
	}
	if openingName != "" {
		prompt += fmt.Sprintf(" The game opened with the %s.", openingName)
	}
	prompt += " In two sentences, explain the idea the player missed, without engine jargon."
	return prompt
}
