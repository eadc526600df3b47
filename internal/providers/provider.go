// Package providers fetches games from external chess platforms and
// normalizes them into the shape the importer persists. Adapters own
// their politeness: client-side rate limiting plus bounded retry on
// throttling and server errors.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/blunderlab/blunderlab/internal/models"
)

// Month is a year-month boundary for an import range, inclusive.
type Month struct {
	Year  int
	Month time.Month
}

// Contains reports whether t falls in [from, to]; nil bounds are open.
func Contains(from, to *Month, year int, month time.Month) bool {
	if from != nil {
		if year < from.Year || (year == from.Year && month < from.Month) {
			return false
		}
	}
	if to != nil {
		if year > to.Year || (year == to.Year && month > to.Month) {
			return false
		}
	}
	return true
}

// NormalizedGame maps one provider game onto the Game metadata columns.
type NormalizedGame struct {
	Provider    models.Provider
	ProviderURL string
	ProviderID  string
	PGN         string

	WhitePlayer string
	BlackPlayer string
	WhiteElo    *int
	BlackElo    *int
	UserColor   models.Color
	UserRating  *int

	Result      string
	Termination string
	TimeClass   string
	TimeControl string

	OpeningECO  string
	OpeningName string
	OpeningPly  int

	DatePlayed time.Time
}

// Adapter is the contract the import task consumes.
type Adapter interface {
	Name() models.Provider
	// FetchGames returns the user's games within the month range. nil
	// bounds mean everything the provider has.
	FetchGames(ctx context.Context, handle string, from, to *Month) ([]NormalizedGame, error)
}

// UserNotFoundError: the handle does not exist on the provider.
type UserNotFoundError struct {
	Provider models.Provider
	Handle   string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("%s user %q not found", e.Provider, e.Handle)
}

// RateLimitedError: throttled beyond what the adapter's retries absorb.
type RateLimitedError struct {
	Provider models.Provider
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// TransientError: upstream hiccup that exhausted the retry budget.
type TransientError struct {
	Provider models.Provider
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError: a response the adapter cannot interpret; retrying is
// pointless.
type FatalError struct {
	Provider models.Provider
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s fatal failure: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
