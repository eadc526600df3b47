package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/blunderlab/blunderlab/internal/models"
)

const chessComBase = "https://api.chess.com/pub"

// ChessCom imports from the chess.com published-data API, which exposes
// a user's games as one JSON archive per calendar month.
type ChessCom struct {
	client  *client
	baseURL string
}

// NewChessCom builds the adapter with a polite request rate.
func NewChessCom() *ChessCom {
	return &ChessCom{client: newClient(models.ProviderChessCom, 2), baseURL: chessComBase}
}

func (c *ChessCom) Name() models.Provider { return models.ProviderChessCom }

// SetUserAgent overrides the User-Agent header. chess.com asks serious
// clients to identify themselves with contact information.
func (c *ChessCom) SetUserAgent(ua string) {
	if ua != "" {
		c.client.userAgent = ua
	}
}

type chessComArchives struct {
	Archives []string `json:"archives"`
}

type chessComPlayer struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Result   string `json:"result"`
}

type chessComGame struct {
	URL         string         `json:"url"`
	PGN         string         `json:"pgn"`
	TimeControl string         `json:"time_control"`
	TimeClass   string         `json:"time_class"`
	EndTime     int64          `json:"end_time"`
	Rated       bool           `json:"rated"`
	White       chessComPlayer `json:"white"`
	Black       chessComPlayer `json:"black"`
}

type chessComArchive struct {
	Games []chessComGame `json:"games"`
}

// FetchGames lists the user's month archives, keeps those inside the
// range and flattens their games in chronological order.
func (c *ChessCom) FetchGames(ctx context.Context, handle string, from, to *Month) ([]NormalizedGame, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))

	body, err := c.client.get(ctx, fmt.Sprintf("%s/player/%s/games/archives", c.baseURL, handle), "")
	if errors.Is(err, errNotFound) {
		return nil, &UserNotFoundError{Provider: c.Name(), Handle: handle}
	}
	if err != nil {
		return nil, err
	}

	var archives chessComArchives
	if err := json.Unmarshal(body, &archives); err != nil {
		return nil, &FatalError{Provider: c.Name(), Err: fmt.Errorf("decode archives: %w", err)}
	}

	var games []NormalizedGame
	for _, url := range archives.Archives {
		year, month, ok := parseArchiveMonth(url)
		if !ok || !Contains(from, to, year, month) {
			continue
		}

		body, err := c.client.get(ctx, url, "")
		if errors.Is(err, errNotFound) {
			// A listed archive can disappear between calls; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}

		var archive chessComArchive
		if err := json.Unmarshal(body, &archive); err != nil {
			return nil, &FatalError{Provider: c.Name(), Err: fmt.Errorf("decode archive %s: %w", url, err)}
		}
		for _, g := range archive.Games {
			if g.PGN == "" {
				continue
			}
			games = append(games, c.normalize(handle, g))
		}
	}
	return games, nil
}

var archiveMonthRe = regexp.MustCompile(`/(\d{4})/(\d{2})$`)

func parseArchiveMonth(url string) (int, time.Month, bool) {
	m := archiveMonthRe.FindStringSubmatch(url)
	if m == nil {
		return 0, 0, false
	}
	var year, month int
	fmt.Sscanf(m[1], "%d", &year)
	fmt.Sscanf(m[2], "%d", &month)
	if month < 1 || month > 12 {
		return 0, 0, false
	}
	return year, time.Month(month), true
}

func (c *ChessCom) normalize(handle string, g chessComGame) NormalizedGame {
	userIsWhite := strings.EqualFold(g.White.Username, handle)

	userColor := models.Black
	user, opponent := g.Black, g.White
	if userIsWhite {
		userColor = models.White
		user, opponent = g.White, g.Black
	}

	result := "draw"
	switch {
	case user.Result == "win":
		result = "win"
	case opponent.Result == "win":
		result = "loss"
	}
	// The losing or drawing side's result code doubles as the
	// termination reason (resigned, timeout, stalemate, ...).
	termination := user.Result
	if result == "win" {
		termination = opponent.Result
	}

	whiteElo, blackElo := g.White.Rating, g.Black.Rating
	userRating := user.Rating

	return NormalizedGame{
		Provider:    models.ProviderChessCom,
		ProviderURL: g.URL,
		ProviderID:  lastPathSegment(g.URL),
		PGN:         g.PGN,
		WhitePlayer: g.White.Username,
		BlackPlayer: g.Black.Username,
		WhiteElo:    &whiteElo,
		BlackElo:    &blackElo,
		UserColor:   userColor,
		UserRating:  &userRating,
		Result:      result,
		Termination: termination,
		TimeClass:   g.TimeClass,
		TimeControl: g.TimeControl,
		OpeningECO:  pgnTag(g.PGN, "ECO"),
		OpeningName: openingFromECOURL(pgnTag(g.PGN, "ECOUrl")),
		DatePlayed:  time.Unix(g.EndTime, 0).UTC(),
	}
}

func lastPathSegment(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

// openingFromECOURL turns chess.com's ECOUrl tag, whose last path
// segment is a slug like "Italian-Game-Giuoco-Piano", into a readable
// opening name.
func openingFromECOURL(url string) string {
	if url == "" {
		return ""
	}
	return strings.ReplaceAll(lastPathSegment(url), "-", " ")
}

var pgnTagRe = regexp.MustCompile(`(?m)^\[(\w+) "([^"]*)"\]`)

// pgnTag extracts one header value from a PGN string.
func pgnTag(pgn, key string) string {
	for _, m := range pgnTagRe.FindAllStringSubmatch(pgn, -1) {
		if m[1] == key {
			return m[2]
		}
	}
	return ""
}
