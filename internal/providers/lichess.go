package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/blunderlab/blunderlab/internal/models"
)

const lichessBase = "https://lichess.org"

// Lichess imports through the lichess.org game export API, an NDJSON
// stream of one game object per line.
type Lichess struct {
	client   *client
	baseURL  string
	maxGames int
}

// NewLichess builds the adapter. Lichess asks anonymous clients to stay
// well under 20 requests per second; one export call covers the whole
// range, so a low rate costs nothing.
func NewLichess() *Lichess {
	return &Lichess{client: newClient(models.ProviderLichess, 1), baseURL: lichessBase}
}

func (l *Lichess) Name() models.Provider { return models.ProviderLichess }

// SetMaxGames caps how many games one export call may return. Zero
// means no cap; the export streams the newest games first.
func (l *Lichess) SetMaxGames(n int) {
	l.maxGames = n
}

type lichessPlayer struct {
	User struct {
		Name string `json:"name"`
	} `json:"user"`
	Rating int `json:"rating"`
}

type lichessGame struct {
	ID        string `json:"id"`
	Rated     bool   `json:"rated"`
	Variant   string `json:"variant"`
	Speed     string `json:"speed"`
	CreatedAt int64  `json:"createdAt"`
	Status    string `json:"status"`
	Winner    string `json:"winner"`
	Players   struct {
		White lichessPlayer `json:"white"`
		Black lichessPlayer `json:"black"`
	} `json:"players"`
	Opening struct {
		ECO  string `json:"eco"`
		Name string `json:"name"`
		Ply  int    `json:"ply"`
	} `json:"opening"`
	Clock struct {
		Initial   int `json:"initial"`
		Increment int `json:"increment"`
	} `json:"clock"`
	PGN string `json:"pgn"`
}

// FetchGames streams the user's standard games within the range.
func (l *Lichess) FetchGames(ctx context.Context, handle string, from, to *Month) ([]NormalizedGame, error) {
	handle = strings.TrimSpace(handle)

	q := url.Values{}
	q.Set("pgnInJson", "true")
	q.Set("opening", "true")
	if l.maxGames > 0 {
		q.Set("max", fmt.Sprint(l.maxGames))
	}
	if from != nil {
		q.Set("since", fmt.Sprint(time.Date(from.Year, from.Month, 1, 0, 0, 0, 0, time.UTC).UnixMilli()))
	}
	if to != nil {
		// until is exclusive: first instant of the following month.
		q.Set("until", fmt.Sprint(time.Date(to.Year, to.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0).UnixMilli()))
	}

	body, err := l.client.get(ctx,
		fmt.Sprintf("%s/api/games/user/%s?%s", l.baseURL, url.PathEscape(handle), q.Encode()),
		"application/x-ndjson")
	if errors.Is(err, errNotFound) {
		return nil, &UserNotFoundError{Provider: l.Name(), Handle: handle}
	}
	if err != nil {
		return nil, err
	}

	var games []NormalizedGame
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var g lichessGame
		if err := json.Unmarshal(line, &g); err != nil {
			return nil, &FatalError{Provider: l.Name(), Err: fmt.Errorf("decode game line: %w", err)}
		}
		if g.Variant != "" && g.Variant != "standard" {
			continue
		}
		if g.PGN == "" {
			continue
		}
		games = append(games, l.normalize(handle, g))
	}
	if err := scanner.Err(); err != nil {
		return nil, &FatalError{Provider: l.Name(), Err: err}
	}
	return games, nil
}

func (l *Lichess) normalize(handle string, g lichessGame) NormalizedGame {
	userIsWhite := strings.EqualFold(g.Players.White.User.Name, handle)

	userColor := models.Black
	userRating := g.Players.Black.Rating
	if userIsWhite {
		userColor = models.White
		userRating = g.Players.White.Rating
	}

	result := "draw"
	switch {
	case g.Winner == "":
	case (g.Winner == "white") == userIsWhite:
		result = "win"
	default:
		result = "loss"
	}

	timeControl := ""
	if g.Clock.Initial > 0 || g.Clock.Increment > 0 {
		timeControl = fmt.Sprintf("%d+%d", g.Clock.Initial, g.Clock.Increment)
	}

	whiteElo, blackElo := g.Players.White.Rating, g.Players.Black.Rating

	return NormalizedGame{
		Provider:    models.ProviderLichess,
		ProviderURL: fmt.Sprintf("%s/%s", l.baseURL, g.ID),
		ProviderID:  g.ID,
		PGN:         g.PGN,
		WhitePlayer: g.Players.White.User.Name,
		BlackPlayer: g.Players.Black.User.Name,
		WhiteElo:    &whiteElo,
		BlackElo:    &blackElo,
		UserColor:   userColor,
		UserRating:  &userRating,
		Result:      result,
		Termination: g.Status,
		TimeClass:   g.Speed,
		TimeControl: timeControl,
		OpeningECO:  g.Opening.ECO,
		OpeningName: g.Opening.Name,
		OpeningPly:  g.Opening.Ply,
		DatePlayed:  time.UnixMilli(g.CreatedAt).UTC(),
	}
}
