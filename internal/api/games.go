package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Server) listGames(c *gin.Context) {
	f := store.GameFilter{
		Provider:      models.Provider(c.Query("provider")),
		Result:        c.Query("result"),
		OpeningECO:    c.Query("opening_eco"),
		AnalysisState: models.AnalysisState(c.Query("analysis_state")),
		Limit:         defaultPageSize,
	}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		f.Limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n > 0 {
		f.Offset = n
	}

	games, total, err := s.db.ListGames(c.Request.Context(), currentUser(c), f)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"games":  games,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (s *Server) getGame(c *gin.Context, gameID int64) {
	game, ok := s.ownedGame(c, gameID)
	if !ok {
		return
	}
	moves, err := s.db.ListMoves(c.Request.Context(), gameID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game": game, "moves": moves})
}

func (s *Server) deleteGame(c *gin.Context, gameID int64) {
	userID := currentUser(c)
	if _, ok := s.ownedGame(c, gameID); !ok {
		return
	}
	if err := s.db.DeleteGame(c.Request.Context(), userID, gameID); err != nil {
		s.serverError(c, err)
		return
	}
	if err := s.db.RecomputeUserStats(c.Request.Context(), userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("refresh stats after delete")
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) userStats(c *gin.Context) {
	stats, err := s.db.GetUserStats(c.Request.Context(), currentUser(c))
	if err != nil {
		// No analyzed games yet; answer with an empty aggregate.
		stats = &models.UserStats{UserID: currentUser(c)}
	}
	c.JSON(http.StatusOK, stats)
}

// ownedGame loads the game and hides other users' games behind a 404.
func (s *Server) ownedGame(c *gin.Context, gameID int64) (*models.Game, bool) {
	game, err := s.db.GetGame(c.Request.Context(), gameID)
	if err != nil || game.UserID != currentUser(c) {
		notFound(c)
		return nil, false
	}
	return game, true
}
