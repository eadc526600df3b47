package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/notnil/chess"

	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/store"
	"github.com/blunderlab/blunderlab/internal/worker"
)

func (s *Server) analyzeGame(c *gin.Context, gameID int64) {
	game, ok := s.ownedGame(c, gameID)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))

	switch {
	case game.AnalysisState == models.StateAnalyzed && !force:
		c.JSON(http.StatusOK, gin.H{
			"game_id":  gameID,
			"status":   "already_analyzed",
			"accuracy": game.Accuracy,
		})
		return
	case game.AnalysisState == models.StateInProgress && !force:
		c.JSON(http.StatusAccepted, gin.H{"game_id": gameID, "status": "in_progress"})
		return
	}

	if force && game.AnalysisState != models.StateUnanalyzed {
		if err := s.db.ResetAnalysis(c.Request.Context(), gameID); err != nil {
			s.serverError(c, err)
			return
		}
	}
	if _, err := s.rt.Submit(c.Request.Context(), worker.TaskAnalyzeGame, worker.AnalyzeArgs{GameID: gameID}); err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"game_id": gameID, "status": "queued"})
}

func (s *Server) analyzeAll(c *gin.Context) {
	userID := currentUser(c)

	if active, err := s.db.ActiveAnalysisJob(c.Request.Context(), userID); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "an analysis job is already in progress",
			"job_id": active.ID,
			"status": active.Status,
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.serverError(c, err)
		return
	}

	job, err := s.db.CreateAnalysisJob(c.Request.Context(), userID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	args := worker.BatchArgs{UserID: userID, JobID: job.ID}
	if _, err := s.rt.Submit(c.Request.Context(), worker.TaskBatchAnalyze, args); err != nil {
		s.log.WithError(err).Error("enqueue batch analysis")
		_ = s.db.FailAnalysisJob(c.Request.Context(), job.ID, "could not enqueue analysis task")
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func (s *Server) analysisStatus(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := s.db.GetAnalysisJob(c.Request.Context(), id)
	if err != nil || job.UserID != currentUser(c) {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelAnalysis(c *gin.Context) {
	userID := currentUser(c)

	var id int64
	if raw := c.Param("job_id"); raw != "" {
		var ok bool
		if id, ok = jobID(c); !ok {
			return
		}
	} else {
		active, err := s.db.ActiveAnalysisJob(c.Request.Context(), userID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active analysis job"})
			return
		} else if err != nil {
			s.serverError(c, err)
			return
		}
		id = active.ID
	}

	if err := s.db.CancelAnalysisJob(c.Request.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c)
			return
		}
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": models.JobCancelled})
}

type positionRequest struct {
	FEN   string `json:"fen" binding:"required"`
	Depth int    `json:"depth"`
}

// analyzePosition evaluates a single position synchronously with a
// dedicated engine, for board-editor style probing.
func (s *Server) analyzePosition(c *gin.Context) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fen is required"})
		return
	}
	fenOpt, err := chess.FEN(req.FEN)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid FEN"})
		return
	}

	if s.engines == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	eng, err := s.engines()
	if err != nil {
		s.log.WithError(err).Error("spawn engine")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	defer eng.Close()

	limit := s.limit
	if req.Depth > 0 {
		limit.Depth = min(req.Depth, 30)
	}
	lines, err := eng.Analyse(c.Request.Context(), req.FEN, limit, 1)
	if err != nil || len(lines) == 0 {
		s.log.WithError(err).Warn("position analysis failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis failed"})
		return
	}

	best := lines[0]
	resp := gin.H{
		"fen":        req.FEN,
		"evaluation": float64(best.Score.Centipawns()) / 100,
		"depth":      best.Depth,
	}
	if best.Score.IsMate {
		resp["mate_in"] = best.Score.Mate
	}
	if uciMove := best.BestMove(); uciMove != "" {
		resp["best_move_uci"] = uciMove
		pos := chess.NewGame(fenOpt).Position()
		if mv, err := (chess.UCINotation{}).Decode(pos, uciMove); err == nil {
			resp["best_move_san"] = chess.AlgebraicNotation{}.Encode(pos, mv)
		}
	}
	c.JSON(http.StatusOK, resp)
}
