package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/store"
	"github.com/blunderlab/blunderlab/internal/worker"
)

type importRequest struct {
	Handle    string `json:"handle"`
	FromYear  int    `json:"from_year"`
	FromMonth int    `json:"from_month"`
	ToYear    int    `json:"to_year"`
	ToMonth   int    `json:"to_month"`
	ImportAll bool   `json:"import_all"`
}

func (r *importRequest) validate() error {
	if r.ImportAll {
		r.FromYear, r.FromMonth, r.ToYear, r.ToMonth = 0, 0, 0, 0
		return nil
	}
	for _, b := range []struct{ year, month int }{
		{r.FromYear, r.FromMonth}, {r.ToYear, r.ToMonth},
	} {
		if (b.year == 0) != (b.month == 0) {
			return errors.New("year and month must be given together")
		}
		if b.month < 0 || b.month > 12 {
			return errors.New("month must be between 1 and 12")
		}
	}
	if r.FromYear != 0 && r.ToYear != 0 {
		if r.FromYear > r.ToYear || (r.FromYear == r.ToYear && r.FromMonth > r.ToMonth) {
			return errors.New("date range is inverted")
		}
	}
	return nil
}

func (s *Server) dispatchImport(c *gin.Context, provider models.Provider) {
	userID := currentUser(c)

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle := req.Handle
	if handle == "" {
		user, err := s.db.GetUser(c.Request.Context(), userID)
		if err != nil {
			s.serverError(c, err)
			return
		}
		switch provider {
		case models.ProviderChessCom:
			handle = user.ChessComHandle
		case models.ProviderLichess:
			handle = user.LichessHandle
		}
	}
	if handle == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no " + string(provider) + " username configured"})
		return
	}

	if active, err := s.db.ActiveImportJob(c.Request.Context(), userID); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "an import is already in progress",
			"job_id": active.ID,
			"status": active.Status,
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.serverError(c, err)
		return
	}

	job, err := s.db.CreateImportJob(c.Request.Context(), userID)
	if err != nil {
		s.serverError(c, err)
		return
	}

	args := worker.ImportArgs{
		UserID:    userID,
		JobID:     job.ID,
		Provider:  provider,
		Handle:    handle,
		FromYear:  req.FromYear,
		FromMonth: req.FromMonth,
		ToYear:    req.ToYear,
		ToMonth:   req.ToMonth,
	}
	if _, err := s.rt.Submit(c.Request.Context(), worker.TaskImportGames, args); err != nil {
		s.log.WithError(err).Error("enqueue import")
		_ = s.db.FailImportJob(c.Request.Context(), job.ID, "could not enqueue import task")
		s.serverError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func (s *Server) importStatus(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := s.db.GetImportJob(c.Request.Context(), id)
	if err != nil || job.UserID != currentUser(c) {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.log.WithError(err).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
