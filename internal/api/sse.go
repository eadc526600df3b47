package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

const keepaliveEvery = 15 * time.Second

// streamAnalysisEvents bridges the user's notification channel onto a
// server-sent event stream. A hello event confirms the subscription;
// comment lines keep intermediaries from closing the idle connection.
func (s *Server) streamAnalysisEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	userID := currentUser(c)
	ctx := c.Request.Context()

	sub := s.bus.Subscribe(ctx, userID)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Render(http.StatusOK, sse.Event{
		Event: "connected",
		Data:  gin.H{"user_id": userID},
	})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		if ctx.Err() != nil {
			return false
		}
		ev, err := sub.Poll(ctx, keepaliveEvery)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("event stream poll")
			return false
		}
		if ev == nil {
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		}
		c.SSEvent("message", ev)
		return true
	})
}
