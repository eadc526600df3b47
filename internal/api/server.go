// Package api exposes the HTTP surface: import and analysis dispatchers,
// job snapshots, game reads and the SSE notification stream. Handlers do
// no heavy work themselves; they persist a job row, enqueue a task and
// answer immediately.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/events"
	"github.com/blunderlab/blunderlab/internal/store"
	"github.com/blunderlab/blunderlab/internal/task"
	"github.com/blunderlab/blunderlab/internal/worker"
)

// Options carries the collaborators a Server needs.
type Options struct {
	Store       store.Store
	Runtime     *task.Runtime
	Bus         *events.Bus // nil disables the SSE stream
	Auth        Authenticator
	Engines     worker.EngineFactory
	Limit       engine.Limit
	CORSOrigins []string
}

// Server holds the handler state behind the gin router.
type Server struct {
	db      store.Store
	rt      *task.Runtime
	bus     *events.Bus
	auth    Authenticator
	engines worker.EngineFactory
	limit   engine.Limit
	origins []string
	log     *logrus.Entry
}

func New(opts Options) *Server {
	return &Server{
		db:      opts.Store,
		rt:      opts.Runtime,
		bus:     opts.Bus,
		auth:    opts.Auth,
		engines: opts.Engines,
		limit:   opts.Limit,
		origins: opts.CORSOrigins,
		log:     logrus.WithField("component", "api"),
	}
}

// Router builds the gin engine with middleware and all routes attached.
//
// gin's tree rejects a static segment next to a parameter at the same
// depth, and this API mixes both under /api/games (import, analyze,
// stats, events vs the numeric game id). The first segment is therefore
// a single :slug parameter dispatched by hand.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(s.origins) > 0 {
		corsCfg.AllowOrigins = s.origins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/api/games", requireAuth(s.auth))

	g.GET("", s.listGames)
	g.GET("/:slug", func(c *gin.Context) {
		switch c.Param("slug") {
		case "stats":
			s.userStats(c)
		default:
			s.withGameID(c, s.getGame)
		}
	})
	g.GET("/:slug/status/:job_id", func(c *gin.Context) {
		switch c.Param("slug") {
		case "import":
			s.importStatus(c)
		case "analyze":
			s.analysisStatus(c)
		default:
			notFound(c)
		}
	})
	g.GET("/:slug/analysis", func(c *gin.Context) {
		if c.Param("slug") != "events" {
			notFound(c)
			return
		}
		s.streamAnalysisEvents(c)
	})

	g.POST("/:slug", func(c *gin.Context) {
		if c.Param("slug") != "import" {
			notFound(c)
			return
		}
		s.dispatchImport(c, "chess.com")
	})
	g.POST("/:slug/lichess", func(c *gin.Context) {
		if c.Param("slug") != "import" {
			notFound(c)
			return
		}
		s.dispatchImport(c, "lichess")
	})
	g.POST("/:slug/analyze", func(c *gin.Context) {
		s.withGameID(c, s.analyzeGame)
	})
	g.POST("/:slug/all", s.requireSlug("analyze", s.analyzeAll))
	g.POST("/:slug/position", s.requireSlug("analyze", s.analyzePosition))
	g.POST("/:slug/cancel", s.requireSlug("analyze", s.cancelAnalysis))
	g.POST("/:slug/cancel/:job_id", s.requireSlug("analyze", s.cancelAnalysis))

	g.DELETE("/:slug", func(c *gin.Context) {
		s.withGameID(c, s.deleteGame)
	})

	return r
}

func (s *Server) requireSlug(want string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("slug") != want {
			notFound(c)
			return
		}
		h(c)
	}
}

func (s *Server) withGameID(c *gin.Context, h func(c *gin.Context, gameID int64)) {
	id, err := strconv.ParseInt(c.Param("slug"), 10, 64)
	if err != nil || id <= 0 {
		notFound(c)
		return
	}
	h(c, id)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || id <= 0 {
		notFound(c)
		return 0, false
	}
	return id, true
}
