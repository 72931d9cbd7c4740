// Package httpapi is the loopback admin API of the daemon.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/export"
	"github.com/tazhate/azancall/internal/scheduler"
	"github.com/tazhate/azancall/internal/service"
)

type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Reporter interface {
	Collect(ctx context.Context) service.Report
}

type Triggerer interface {
	Trigger(reason scheduler.Reason)
}

type Day interface {
	Snapshot(ctx context.Context) (*service.DailySnapshot, error)
	NextUpcoming(ctx context.Context) (*service.Upcoming, error)
}

type Deps struct {
	Diagnostics Reporter
	Jobs        Triggerer
	Day         Day
	Store       *service.ScheduleStore
	Stop        func(ctx context.Context) // stops ongoing playback
	Metrics     http.Handler
	Now         func() time.Time
}

type Server struct {
	deps   Deps
	router *gin.Engine
	srv    *http.Server
}

var allowedReasons = map[scheduler.Reason]bool{
	scheduler.ReasonManual:          true,
	scheduler.ReasonSettingsChanged: true,
	scheduler.ReasonTimeChanged:     true,
	scheduler.ReasonTimezoneChanged: true,
}

func New(addr string, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{deps: deps, router: gin.New()}
	s.router.Use(gin.Recovery(), requestLog())
	s.routes()
	s.srv = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", s.health)
	r.GET("/status", s.status)
	r.GET("/today", s.today)
	r.GET("/export.ics", s.exportICS)
	r.POST("/reconcile", s.reconcile)
	r.POST("/stop", s.stop)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().Str("component", "httpapi").Str("method", c.Request.Method).
			Str("path", c.FullPath()).Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Diagnostics == nil {
		c.JSON(http.StatusOK, Response{Success: true})
		return
	}
	rep := s.deps.Diagnostics.Collect(c.Request.Context())
	code := http.StatusOK
	if !rep.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, Response{Success: rep.Healthy, Data: gin.H{"healthy": rep.Healthy}})
}

func (s *Server) status(c *gin.Context) {
	if s.deps.Diagnostics == nil {
		c.JSON(http.StatusNotImplemented, Response{Error: "diagnostics not wired"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: s.deps.Diagnostics.Collect(c.Request.Context())})
}

func (s *Server) today(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := s.deps.Day.Snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	next, err := s.deps.Day.NextUpcoming(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"day": snap, "next": next}})
}

func (s *Server) exportICS(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusNotImplemented, Response{Error: "store not wired"})
		return
	}
	body, err := export.Serialize(export.FromEvents(s.deps.Store.Records(c.Request.Context())), s.deps.Now())
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

func (s *Server) reconcile(c *gin.Context) {
	reason := scheduler.Reason(c.DefaultQuery("reason", string(scheduler.ReasonManual)))
	if !allowedReasons[reason] {
		c.JSON(http.StatusBadRequest, Response{Error: "unsupported reason " + string(reason)})
		return
	}
	s.deps.Jobs.Trigger(reason)
	c.JSON(http.StatusAccepted, Response{Success: true, Data: gin.H{"reason": reason}})
}

func (s *Server) stop(c *gin.Context) {
	if s.deps.Stop != nil {
		s.deps.Stop(c.Request.Context())
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	log.Info().Str("component", "httpapi").Str("addr", s.srv.Addr).Msg("admin API listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
