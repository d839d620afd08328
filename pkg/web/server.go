// Package web exposes the station over HTTP with the same routes the
// on-device firmware served, plus a websocket snapshot feed.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ericogr/flowsensor-logger/pkg/recording"
	"github.com/ericogr/flowsensor-logger/pkg/sensor"
	"github.com/ericogr/flowsensor-logger/pkg/station"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

// Controller is the part of the station the HTTP layer drives.
type Controller interface {
	Current(ctx context.Context) (station.Snapshot, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	SetEnabled(ctx context.Context, ch int, on bool) error
	FinishedLog(ctx context.Context) (*recording.Log, error)
}

type Server struct {
	ctrl   Controller
	hub    *Hub
	router *gin.Engine
	log    *zap.SugaredLogger
}

func NewServer(ctrl Controller, hub *Hub, log *zap.SugaredLogger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(log))
	s := &Server{ctrl: ctrl, hub: hub, router: router, log: log}

	router.GET("/api", s.handleAPI)
	router.POST("/start", s.handleStart)
	router.POST("/stop", s.handleStop)
	router.GET("/log.csv", s.handleLog)
	router.POST("/sensor/:id/:action", s.handleSensorToggle)
	if hub != nil {
		router.GET("/ws", hub.serveWS)
	}
	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "404: Not Found")
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infow("http server started", "addr", addr)
	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func accessLog(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func (s *Server) unavailable(c *gin.Context, err error) {
	s.log.Warnw("station request failed", "path", c.Request.URL.Path, "error", err)
	c.String(http.StatusServiceUnavailable, "station unavailable")
}

// apiPayload renders a snapshot in the firmware's /api shape.
func apiPayload(snap station.Snapshot) gin.H {
	out := gin.H{}
	for i, ch := range snap.Channels {
		out["s"+strconv.Itoa(i+1)] = gin.H{
			"flow_1s": ch.Flow1s,
			"temp_1s": ch.Temp1s,
			"mean10":  ch.Mean10,
			"rms10":   ch.RMS10,
			"cv10":    ch.CV10,
			"ok":      ch.OK,
			"enabled": ch.Enabled,
		}
	}
	out["run"] = gin.H{
		"recording": snap.Recording,
		"csv_ready": snap.CSVReady,
	}
	return out
}

func (s *Server) handleAPI(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	snap, err := s.ctrl.Current(ctx)
	if err != nil {
		s.unavailable(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, apiPayload(snap))
}

func (s *Server) handleStart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := s.ctrl.StartRecording(ctx); err != nil {
		s.unavailable(c, err)
		return
	}
	c.String(http.StatusOK, "started")
}

func (s *Server) handleStop(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := s.ctrl.StopRecording(ctx); err != nil {
		s.unavailable(c, err)
		return
	}
	c.String(http.StatusOK, "stopped")
}

func (s *Server) handleLog(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	l, err := s.ctrl.FinishedLog(ctx)
	if errors.Is(err, recording.ErrNoRecording) {
		c.String(http.StatusNotFound, "No CSV data available. Record data first.")
		return
	}
	if err != nil {
		s.unavailable(c, err)
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+l.Filename()+`"`)
	c.Status(http.StatusOK)
	if err := l.WriteCSV(c.Writer); err != nil {
		s.log.Warnw("csv export interrupted", "session", l.ID, "error", err)
	}
}

func (s *Server) handleSensorToggle(c *gin.Context) {
	var on bool
	switch c.Param("action") {
	case "on":
		on = true
	case "off":
	default:
		c.String(http.StatusNotFound, "404: Not Found")
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "404: Not Found")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	err = s.ctrl.SetEnabled(ctx, id-1, on)
	switch {
	case errors.Is(err, sensor.ErrChannelRange):
		c.String(http.StatusBadRequest, "Invalid sensor ID")
	case err != nil:
		s.unavailable(c, err)
	case on:
		c.String(http.StatusOK, "enabled")
	default:
		c.String(http.StatusOK, "disabled")
	}
}
