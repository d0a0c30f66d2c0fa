// Package server exposes the runtime over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/agent"
	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

const (
	maxBodyBytes    = 64 << 10
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	rt     *agent.Runtime
	engine *gin.Engine
}

func New(rt *agent.Runtime) *Server {
	s := &Server{rt: rt, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/health", s.health)
	s.engine.GET("/ready", s.ready)
	s.engine.POST("/v1/turn", s.turn)
	s.engine.POST("/v1/action", s.action)
	s.engine.DELETE("/v1/users/:id/stm", s.clearShortTerm)
	s.engine.POST("/user/preference", s.preference)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("server", "HTTP server listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.InfoC("server", "HTTP server stopped")
	return nil
}

// Addr joins the configured host and port.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugCF("server", "Request served", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(c *gin.Context) {
	if err := s.rt.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

type turnRequest struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	RequestID string `json:"request_id"`
}

func (s *Server) turn(c *gin.Context) {
	var req turnRequest
	if err := decodeBody(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.rt.ProcessTurn(c.Request.Context(), req.UserID, req.Text, action.RequestContext{
		RequestID: req.RequestID,
		Channel:   "http",
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reply":       res.Reply,
		"decision_id": res.Contract.DecisionID,
		"pipeline":    res.Contract.Pipeline,
		"intent":      res.Contract.Intent,
		"constraints": res.Contract.Constraints,
		"source":      res.Contract.Source,
	})
}

type actionRequest struct {
	UserID     string                 `json:"user_id"`
	ActionType string                 `json:"action_type"`
	Command    string                 `json:"command"`
	Params     map[string]interface{} `json:"params"`
	RequestID  string                 `json:"request_id"`
	TraceID    string                 `json:"trace_id"`
}

// action accepts either a structured action or a slash command. Outcomes
// go out with 200 whatever their status; only a missing user is a 400.
func (s *Server) action(c *gin.Context) {
	var req actionRequest
	if err := decodeBody(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := profile.ValidateUserID(req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var a action.Action
	var err error
	if req.Command != "" {
		a, err = action.Parse(req.Command)
	} else {
		a, err = action.FromMap(map[string]interface{}{"action_type": req.ActionType, "params": toParams(req.Params)})
	}
	if err != nil {
		var pe *action.ParseError
		if errors.As(err, &pe) {
			c.JSON(http.StatusOK, pe.Outcome())
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := s.rt.Dispatch(c.Request.Context(), a, req.UserID, action.RequestContext{
		RequestID: req.RequestID,
		TraceID:   req.TraceID,
		Channel:   "http",
	})
	c.JSON(http.StatusOK, out)
}

func toParams(p map[string]interface{}) interface{} {
	if p == nil {
		return nil
	}
	return p
}

type preferenceRequest struct {
	UserID string      `json:"user_id"`
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
}

func (s *Server) preference(c *gin.Context) {
	var req preferenceRequest
	if err := decodeBody(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := s.rt.SetPreference(c.Request.Context(), req.UserID, req.Key, req.Value)
	if !out.OK() {
		logger.InfoCF("server", "Preference update rejected", map[string]interface{}{
			"user_id": req.UserID,
			"key":     req.Key,
			"reason":  out.Message,
		})
		c.JSON(http.StatusBadRequest, gin.H{"error": "Preference update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) clearShortTerm(c *gin.Context) {
	if err := s.rt.ClearShortTerm(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// decodeBody reads a JSON object keeping numbers as json.Number, so
// integer preferences stay distinguishable from fractional ones.
func decodeBody(c *gin.Context, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, profile.ErrInvalidUserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.ErrorCF("server", "Request failed", map[string]interface{}{
		"path":  c.FullPath(),
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
