package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TobiSchelling/zhongwen/internal/auth"
	"github.com/TobiSchelling/zhongwen/internal/database"
	"github.com/TobiSchelling/zhongwen/internal/exercise"
	"github.com/TobiSchelling/zhongwen/internal/pipeline"
	"github.com/TobiSchelling/zhongwen/internal/usage"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.Ping(c.Request.Context()); err != nil {
		s.log.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type moduleView struct {
	database.Module
	Units []database.Unit `json:"units"`
}

func (s *Server) handleModules(c *gin.Context) {
	ctx := c.Request.Context()
	modules, err := s.db.GetModules(ctx)
	if err != nil {
		s.internalError(c, "listing modules", err)
		return
	}

	out := make([]moduleView, 0, len(modules))
	for _, m := range modules {
		units, err := s.db.GetUnitsByModule(ctx, m.ID)
		if err != nil {
			s.internalError(c, "listing units", err)
			return
		}
		if units == nil {
			units = []database.Unit{}
		}
		out = append(out, moduleView{Module: m, Units: units})
	}
	c.JSON(http.StatusOK, gin.H{"modules": out})
}

func (s *Server) handleUnit(c *gin.Context) {
	unitID, ok := unitParam(c)
	if !ok {
		return
	}
	unit, err := s.db.GetCompleteUnit(c.Request.Context(), unitID)
	if err != nil {
		s.internalError(c, "loading unit", err)
		return
	}
	if unit == nil {
		abortError(c, http.StatusNotFound, pipeline.ReasonUnitNotFound, "unit not found")
		return
	}
	c.JSON(http.StatusOK, unit)
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	profile, err := s.db.GetUserPreferences(c.Request.Context(), auth.UserID(c.Request.Context()))
	if err != nil {
		s.internalError(c, "loading preferences", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": profile})
}

func (s *Server) handlePutPreferences(c *gin.Context) {
	var profile database.LearnerProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	switch profile.LearningLevel {
	case "", "beginner", "intermediate", "advanced":
	default:
		abortError(c, http.StatusBadRequest, "invalid_request", "learning_level must be beginner, intermediate or advanced")
		return
	}

	ctx := c.Request.Context()
	if err := s.db.SaveUserPreferences(ctx, auth.UserID(ctx), profile); err != nil {
		s.internalError(c, "saving preferences", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type generateRequest struct {
	SpecificFocus string `json:"specific_focus"`
	Debug         bool   `json:"debug"`
}

type generateResponse struct {
	RunID    string             `json:"run_id"`
	Exercise *exercise.Exercise `json:"exercise"`
	Raw      map[string]string  `json:"raw,omitempty"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	unitID, ok := unitParam(c)
	if !ok {
		return
	}
	var body generateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abortError(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	userID := auth.UserID(ctx)
	req := pipeline.Request{
		UserID:        userID,
		UnitID:        unitID,
		SpecificFocus: body.SpecificFocus,
		Debug:         body.Debug,
	}
	res, err := s.gen.Generate(ctx, req, func(state string) {
		s.hub.Publish(userID, ProgressEvent{UnitID: unitID, State: state, Time: time.Now()})
	})
	if err != nil {
		s.writePipelineError(c, res, err)
		return
	}

	c.JSON(http.StatusOK, generateResponse{RunID: res.RunID, Exercise: res.Exercise, Raw: res.Raw})
}

// statusFor maps a run failure to its HTTP status.
func statusFor(reason string) int {
	switch reason {
	case pipeline.ReasonNotAuthenticated:
		return http.StatusUnauthorized
	case pipeline.ReasonUnitNotFound:
		return http.StatusNotFound
	case pipeline.ReasonDailyLimit, pipeline.ReasonWeeklyLimit:
		return http.StatusTooManyRequests
	case pipeline.ReasonProviderError, pipeline.ReasonJSONParse, pipeline.ReasonInvalidExercise:
		return http.StatusBadGateway
	case pipeline.ReasonTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePipelineError(c *gin.Context, res *pipeline.Result, err error) {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		s.internalError(c, "generating exercise", err)
		return
	}

	body := gin.H{
		"error": gin.H{"code": perr.Reason, "message": perr.UserMessage()},
	}
	if perr.ResetAt != nil {
		body["reset_at"] = perr.ResetAt
	}
	if res != nil {
		body["run_id"] = res.RunID
	}
	c.AbortWithStatusJSON(statusFor(perr.Reason), body)
}

func (s *Server) handleGetExercise(c *gin.Context) {
	unitID, ok := unitParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	stored, err := s.db.GetRwpContent(ctx, auth.UserID(ctx), unitID)
	if err != nil {
		s.internalError(c, "loading exercise", err)
		return
	}
	if stored == nil {
		abortError(c, http.StatusNotFound, "not_found", "no exercise generated for this unit yet")
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) handleProgress(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request, auth.UserID(c.Request.Context()))
}

func (s *Server) handleCheckUsage(f usage.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		a, err := s.ledger.CheckAvailability(ctx, auth.UserID(ctx), f)
		if err != nil {
			s.internalError(c, "checking usage", err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// handleIncrementRWP counts one generation done outside this server's
// pipeline. It does not check limits.
func (s *Server) handleIncrementRWP(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.ledger.Increment(ctx, auth.UserID(ctx), usage.FeatureRWP); err != nil {
		s.internalError(c, "incrementing usage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleUseTTS takes one TTS slot, checking the limit and counting in one
// step.
func (s *Server) handleUseTTS(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.ledger.Reserve(ctx, auth.UserID(ctx), usage.FeatureTTS)
	if err != nil {
		s.internalError(c, "reserving tts usage", err)
		return
	}
	if !a.Allowed {
		status := http.StatusTooManyRequests
		if a.Reason == usage.ReasonPremiumRequired {
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, gin.H{
			"success": false,
			"error":   gin.H{"code": a.Reason, "message": "text-to-speech is not available"},
			"usage":   a,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "usage": a})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.ledger.Stats(ctx, auth.UserID(ctx))
	if err != nil {
		s.internalError(c, "loading usage stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func unitParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("unit_id"), 10, 64)
	if err != nil || id <= 0 {
		abortError(c, http.StatusBadRequest, "invalid_request", "unit_id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) internalError(c *gin.Context, what string, err error) {
	s.log.Error(what, "error", err, "path", c.FullPath())
	abortError(c, http.StatusInternalServerError, pipeline.ReasonInternal, "internal server error")
}
