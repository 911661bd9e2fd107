package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/quantarena/arena/internal/fraud"
)

func (s *Server) handleTradeClosed(c *gin.Context) {
	var ev fraud.TradeClosed
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profile, err := s.engine.HandleTradeClosed(c.Request.Context(), ev)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"user_id":         profile.UserID,
		"retained_trades": len(profile.RecentTrades),
	})
}

func (s *Server) handlePaymentSeen(c *gin.Context) {
	var ev fraud.PaymentSeen
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.HandlePaymentSeen(c.Request.Context(), ev); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleDeviceSeen(c *gin.Context) {
	var ev fraud.DeviceSeen
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.HandleDeviceSeen(c.Request.Context(), ev); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleCompetitionEntered(c *gin.Context) {
	var ev fraud.CompetitionEntered
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.HandleCompetitionEntered(c.Request.Context(), ev); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleAccountRegistered(c *gin.Context) {
	var ev fraud.AccountRegistered
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.HandleAccountRegistered(c.Request.Context(), ev); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleGetProfile(c *gin.Context) {
	profile, err := s.engine.Profiles().Get(c.Request.Context(), c.Param("userID"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) handleGetScore(c *gin.Context) {
	score, err := s.engine.Scoring().GetScore(c.Request.Context(), c.Param("userID"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

type resetScoreRequest struct {
	ResetBy string `json:"reset_by" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

func (s *Server) handleResetScore(c *gin.Context) {
	var req resetScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	score, err := s.engine.Scoring().ResetScore(c.Request.Context(), c.Param("userID"), req.ResetBy, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (s *Server) handleListSimilarity(c *gin.Context) {
	threshold := 0.75
	if raw := c.Query("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
			return
		}
		threshold = parsed
	}
	records, err := s.engine.Similarity().DetectHighSimilarity(c.Request.Context(), threshold)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type reviewSimilarityRequest struct {
	UserID1  string `json:"user_id_1" binding:"required"`
	UserID2  string `json:"user_id_2" binding:"required"`
	Reviewer string `json:"reviewer" binding:"required"`
	Notes    string `json:"notes"`
}

func (s *Server) handleReviewSimilarity(c *gin.Context) {
	var req reviewSimilarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := s.engine.Similarity().MarkReviewed(c.Request.Context(), req.UserID1, req.UserID2, req.Reviewer, req.Notes)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	status := fraud.AlertStatus(c.DefaultQuery("status", string(fraud.AlertStatusPending)))
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	alerts, err := s.engine.Alerts().ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleGetAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	alert, err := s.engine.Alerts().Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type updateAlertStatusRequest struct {
	Status   fraud.AlertStatus `json:"status" binding:"required"`
	Reviewer string            `json:"reviewer" binding:"required"`
	Notes    string            `json:"notes"`
}

func (s *Server) handleUpdateAlertStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	var req updateAlertStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alert, err := s.engine.Alerts().UpdateStatus(c.Request.Context(), id, req.Status, req.Reviewer, req.Notes)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleRunSweep(c *gin.Context) {
	if s.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sweep disabled"})
		return
	}
	if err := s.sweeper.RunOnce(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, fraud.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, fraud.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, fraud.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
