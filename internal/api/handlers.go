package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/guard"
	"github.com/nadpilot/nadpilot/internal/orchestrator"
	"github.com/nadpilot/nadpilot/internal/runrecord"
)

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if s.guard != nil {
		state := s.guard.Snapshot()
		resp["mode"] = state.Mode
		resp["killSwitchActive"] = state.KillSwitchActive
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run records are not configured"})
		return
	}
	entries, err := s.records.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []runrecord.IndexEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": entries, "count": len(entries)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run records are not configured"})
		return
	}
	rec, err := s.records.Fetch(c.Param("id"))
	if errors.Is(err, runrecord.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body, err := rec.CanonicalJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleGetRunEvents(c *gin.Context) {
	if s.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run records are not configured"})
		return
	}
	rec, err := s.records.Fetch(c.Param("id"))
	if errors.Is(err, runrecord.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": rec.ID, "events": rec.Events, "count": len(rec.Events)})
}

type triggerRunRequest struct {
	Query        string `json:"query"`
	TokenAddress string `json:"tokenAddress"`
}

// handleTriggerRun starts an evaluation run in the background. Runs take
// up to the full run deadline, so the response is an acknowledgement,
// not the result; clients follow progress over the websocket.
func (s *Server) handleTriggerRun(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run trigger is not configured"})
		return
	}

	var req triggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Query == "" && req.TokenAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query or tokenAddress is required"})
		return
	}

	go func() {
		_, err := s.trigger.Run(context.Background(), orchestrator.Trigger{
			Source:       "manual",
			Query:        req.Query,
			TokenAddress: req.TokenAddress,
		})
		if err != nil {
			log.Warn().Err(err).Str("query", req.Query).Msg("Manually triggered run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// handleGetMetrics serves the in-process latency tracker. Every figure
// carries a source tag so consumers can tell measured samples from
// config references and simulation estimates.
func (s *Server) handleGetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleListApprovals(c *gin.Context) {
	if s.approvals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "approvals are not configured"})
		return
	}
	pending := s.approvals.Pending()
	c.JSON(http.StatusOK, gin.H{"approvals": pending, "count": len(pending)})
}

type resolveApprovalRequest struct {
	Action string `json:"action" binding:"required"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleResolveApproval(c *gin.Context) {
	if s.approvals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "approvals are not configured"})
		return
	}

	var req resolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	decisionID := c.Param("id")
	switch req.Action {
	case "approve":
		approval, err := s.approvals.Approve(decisionID, actor)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "approval": approval})
			return
		}
		c.JSON(http.StatusOK, gin.H{"approval": approval})
	case "reject":
		approval, err := s.approvals.Reject(decisionID, actor, req.Reason)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "approval": approval})
			return
		}
		c.JSON(http.StatusOK, gin.H{"approval": approval})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be approve or reject"})
	}
}

func (s *Server) handleAdminStatus(c *gin.Context) {
	if s.guard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "guard is not configured"})
		return
	}
	c.JSON(http.StatusOK, s.guard.Snapshot())
}

type setModeRequest struct {
	Mode  string `json:"mode" binding:"required"`
	Actor string `json:"actor"`
}

func (s *Server) handleSetMode(c *gin.Context) {
	if s.guard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "guard is not configured"})
		return
	}

	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	mode, err := guard.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	if err := s.guard.SetMode(mode, actor); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.guard.Snapshot())
}

type killSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (s *Server) handleKillSwitch(c *gin.Context) {
	if s.guard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "guard is not configured"})
		return
	}

	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	var err error
	if req.Active {
		reason := req.Reason
		if reason == "" {
			reason = "activated via API"
		}
		err = s.guard.ActivateKillSwitch(reason, actor)
	} else {
		err = s.guard.DeactivateKillSwitch(actor)
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.guard.Snapshot())
}
