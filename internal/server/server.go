// Package server exposes the triage pipeline and the consultant over HTTP.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"critgate/internal/consultant"
	"critgate/internal/judgment"
	"critgate/internal/ledger"
	"critgate/internal/triage"
	"critgate/internal/tunnel"
)

// Server wires the HTTP routes to the pipeline components.
type Server struct {
	tunnel     *tunnel.Tunnel
	consultant *consultant.Consultant
	scheduler  *consultant.Scheduler
	strictMode bool
	log        *zap.Logger
	engine     *gin.Engine
}

// New builds the server and registers all routes.
func New(t *tunnel.Tunnel, c *consultant.Consultant, s *consultant.Scheduler, strictMode bool, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	srv := &Server{
		tunnel:     t,
		consultant: c,
		scheduler:  s,
		strictMode: strictMode,
		log:        log,
		engine:     engine,
	}
	engine.Use(gin.Recovery(), srv.requestLogger())
	srv.routes()
	return srv
}

// Handler returns the http.Handler for embedding in an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) routes() {
	s.engine.POST("/ingest", s.handleIngest)
	s.engine.POST("/process-single", s.handleProcessSingle)
	s.engine.GET("/channels", s.handleListChannels)
	s.engine.POST("/channels", s.handleCreateChannel)
	s.engine.GET("/bins", s.handleListBins)
	s.engine.GET("/bins/:id", s.handleGetBin)
	s.engine.GET("/stats", s.handleStats)

	con := s.engine.Group("/consultant")
	con.POST("/agents", s.handleRegisterAgent)
	con.POST("/examine", s.handleExamine)
	con.POST("/evaluate/:agent_id", s.handleEvaluate)
	con.POST("/ask", s.handleAsk)
	con.POST("/start-evaluation-loop", s.handleStartLoop)
	con.POST("/stop-evaluation-loop", s.handleStopLoop)
	con.GET("/next-evaluation", s.handleNextEvaluation)
	con.GET("/leaderboard", s.handleLeaderboard)
	con.GET("/agent/:id/performance", s.handlePerformance)
	con.GET("/stats", s.handleConsultantStats)
}

// abortErr maps pipeline errors onto HTTP statuses.
func (s *Server) abortErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var invalid *triage.ErrInvalidSuggestion
	switch {
	case errors.Is(err, tunnel.ErrChannelNotFound),
		errors.Is(err, ledger.ErrAgentNotRegistered):
		status = http.StatusNotFound
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.Is(err, judgment.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// =============================================================================
// INGESTION ROUTES
// =============================================================================

type ingestRequest struct {
	ChannelID   string              `json:"channel_id" binding:"required"`
	Suggestions []triage.Suggestion `json:"suggestions" binding:"required"`
	BinName     string              `json:"bin_name"`
	UseAI       bool                `json:"use_ai"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.tunnel.Ingest(c.Request.Context(), req.ChannelID, req.Suggestions, req.BinName, req.UseAI || s.strictMode)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type processSingleRequest struct {
	ChannelID  string            `json:"channel_id" binding:"required"`
	Suggestion triage.Suggestion `json:"suggestion" binding:"required"`
	UseAI      bool              `json:"use_ai"`
}

func (s *Server) handleProcessSingle(c *gin.Context) {
	var req processSingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.tunnel.ProcessSingle(c.Request.Context(), req.ChannelID, req.Suggestion, req.UseAI || s.strictMode)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type createChannelRequest struct {
	Name           string            `json:"name" binding:"required"`
	Description    string            `json:"description"`
	FilterCriteria map[string]string `json:"filter_criteria"`
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch := s.tunnel.CreateChannel(req.Name, req.Description, req.FilterCriteria)
	c.JSON(http.StatusCreated, ch)
}

func (s *Server) handleListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": s.tunnel.Channels()})
}

func (s *Server) handleListBins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bins": s.tunnel.Bins(c.Query("channel_id"))})
}

func (s *Server) handleGetBin(c *gin.Context) {
	bin, ok := s.tunnel.Bin(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "bin not found"})
		return
	}
	c.JSON(http.StatusOK, bin)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.tunnel.Snapshot())
}

// =============================================================================
// CONSULTANT ROUTES
// =============================================================================

type registerAgentRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.consultant.Ledger().RegisterAgent(req.AgentID); err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent_id": req.AgentID})
}

type examineRequest struct {
	Suggestion triage.Suggestion `json:"suggestion" binding:"required"`
	AgentID    string            `json:"agent_id"`
}

func (s *Server) handleExamine(c *gin.Context) {
	var req examineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	verdict, err := s.consultant.ExamineSuggestion(c.Request.Context(), req.Suggestion, req.AgentID)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	res, err := s.consultant.EvaluateAgent(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	answer, err := s.consultant.Ask(c.Request.Context(), req.Question)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (s *Server) handleStartLoop(c *gin.Context) {
	started := s.scheduler.Start()
	c.JSON(http.StatusOK, gin.H{"running": true, "started": started})
}

func (s *Server) handleStopLoop(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) handleNextEvaluation(c *gin.Context) {
	rem, running := s.scheduler.TimeUntilNext()
	c.JSON(http.StatusOK, gin.H{
		"running":        running,
		"remaining":      rem.String(),
		"remaining_secs": rem.Seconds(),
	})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	topN := 10
	if v := c.Query("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_n must be a positive integer"})
			return
		}
		topN = n
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": s.consultant.Ledger().Leaderboard(topN)})
}

func (s *Server) handlePerformance(c *gin.Context) {
	agentID := c.Param("id")
	rec, err := s.consultant.Ledger().Performance(agentID)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	fear, state, err := s.consultant.CurrentFear(agentID)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	history, _ := s.consultant.Ledger().History(agentID)
	c.JSON(http.StatusOK, gin.H{
		"performance": rec,
		"fear_level":  fear,
		"fear_state":  state,
		"awards":      history,
	})
}

func (s *Server) handleConsultantStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.consultant.Stats())
}
