// Package api provides the REST and WebSocket control surface for the
// local UI.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luna-net/luna-node/internal/config"
	"github.com/luna-net/luna-node/internal/newrelic"
	"github.com/luna-net/luna-node/internal/node"
	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/util"
)

// Server is the API server
type Server struct {
	cfg    *config.Config
	node   *node.Node
	agent  *newrelic.Agent
	router *gin.Engine
	server *http.Server

	// Status cache: GetStatus persists a snapshot on every call, so the
	// API keeps its own short TTL on top of the network poll throttle.
	statusCacheMu   sync.RWMutex
	statusCache     *storage.StatusSnapshot
	statusCacheTime time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, n *node.Node, agent *newrelic.Agent) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:   cfg,
		node:  n,
		agent: agent,
	}
	s.router = router

	s.setupRoutes()
	return s
}

// setupRoutes configures API endpoints
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.apmMiddleware())

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/history", s.handleHistory)
		api.GET("/logs", s.handleLogs)

		mining := api.Group("/mining")
		{
			mining.POST("/start", s.handleStartMining)
			mining.POST("/stop", s.handleStopMining)
			mining.POST("/toggle", s.handleToggleMining)
			mining.POST("/cpu", s.handleToggleCPU)
			mining.POST("/gpu", s.handleToggleGPU)
			mining.POST("/mine", s.handleMineOnce)
		}

		settings := api.Group("/settings")
		{
			settings.POST("/wallet", s.handleSetWallet)
			settings.POST("/difficulty", s.handleSetDifficulty)
			settings.POST("/node-url", s.handleSetNodeURL)
			settings.POST("/performance", s.handleSetPerformance)
			settings.POST("/interval", s.handleSetInterval)
			settings.POST("/algorithm", s.handleSetAlgorithm)
			settings.POST("/gpu", s.handleSetGPU)
			settings.POST("/automine", s.handleSetAutoMine)
		}

		api.POST("/network/sync", s.handleNetworkSync)
	}

	s.router.GET("/ws/status", s.handleStatusWS)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "mining": s.node.Mining()})
	})
}

// corsMiddleware applies the configured allowed origins
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(s.cfg.API.CORSOrigins))
	for _, origin := range s.cfg.API.CORSOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// apmMiddleware reports each request as a New Relic web transaction.
// Transaction methods are nil-safe, so this is a no-op when APM is off.
func (s *Server) apmMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := s.agent.StartTransaction(c.Request.Method + " " + c.FullPath())
		defer txn.End()
		txn.SetWebRequestHTTP(c.Request)
		c.Next()
	}
}

// Start begins the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.API.Bind,
		Handler: s.router,
	}

	util.Infof("API server listening on %s", s.cfg.API.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the API server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleStatus returns the full node status snapshot
func (s *Server) handleStatus(c *gin.Context) {
	s.statusCacheMu.RLock()
	if s.statusCache != nil && time.Since(s.statusCacheTime) < s.cfg.API.StatusCache {
		cache := s.statusCache
		s.statusCacheMu.RUnlock()
		c.JSON(200, cache)
		return
	}
	s.statusCacheMu.RUnlock()

	status := s.node.GetStatus(c.Request.Context())

	s.statusCacheMu.Lock()
	s.statusCache = &status
	s.statusCacheTime = time.Now()
	s.statusCacheMu.Unlock()

	c.JSON(200, status)
}

// handleHistory returns recent mining attempts, newest last
func (s *Server) handleHistory(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "50"), 50)

	history, err := s.node.GetMiningHistory(limit)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load mining history"})
		return
	}
	if history == nil {
		history = []storage.HistoryRecord{}
	}

	c.JSON(200, gin.H{"history": history, "count": len(history)})
}

// handleLogs returns recent node log entries
func (s *Server) handleLogs(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "100"), 100)

	logs := s.node.GetLogs(limit)
	if logs == nil {
		logs = []storage.LogEntry{}
	}

	c.JSON(200, gin.H{"logs": logs, "count": len(logs)})
}

// handleStartMining launches the mining loop
func (s *Server) handleStartMining(c *gin.Context) {
	if !s.node.Start() {
		c.JSON(409, gin.H{"error": "Mining could not start", "mining": s.node.Mining()})
		return
	}
	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "mining": true})
}

// handleStopMining stops the mining loop
func (s *Server) handleStopMining(c *gin.Context) {
	if !s.node.Stop() {
		c.JSON(409, gin.H{"error": "A lifecycle transition is already in flight", "mining": s.node.Mining()})
		return
	}
	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "mining": false})
}

// handleToggleMining flips the mining state
func (s *Server) handleToggleMining(c *gin.Context) {
	mining := s.node.Toggle()
	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "mining": mining})
}

// handleToggleCPU flips CPU mining on or off
func (s *Server) handleToggleCPU(c *gin.Context) {
	active := s.node.ToggleCPU()
	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "active": active, "method": s.node.ActiveMethod(), "mining": s.node.Mining()})
}

// handleToggleGPU flips GPU mining on or off; 409 when no backend is linked
func (s *Server) handleToggleGPU(c *gin.Context) {
	if !s.node.GPUAvailable() {
		c.JSON(409, gin.H{"error": "no GPU backend available", "mining": s.node.Mining()})
		return
	}
	active := s.node.ToggleGPU()
	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "active": active, "method": s.node.ActiveMethod(), "mining": s.node.Mining()})
}

// handleMineOnce runs one manual mining attempt
func (s *Server) handleMineOnce(c *gin.Context) {
	success, message := s.node.MineOnce(c.Request.Context())
	s.dropStatusCache()
	code := 200
	if !success {
		code = 422
	}
	c.JSON(code, gin.H{"success": success, "message": message})
}

// WalletRequest sets the payout address
type WalletRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleSetWallet(c *gin.Context) {
	var req WalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.UpdateWalletAddress(req.Address); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "address": req.Address})
}

// DifficultyRequest sets the configured mining difficulty
type DifficultyRequest struct {
	Difficulty int `json:"difficulty"`
}

func (s *Server) handleSetDifficulty(c *gin.Context) {
	var req DifficultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.UpdateDifficulty(req.Difficulty); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "difficulty": req.Difficulty})
}

// NodeURLRequest switches the chain endpoint
type NodeURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSetNodeURL(c *gin.Context) {
	var req NodeURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.UpdateNodeURL(req.URL); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "url": req.URL})
}

// PerformanceRequest sets the CPU share used for hashing
type PerformanceRequest struct {
	Level int `json:"level"`
}

func (s *Server) handleSetPerformance(c *gin.Context) {
	var req PerformanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.UpdatePerformanceLevel(req.Level); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, gin.H{"status": "ok", "level": req.Level})
}

// IntervalRequest sets the delay between failed attempts
type IntervalRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) handleSetInterval(c *gin.Context) {
	var req IntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.UpdateMiningInterval(req.Seconds); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, gin.H{"status": "ok", "seconds": req.Seconds})
}

// AlgorithmRequest switches the hash algorithm
type AlgorithmRequest struct {
	Algorithm string `json:"algorithm"`
}

func (s *Server) handleSetAlgorithm(c *gin.Context) {
	var req AlgorithmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.UpdateHashAlgorithm(req.Algorithm); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "algorithm": s.node.Settings().HashAlgorithm})
}

// ToggleRequest enables or disables a boolean setting
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetGPU(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.SetGPUAcceleration(req.Enabled); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	s.dropStatusCache()
	c.JSON(200, gin.H{"status": "ok", "enabled": req.Enabled})
}

func (s *Server) handleSetAutoMine(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.node.SetAutoMine(req.Enabled); err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, gin.H{"status": "ok", "enabled": req.Enabled})
}

// handleNetworkSync drops the poll cache and refetches the network state
func (s *Server) handleNetworkSync(c *gin.Context) {
	snap := s.node.SyncNetwork(c.Request.Context())
	s.dropStatusCache()

	resp := gin.H{
		"height":       snap.Height,
		"mempool_size": snap.MempoolSize,
		"fetched_at":   snap.FetchedAt.Unix(),
	}
	if snap.Latest != nil {
		resp["latest_hash"] = snap.Latest.Hash
		resp["latest_index"] = snap.Latest.Index
	}
	c.JSON(200, resp)
}

func (s *Server) dropStatusCache() {
	s.statusCacheMu.Lock()
	s.statusCache = nil
	s.statusCacheMu.Unlock()
}

// parseLimit parses a limit query value, falling back on garbage
func parseLimit(raw string, fallback int) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}
