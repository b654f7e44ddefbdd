package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/metrics"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/proxypool"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/scheduler"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/storage"
)

type Server struct {
	config      *config.Config
	scheduler   *scheduler.Scheduler
	store       storage.Store
	pool        *proxypool.Pool
	metrics     *metrics.Collector
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

func NewServer(cfg *config.Config, sched *scheduler.Scheduler, store storage.Store,
	pool *proxypool.Pool, collector *metrics.Collector) *Server {

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		scheduler:   sched,
		store:       store,
		pool:        pool,
		metrics:     collector,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	s.router.GET("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	protected := s.router.Group("/api")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.GET("/deals", s.handleDeals)
	protected.GET("/stats", s.handleStats)
	protected.POST("/scheduler/run", s.handleSchedulerRun)
	protected.POST("/scheduler/tasks/:name/enable", s.handleTaskEnable)
	protected.POST("/scheduler/tasks/:name/disable", s.handleTaskDisable)
	protected.PUT("/scheduler/tasks/:name/interval", s.handleTaskInterval)
	protected.GET("/proxies/stats", s.handleProxyStats)
	protected.POST("/proxies/reset", s.handleProxyReset)
	protected.POST("/proxies/probe", s.handleProxyProbe)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
		}).Info("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		s.metrics.RecordAPIRequest(method, path, status)
		s.metrics.RecordAPIDuration(method, path, time.Since(start).Seconds())
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warn("API key not set in environment, authentication disabled")
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := s.rateLimiter.GetLimiter(c.ClientIP())

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleDeals(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit parameter",
			})
			return
		}
		limit = parsed
	}

	deals, err := s.store.RecentDeals(limit)
	if err != nil {
		log.Errorf("Failed to load deals: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load deals",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(deals),
		"deals": deals,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scheduler": s.scheduler.Stats(),
		"proxy":     s.pool.Stats(),
	})
}

func (s *Server) handleSchedulerRun(c *gin.Context) {
	log.Info("Manual scheduler run triggered via API")

	go func() {
		results := s.scheduler.RunAllOnce(context.Background())
		log.Infof("Manual run complete: %d sources", len(results))
	}()

	c.JSON(http.StatusOK, gin.H{
		"message": "Run triggered",
	})
}

func (s *Server) handleTaskEnable(c *gin.Context) {
	name := c.Param("name")
	s.scheduler.Enable(name)
	c.JSON(http.StatusOK, gin.H{"task": name, "enabled": true})
}

func (s *Server) handleTaskDisable(c *gin.Context) {
	name := c.Param("name")
	s.scheduler.Disable(name)
	c.JSON(http.StatusOK, gin.H{"task": name, "enabled": false})
}

func (s *Server) handleTaskInterval(c *gin.Context) {
	name := c.Param("name")
	seconds, err := strconv.Atoi(c.Query("seconds"))
	if err != nil || seconds < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid seconds parameter",
		})
		return
	}

	s.scheduler.SetInterval(name, seconds)
	c.JSON(http.StatusOK, gin.H{"task": name, "interval_seconds": seconds})
}

func (s *Server) handleProxyStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.pool.Stats())
}

func (s *Server) handleProxyReset(c *gin.Context) {
	s.pool.ResetAll()
	c.JSON(http.StatusOK, gin.H{"message": "Proxy pool reset"})
}

// handleProxyProbe tests every identity against the configured test URL
// and folds the outcome into its health counters.
func (s *Server) handleProxyProbe(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	results := make(map[string]bool)
	for _, identity := range s.pool.Identities() {
		ok := s.pool.TestIdentity(ctx, identity.Address)
		if ok {
			s.pool.ReportSuccess(identity.Address)
		} else {
			s.pool.ReportFailure(identity.Address, false)
		}
		results[identity.Address] = ok
	}

	c.JSON(http.StatusOK, gin.H{
		"probed":  len(results),
		"results": results,
	})
}
