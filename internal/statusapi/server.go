package statusapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/w3gshost/w3gshost/internal/hostloop"
	"github.com/w3gshost/w3gshost/internal/util"
)

// Config holds the status API's bind address and CORS allow-list.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server is the read-only status HTTP server for one lobby, plus the two
// operator control endpoints.
type Server struct {
	cfg  Config
	loop *hostloop.Loop

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer wires a status API around a running host loop.
func NewServer(cfg Config, loop *hostloop.Loop) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, loop: loop}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: allowed,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/status", s.handleStatus)
	router.GET("/status/slots", s.handleSlots)
	router.GET("/status/host", s.handleHost)
	router.POST("/control/countdown", s.handleStartCountdown)
	router.POST("/control/kick/:pid", s.handleKick)

	return router
}

// Start runs the HTTP server until Stop is called. Blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.cfg.Addr).Msg("status API listening")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusapi: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.loop.Snapshots().Load()
	c.JSON(http.StatusOK, gin.H{
		"host_counter":  snap.HostCounter,
		"game_name":     snap.GameName,
		"phase":         snap.Phase.String(),
		"tick":          snap.Tick,
		"players_total": snap.PlayersTotal,
		"slots_free":    snap.SlotsFree,
		"sync_counter":  snap.SyncCounter,
		"players":       snap.Players,
	})
}

func (s *Server) handleSlots(c *gin.Context) {
	snap := s.loop.Snapshots().Load()
	c.JSON(http.StatusOK, gin.H{"slots": snap.Slots})
}

// handleHost reports the host machine's own health, not the lobby's —
// CPU, memory and system info are all gathered anew on each request.
func (s *Server) handleHost(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if cpuPct, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpuPct
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStartCountdown(c *gin.Context) {
	s.loop.SubmitStartCountDown()
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) handleKick(c *gin.Context) {
	pid, err := strconv.ParseUint(c.Param("pid"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return
	}
	s.loop.SubmitKickPlayer(byte(pid), "status api")
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
