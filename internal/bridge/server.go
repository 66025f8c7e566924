package bridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/playlimit/internal/metrics"
	"github.com/goodtune/playlimit/internal/playtime"
	"github.com/rs/zerolog"
)

// Sessions receives connect and disconnect events.
type Sessions interface {
	OnConnect(userID string, pos playtime.Position)
	OnDisconnect(userID string)
}

// CommandRunner answers player commands.
type CommandRunner interface {
	Run(ctx context.Context, userID, command string, args []string) (string, error)
}

// NameRecorder stores display names reported by the game host.
type NameRecorder interface {
	Remember(userID, name string)
}

// Config holds bridge server settings
type Config struct {
	ListenAddr string
	Token      string
}

// Server is the HTTP API the game host talks to.
type Server struct {
	config   Config
	host     *Host
	sessions Sessions
	commands CommandRunner
	names    NameRecorder
	router   *gin.Engine
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

type connectRequest struct {
	ID   string  `json:"id" binding:"required"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type disconnectRequest struct {
	ID string `json:"id" binding:"required"`
}

type positionSample struct {
	ID string  `json:"id" binding:"required"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type positionsRequest struct {
	Positions []positionSample `json:"positions" binding:"dive"`
}

type commandRequest struct {
	PlayerID string   `json:"player_id"`
	Command  string   `json:"command" binding:"required"`
	Args     []string `json:"args"`
}

// NewServer creates the bridge server.
func NewServer(cfg Config, host *Host, sessions Sessions, commands CommandRunner, names NameRecorder, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:   cfg,
		host:     host,
		sessions: sessions,
		commands: commands,
		names:    names,
		router:   gin.New(),
		logger:   logger.With().Str("component", "bridge").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	v1.Use(TokenMiddleware(s.config.Token))
	v1.POST("/players/connect", s.handleConnect)
	v1.POST("/players/disconnect", s.handleDisconnect)
	v1.POST("/players/positions", s.handlePositions)
	v1.POST("/commands", s.handleCommand)
	v1.GET("/actions", s.handleActions)
}

// TokenMiddleware requires "Authorization: Bearer <token>" when token is set.
func TokenMiddleware(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token == "" {
			ctx.Next()
			return
		}

		parts := strings.SplitN(ctx.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" ||
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			ctx.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid bridge token",
			})
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}

// LoggingMiddleware logs and counts every request.
func LoggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := ctx.Writer.Status()
		metrics.BridgeRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		logger.Debug().
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Str("remote_addr", ctx.ClientIP()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Bridge request")
	}
}

func (s *Server) handleHealth(ctx *gin.Context) {
	ctx.String(http.StatusOK, "OK")
}

func (s *Server) handleConnect(ctx *gin.Context) {
	var req connectRequest
	if !s.bind(ctx, &req) {
		return
	}

	pos := playtime.Position{X: req.X, Y: req.Y}
	s.names.Remember(req.ID, req.Name)
	// The host mirror must know the player before the engine can kick it.
	s.host.Connect(req.ID, pos)
	s.sessions.OnConnect(req.ID, pos)

	ctx.Status(http.StatusNoContent)
}

func (s *Server) handleDisconnect(ctx *gin.Context) {
	var req disconnectRequest
	if !s.bind(ctx, &req) {
		return
	}

	s.sessions.OnDisconnect(req.ID)
	s.host.Disconnect(req.ID)

	ctx.Status(http.StatusNoContent)
}

func (s *Server) handlePositions(ctx *gin.Context) {
	var req positionsRequest
	if !s.bind(ctx, &req) {
		return
	}

	samples := make(map[string]playtime.Position, len(req.Positions))
	for _, p := range req.Positions {
		samples[p.ID] = playtime.Position{X: p.X, Y: p.Y}
	}
	if accepted := s.host.UpdatePositions(samples); accepted < len(samples) {
		s.logger.Debug().Int("accepted", accepted).Int("received", len(samples)).Msg("Ignored samples for offline players")
	}

	ctx.Status(http.StatusNoContent)
}

func (s *Server) handleCommand(ctx *gin.Context) {
	var req commandRequest
	if !s.bind(ctx, &req) {
		return
	}

	message, err := s.commands.Run(ctx.Request.Context(), req.PlayerID, req.Command, req.Args)
	if err != nil {
		if errors.Is(err, playtime.ErrUnknownCommand) {
			ctx.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Unknown command: " + req.Command,
			})
			return
		}
		s.logger.Error().Err(err).Str("command", req.Command).Msg("Command failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"error":   "server_error",
			"message": "Command failed",
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": message})
}

func (s *Server) handleActions(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"actions": s.host.Drain()})
}

func (s *Server) bind(ctx *gin.Context, req any) bool {
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return false
	}
	return true
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the bridge server in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Bool("token", s.config.Token != "").Msg("Starting bridge server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated bridge listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Bridge server error")
		}
	}()
	return nil
}

// Stop gracefully stops the bridge server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("Stopping bridge server")
	return s.server.Shutdown(ctx)
}
