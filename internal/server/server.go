package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"coderoom-backend/internal/auth"
	"coderoom-backend/internal/cache"
	"coderoom-backend/internal/config"
	"coderoom-backend/internal/database"
	"coderoom-backend/internal/handler"
	"coderoom-backend/internal/runner"
	"coderoom-backend/internal/session"
)

// Server Fiber server wrapper
type Server struct {
	app            *fiber.App
	cfg            *config.Config
	db             *gorm.DB           // nil when no database is configured
	redis          *cache.RedisClient // nil when no Redis is configured
	store          *session.Store
	hub            *handler.RoomHub
	authHandler    *handler.AuthHandler
	roomHandler    *handler.RoomHandler
	snippetHandler *handler.SnippetHandler
	jwtManager     *auth.JWTManager
	sweeperStop    chan struct{}
	stopOnce       sync.Once
}

// New creates the server and wires all handlers.
func New(cfg *config.Config, db *gorm.DB, redisClient *cache.RedisClient) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "CodeRoom Collaboration Server",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // incompatible with WebSocket connections
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             2 * 1024 * 1024,
		DisableStartupMessage: false,
	})

	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	googleAuth := auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)
	authHandler := handler.NewAuthHandler(jwtManager, googleAuth, cfg.Auth.SecureCookie, cfg.Auth.AccessTokenExpiry)

	store := session.NewStore()
	runnerClient := runner.NewClient(&cfg.Runner)
	hub := handler.NewRoomHub(store, runnerClient, redisClient, cfg)
	roomHandler := handler.NewRoomHandler(store, redisClient)

	var snippetHandler *handler.SnippetHandler
	if db != nil {
		snippetHandler = handler.NewSnippetHandler(db)
	}

	return &Server{
		app:            app,
		cfg:            cfg,
		db:             db,
		redis:          redisClient,
		store:          store,
		hub:            hub,
		authHandler:    authHandler,
		roomHandler:    roomHandler,
		snippetHandler: snippetHandler,
		jwtManager:     jwtManager,
		sweeperStop:    make(chan struct{}),
	}
}

// SetupMiddleware installs the global middleware chain.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "UTC",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes wires every endpoint.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.handleHealth)

	// brute force protection on the token endpoints
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	authGroup := s.app.Group("/auth")
	authGroup.Post("/guest", authLimiter, s.authHandler.GuestLogin)
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", auth.Middleware(s.jwtManager), s.authHandler.Logout)
	authGroup.Get("/me", auth.Middleware(s.jwtManager), s.authHandler.GetMe)

	s.app.Get("/api/languages", s.roomHandler.ListLanguages)

	roomGroup := s.app.Group("/api/rooms", auth.Middleware(s.jwtManager))
	roomGroup.Post("/", s.roomHandler.CreateRoom)
	roomGroup.Get("/:id", s.roomHandler.GetRoom)
	roomGroup.Get("/:id/executions", s.roomHandler.GetRecentExecutions)

	// snippet storage requires a configured database
	if s.snippetHandler != nil {
		snippetGroup := s.app.Group("/api/snippets", auth.Middleware(s.jwtManager))
		snippetGroup.Post("/", s.snippetHandler.CreateSnippet)
		snippetGroup.Get("/", s.snippetHandler.ListSnippets)
		snippetGroup.Get("/:id", s.snippetHandler.GetSnippet)
		snippetGroup.Put("/:id", s.snippetHandler.UpdateSnippet)
		snippetGroup.Delete("/:id", s.snippetHandler.DeleteSnippet)
	} else {
		log.Println("ℹ️ Snippet storage not configured (set DB_HOST to enable)")
	}

	// WebSocket upgrade check
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// room protocol endpoint; the token travels in the header, the
	// access_token cookie, or a ?token= query param
	s.app.Get("/ws/room", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := auth.TokenFromRequest(c)
		if token == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := s.jwtManager.ValidateAccessToken(token)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userID", claims.UserID)
		c.Locals("displayName", claims.DisplayName)

		return c.Next()
	}, websocket.New(s.hub.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// handleHealth reports component status. Optional components report
// "disabled" rather than failing the check.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	checks := fiber.Map{
		"server": "ok",
		"rooms":  s.store.Count(),
	}
	status := fiber.StatusOK

	if s.db != nil {
		if err := database.Ping(); err != nil {
			checks["database"] = "unreachable"
			status = fiber.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "disabled"
	}

	if s.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.redis.Health(ctx); err != nil {
			checks["redis"] = "unreachable"
			status = fiber.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "disabled"
	}

	return c.Status(status).JSON(checks)
}

// Start runs the server with graceful shutdown support.
func (s *Server) Start() error {
	go s.store.RunSweeper(s.cfg.Room.IdleSweepInterval, s.cfg.Room.IdleMaxAge, s.sweeperStop)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		s.stopSweeper()
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 CodeRoom server starting on %s", s.cfg.Server.Port)
	log.Printf("📡 Room endpoint: ws://localhost%s/ws/room", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	s.stopSweeper()
	return s.app.ShutdownWithTimeout(30 * time.Second)
}

func (s *Server) stopSweeper() {
	s.stopOnce.Do(func() {
		close(s.sweeperStop)
	})
}
