package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RahmatullahZadran/appss/internal/httpx"
	"github.com/RahmatullahZadran/appss/internal/middleware"
)

// Routes collects the handlers and settings the API is built from.
type Routes struct {
	Auth         *AuthHandler
	User         *UserHandler
	ProfileImage *ProfileImageHandler
	Media        *MediaHandler
	Conversation *ConversationHandler
	Message      *MessageHandler
	WebSocket    *WebSocketHandler

	JWTSecret      string
	AllowedOrigins []string
	// Health reports backing service status; nil answers a plain ok.
	Health fiber.Handler
	// AccessLog enables Fiber's request logger.
	AccessLog bool
}

// NewApp builds the Fiber application with every route mounted.
func NewApp(r Routes) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Message Feed",
		// Support profile image uploads up to 5MB + overhead.
		BodyLimit: 8 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(middleware.Metrics())
	app.Use(requestid.New())
	if r.AccessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(r.AllowedOrigins),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		AllowCredentials: corsOrigins(r.AllowedOrigins) != "*",
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	health := r.Health
	if health == nil {
		health = func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "ok"})
		}
	}
	app.Get("/health", health)

	// Public routes
	api := app.Group("/api", middleware.OriginAllowed(r.AllowedOrigins))
	auth := api.Group("/auth", limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
	}))
	auth.Post("/register", r.Auth.Register)
	auth.Post("/login", r.Auth.Login)
	auth.Post("/logout", r.Auth.Logout)

	// Protected routes
	protected := api.Group("/", middleware.AuthRequired(r.JWTSecret))
	protected.Get("/users/me", r.User.GetCurrentUser)
	protected.Put("/users/me", r.User.UpdateProfile)
	protected.Put("/users/me/push-token", r.User.SetPushToken)
	protected.Post(
		"/users/me/profile-image",
		limiter.New(limiter.Config{
			Max:        10,
			Expiration: 10 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				if uid, err := httpx.LocalUint(c, "userID"); err == nil {
					return "profile-image:" + strconv.FormatUint(uint64(uid), 10)
				}
				return c.IP()
			},
		}),
		r.ProfileImage.Upload,
	)
	protected.Delete("/users/me/profile-image", r.ProfileImage.Delete)
	protected.Get("/users/:id", r.User.GetUser)
	protected.Get("/media/profile-images/*", r.Media.GetProfileImage)

	protected.Post("/conversations", r.Conversation.Open)
	protected.Get("/conversations", r.Conversation.Inbox)
	protected.Get("/conversations/:id", r.Conversation.Get)
	protected.Post("/conversations/:id/read", r.Conversation.MarkRead)
	protected.Patch("/conversations/:id/summaries/:user_id", r.Message.PatchSummary)
	protected.Get("/conversations/:id/messages", r.Message.ListMessages)
	protected.Post("/conversations/:id/messages", r.Message.AppendMessage)
	protected.Post("/conversations/:id/send", r.Message.SendMessage)

	// WebSocket route (websocket upgrade needs special handling)
	app.Use(
		"/ws",
		middleware.OriginAllowed(r.AllowedOrigins),
		middleware.AuthRequired(r.JWTSecret),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(r.WebSocket.HandleWebSocket))

	return app
}

// corsOrigins collapses to "*" when any entry is a bare wildcard; fiber
// refuses credentials with it.
func corsOrigins(allowed []string) string {
	if len(allowed) == 0 {
		return "*"
	}
	for _, o := range allowed {
		if strings.TrimSpace(o) == "*" {
			return "*"
		}
	}
	return strings.Join(allowed, ", ")
}
