package routes

import (
	"errors"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/unimarket/campus-market/internal/config"
	"github.com/unimarket/campus-market/internal/handlers"
	"github.com/unimarket/campus-market/internal/middleware"
	"github.com/unimarket/campus-market/internal/presence"
	"github.com/unimarket/campus-market/internal/repository"
	"github.com/unimarket/campus-market/internal/services"
	chatws "github.com/unimarket/campus-market/internal/websocket"
	"go.uber.org/zap"
)

// Dependencies are the long lived components main owns. Storage may be nil
// when uploads are not configured.
type Dependencies struct {
	DB      *pgxpool.Pool
	Tracker presence.Tracker
	Storage services.StorageService
	Hub     *chatws.Hub
	Limiter *middleware.UserRateLimiter
	Log     *zap.Logger
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) error {
	if deps.DB == nil || deps.Tracker == nil || deps.Hub == nil || deps.Limiter == nil {
		return errors.New("routes: missing dependency")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	userRepo := repository.NewUserRepository(deps.DB)
	profileRepo := repository.NewProfileRepository(deps.DB)
	itemRepo := repository.NewItemRepository(deps.DB)
	conversationRepo := repository.NewConversationRepository(deps.DB)
	messageRepo := repository.NewMessageRepository(deps.DB)

	authService := services.NewAuthService(deps.DB, userRepo, profileRepo, cfg.JWTSecret)
	profileService := services.NewProfileService(profileRepo, deps.Storage)
	catalogService := services.NewCatalogService(itemRepo, userRepo, profileRepo, deps.Storage)
	chatService := services.NewChatService(
		conversationRepo,
		messageRepo,
		userRepo,
		profileRepo,
		deps.Tracker,
		deps.Storage,
		cfg.DisplayLocation,
	)
	chatService.SetNotifier(deps.Hub)

	authHandler := handlers.NewAuthHandler(authService, !cfg.IsDevelopment(), log)
	profileHandler := handlers.NewProfileHandler(profileService, log)
	itemHandler := handlers.NewItemHandler(catalogService, log)
	chatHandler := handlers.NewChatHandler(chatService, deps.Hub, cfg.JWTSecret, log)

	requireAuth := middleware.AuthRequired(cfg.JWTSecret)
	limit := deps.Limiter.Handler()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if err := registerDocsRoutes(app, cfg); err != nil {
		return err
	}

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/logout", authHandler.Logout)
	auth.Get("/me", requireAuth, authHandler.Me)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	v1 := api.Group("/v1", requireAuth)
	v1.Get("/profile", profileHandler.GetProfile)
	v1.Put("/profile", profileHandler.UpdateProfile)
	v1.Post("/profile/avatar", profileHandler.UploadAvatar)
	v1.Get("/users/:id", profileHandler.GetPublicProfile)

	v1.Get("/categories", itemHandler.ListCategories)
	v1.Get("/categories/:slug/attributes", itemHandler.CategoryAttributes)
	v1.Get("/items", itemHandler.ListItems)
	v1.Post("/items", itemHandler.CreateItem)
	v1.Get("/items/mine", itemHandler.ListMyItems)
	v1.Get("/items/:id", itemHandler.GetItem)
	v1.Put("/items/:id", itemHandler.UpdateItem)
	v1.Delete("/items/:id", itemHandler.DeleteItem)
	v1.Get("/items/:id/contact", itemHandler.ContactSeller)

	chat := app.Group("/chat", requireAuth)
	chat.Get("", chatHandler.Inbox)
	chat.Get("/unread", chatHandler.UnreadCount)
	chat.Get("/start/:userID", chatHandler.StartConversation)
	chat.Get("/:id<int>", chatHandler.OpenRoom)
	chat.Post("/:id<int>", limit, chatHandler.SendMessage)
	chat.Get("/:id<int>/messages", chatHandler.PollMessages)
	chat.Get("/:id<int>/typing", chatHandler.TypingStatus)
	chat.Post("/:id<int>/typing", limit, chatHandler.SetTyping)
	chat.All("/:id<int>/typing/update", limit, chatHandler.UpdateTyping)

	return nil
}
