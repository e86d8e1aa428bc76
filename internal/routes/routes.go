package routes

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/mrsonukr/instaguruv2-sub000/internal/config"
	"github.com/mrsonukr/instaguruv2-sub000/internal/configstore"
	"github.com/mrsonukr/instaguruv2-sub000/internal/dispatch"
	"github.com/mrsonukr/instaguruv2-sub000/internal/events"
	"github.com/mrsonukr/instaguruv2-sub000/internal/handlers"
	"github.com/mrsonukr/instaguruv2-sub000/internal/ledger"
	"github.com/mrsonukr/instaguruv2-sub000/internal/matcher"
	"github.com/mrsonukr/instaguruv2-sub000/internal/middleware"
	"github.com/mrsonukr/instaguruv2-sub000/internal/notify"
	"github.com/mrsonukr/instaguruv2-sub000/internal/paygate"
	"github.com/mrsonukr/instaguruv2-sub000/internal/register"
)

// Register wires up all HTTP routes and returns the event emitter so
// main can run the notification consumer.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) *events.Emitter {
	configStore := configstore.New(db)
	ldg := ledger.New(db)

	telegram := notify.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChats)
	emitter := events.NewEmitter(redisClient(cfg.RedisURL), telegram)

	var pull matcher.PullAdapter
	if cfg.AggregatorMerchantID != "" {
		pull = paygate.NewClient(cfg.AggregatorBaseURL, cfg.AggregatorMerchantID, cfg.AggregatorTokenEnv, configStore, ldg)
	} else {
		log.Println("[Routes] Aggregator merchant id not set, running webhook-only")
	}

	match := matcher.New(ldg, pull, emitter, cfg.LookbackWindow)

	dispatcher := dispatch.New(map[dispatch.Provider]dispatch.Credentials{
		dispatch.ProviderJAP:      {BaseURL: cfg.ProviderJAPBaseURL, APIKey: cfg.ProviderJAPKey},
		dispatch.ProviderSMMFlare: {BaseURL: cfg.ProviderSMMFlareBaseURL, APIKey: cfg.ProviderSMMFlareKey},
	}, nil)

	reg := register.New(db, ldg, match, dispatcher, emitter)

	paymentHandler := handlers.NewPaymentHandler(db, ldg, match, cfg.ForwardWebhookURL)
	orderHandler := handlers.NewOrderHandler(db, reg)
	adminHandler := handlers.NewAdminHandler(db, cfg, configStore)
	qrHandler := handlers.NewQRHandler(cfg.UPIAddress, cfg.UPIPayeeName)

	api := app.Group("/api")

	api.Get("/amount/:paise", paymentHandler.AmountCheck)
	api.Post("/webhook", paymentHandler.Webhook)
	api.Post("/rpwebhook", paymentHandler.RazorpayWebhook)

	api.Post("/neworder", orderHandler.NewOrder)
	api.Get("/orders", orderHandler.ListOrders)
	api.Get("/order/:id", orderHandler.GetOrder)
	api.Get("/search", orderHandler.Search)

	api.Get("/qr/:paise", qrHandler.Generate)

	admin := api.Group("/admin")
	admin.Post("/login", adminHandler.Login)

	protected := admin.Group("", middleware.AdminAuth(cfg))
	protected.Put("/token", adminHandler.RotateToken)
	protected.Get("/token/audit", adminHandler.TokenAudit)
	protected.Get("/stats", adminHandler.DailyStats)

	return emitter
}

func redisClient(redisURL string) *redis.Client {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("[Routes] Invalid REDIS_URL, events delivered inline: %v", err)
		return nil
	}
	return redis.NewClient(opts)
}
