package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mrsonukr/instaguruv2-sub000/internal/config"
	"github.com/mrsonukr/instaguruv2-sub000/internal/database"
	"github.com/mrsonukr/instaguruv2-sub000/internal/routes"
)

func main() {
	cfg := config.Load()
	db := database.Connect(cfg.DatabaseURL)

	app := fiber.New(fiber.Config{
		AppName: "Instaguru Backend",
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	emitter := routes.Register(app, db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go emitter.Consume(ctx)

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}
