package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/userdirectory/internal/config"
	"github.com/example/userdirectory/internal/database"
	"github.com/example/userdirectory/internal/logger"
	"github.com/example/userdirectory/internal/middleware"
	"github.com/example/userdirectory/internal/routes"
	"github.com/example/userdirectory/internal/services"
	"github.com/example/userdirectory/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	db, err := database.Connect(cfg, zlog)
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}

	mail := services.NewMailService(services.MailConfig{
		APIKey:     cfg.MailAPIKey,
		BaseURL:    cfg.MailBaseURL,
		FromEmail:  cfg.MailFromEmail,
		FromName:   cfg.MailFromName,
		Timeout:    cfg.MailTimeout,
		MaxRetries: cfg.MailMaxRetries,
	}, zlog)
	users := services.NewUserService(db, mail, utils.PasswordHasher(cfg.BcryptCost), cfg.TxTimeout, zlog)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ErrorHandler: middleware.ErrorHandler(zlog),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	routes.Register(app, users)

	zlog.Info("starting server", zap.String("port", cfg.AppPort))
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		zlog.Fatal("fiber.Listen error", zap.Error(err))
	}
}
