package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/userdirectory/internal/handlers"
	"github.com/example/userdirectory/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, users *services.UserService) {
	userHandler := handlers.NewUserHandler(users)

	app.Get("/health", userHandler.Health)

	api := app.Group("/api")

	group := api.Group("/users")
	group.Get("/", userHandler.ListUsers)
	group.Post("/", userHandler.CreateUser)
	group.Get("/:id", userHandler.GetUser)
	group.Put("/:id", userHandler.UpdateUser)
	group.Patch("/:id", userHandler.UpdateUser)
	group.Delete("/:id", userHandler.DeleteUser)
	group.Post("/:id/send-welcome-email", userHandler.SendWelcomeEmail)
}
