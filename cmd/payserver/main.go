package main

import (
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/finbridge-tw/finbridge/app/repository"
	"github.com/finbridge-tw/finbridge/internal/pkg/cache"
	"github.com/finbridge-tw/finbridge/internal/pkg/database"
	"github.com/finbridge-tw/finbridge/internal/pkg/env"
	"github.com/finbridge-tw/finbridge/internal/pkg/pmsbridge"
	"github.com/finbridge-tw/finbridge/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	pmsbridge.SetupPMSDatabase()
	repository.InitializeFactory(database.GetDB())

	app := fiber.New(fiber.Config{
		AppName:           "finbridge",
		BodyLimit:         1 << 20, // 1 MiB; webhook payloads are small JSON documents
		EnablePrintRoutes: env.IsDev(),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
