package router

import (
	"time"

	"github.com/finbridge-tw/finbridge/app/controllers"
	"github.com/finbridge-tw/finbridge/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "finbridge api",
		})
	})

	v1 := api.Group("/v1")

	// Public ingestion endpoint. Sender authentication happens per source
	// inside the engine; the transport layer only rate-limits.
	v1.Post("/income/webhook/:sourceKey", limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
	}), controllers.HandleReceiveWebhook)

	// Back-office endpoints behind the admin token.
	admin := v1.Group("", middleware.AdminAuthMiddleware())

	admin.Get("/income/sources", controllers.HandleListSources)
	admin.Post("/income/sources", controllers.HandleCreateSource)
	admin.Get("/income/sources/:id", controllers.HandleGetSource)
	admin.Get("/income/sources/:id/stats", controllers.HandleGetSourceStats)
	admin.Put("/income/sources/:id", controllers.HandleUpdateSource)
	admin.Delete("/income/sources/:id", controllers.HandleDeleteSource)

	admin.Get("/income/webhooks", controllers.HandleListWebhooks)
	admin.Get("/income/webhooks/pending-count", controllers.HandlePendingCount)
	admin.Post("/income/webhooks/batch-confirm", controllers.HandleBatchConfirm)
	admin.Get("/income/webhooks/:id", controllers.HandleGetWebhook)
	admin.Post("/income/webhooks/:id/confirm", controllers.HandleConfirmWebhook)
	admin.Post("/income/webhooks/:id/reject", controllers.HandleRejectWebhook)
	admin.Post("/income/webhooks/:id/reprocess", controllers.HandleReprocessWebhook)

	admin.Get("/pms-bridge/preview", controllers.HandlePMSPreview)
	admin.Post("/pms-bridge/sync", controllers.HandlePMSSync)
	admin.Get("/pms-bridge/status", controllers.HandlePMSStatus)
	admin.Get("/pms-bridge/compare", controllers.HandlePMSCompare)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
