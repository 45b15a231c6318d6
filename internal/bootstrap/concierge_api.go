package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/AliedRevenue/family-concierge-sub000/adapter/in/http"
	"github.com/AliedRevenue/family-concierge-sub000/config"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
)

// NewAPI wires the dashboard HTTP surface. The API is read-mostly: the only
// mutation it exposes is the dismissal endpoint.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	http.NewHealthHandler(deps.DB, deps.Redis).Register(app)
	http.NewDashboardHandler(deps.Dashboards, deps.ItemService).Register(app)

	logger.Info("dashboard API initialized")
	return app
}
