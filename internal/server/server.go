package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mansoorceksport/fitsync/internal/config"
	"github.com/mansoorceksport/fitsync/internal/handler"
	"github.com/mansoorceksport/fitsync/internal/middleware"
	"github.com/mansoorceksport/fitsync/internal/service"
	"github.com/mansoorceksport/fitsync/internal/session"
	"github.com/mansoorceksport/fitsync/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	Sessions    *session.Manager
	RedisClient *redis.Client // nil disables idempotent replay
	AuthClient  service.FirebaseAuthClient
	Exports     service.ExportStore // nil disables history export
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *fiber.App {
	authService := service.NewAuthService(deps.AuthClient, deps.Config.JWT)
	gridService := service.NewGridService(deps.Config.Grid)
	assistant := service.NewAssistant(deps.Config.OpenRouter)
	exportService := service.NewExportService(deps.Exports)

	authHandler := handler.NewAuthHandler(authService, deps.Sessions)
	workoutHandler := handler.NewWorkoutHandler(deps.Sessions, exportService)
	gridHandler := handler.NewGridHandler(gridService)
	assistantHandler := handler.NewAssistantHandler(assistant)

	app := fiber.New(fiber.Config{
		AppName:      "fitsync API",
		ErrorHandler: handler.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, " + middleware.CorrelationIDHeader,
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "X-Trace-ID, X-Idempotent-Replay, " + handler.StaleHeader,
	}))
	app.Use(telemetry.FiberMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"service":  "fitsync",
			"backend":  deps.Config.Sync.Backend,
			"sessions": deps.Sessions.Len(),
		})
	})

	v1 := app.Group("/v1")

	auth := v1.Group("/auth")
	auth.Post("/session", authHandler.SignIn)
	auth.Delete("/session", middleware.VerifySessionToken(deps.Config.JWT.Secret), authHandler.SignOut)

	grid := v1.Group("/grid")
	grid.Get("/", gridHandler.GetGrid)
	grid.Post("/", gridHandler.SaveGrid)

	// ===========================================
	// OWNER API - /v1/me/* (requires a session token)
	// ===========================================
	me := v1.Group("/me")
	me.Use(middleware.VerifySessionToken(deps.Config.JWT.Secret))
	me.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Config.Redis.IdempotencyTTL))

	workouts := me.Group("/workouts")
	workouts.Get("/", workoutHandler.ListWorkouts)
	workouts.Get("/stats", workoutHandler.GetStats)
	workouts.Post("/", workoutHandler.CreateWorkout)
	workouts.Post("/export", workoutHandler.ExportHistory)
	workouts.Get("/exports", workoutHandler.ListExports)
	workouts.Put("/:id", workoutHandler.UpdateWorkout)
	workouts.Delete("/:id", workoutHandler.DeleteWorkout)

	draft := me.Group("/draft")
	draft.Get("/", workoutHandler.GetDraft)
	draft.Patch("/", workoutHandler.UpdateDraft)
	draft.Post("/new", workoutHandler.NewDraft)
	draft.Post("/edit/:id", workoutHandler.EditDraft)
	draft.Post("/template/:id", workoutHandler.TemplateDraft)
	draft.Post("/submit", workoutHandler.SubmitDraft)
	draft.Post("/exercises", workoutHandler.AddExerciseRow)
	draft.Patch("/exercises/:key", workoutHandler.UpdateExerciseRow)
	draft.Delete("/exercises/:key", workoutHandler.RemoveExerciseRow)

	me.Post("/assistant/chat", assistantHandler.Chat)

	return app
}
