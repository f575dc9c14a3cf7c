package calendar

import (
	"orbyt-api/core/cache"
	"orbyt-api/core/config"
	"orbyt-api/core/database"
	"orbyt-api/core/middleware"
	"orbyt-api/core/queue"
	"orbyt-api/core/vault"
	"orbyt-api/modules/calendar/controller"
	"orbyt-api/modules/calendar/provider"
	"orbyt-api/modules/calendar/repository"
	"orbyt-api/modules/calendar/router"
	"orbyt-api/modules/calendar/service"
	"orbyt-api/modules/calendar/tasks"
	eventrepo "orbyt-api/modules/event/repository"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

// Module owns the calendar sync wiring: repositories, provider adapters,
// services, HTTP routes and background task handlers.
type Module struct {
	handler *tasks.Handler
}

func Init(e *echo.Echo, db database.IDatabase, c cache.Cache, q queue.Queue, v *vault.Vault, cfg *config.Config) (*Module, error) {
	accountRepo := repository.NewAccountRepository(db)
	externalRepo := repository.NewExternalEventRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	eventRepo := eventrepo.NewEventRepository(db)
	householdRepo := eventrepo.NewHouseholdRepository(db)

	providers := provider.NewRegistry(
		provider.NewGoogleAdapter(
			cfg.GoogleAPI.ClientID,
			cfg.GoogleAPI.ClientSecret,
			cfg.GoogleAPI.RedirectURI,
		),
		provider.NewOutlookAdapter(
			cfg.MicrosoftAPI.ClientID,
			cfg.MicrosoftAPI.ClientSecret,
			cfg.MicrosoftAPI.RedirectURI,
			cfg.MicrosoftAPI.TenantID,
		),
	)

	tokens := service.NewTokenManager(accountRepo, v, providers)
	connectionService := service.NewConnectionService(accountRepo, externalRepo, webhookRepo, eventRepo, providers, v, tokens)
	syncService := service.NewSyncService(accountRepo, externalRepo, eventRepo, householdRepo, providers, tokens)
	writeBackService := service.NewWriteBackService(accountRepo, eventRepo, providers, tokens)
	webhookService := service.NewWebhookService(accountRepo, webhookRepo, providers, tokens, cfg.Server.PublicBaseURL)
	linkService := service.NewLinkService(accountRepo, externalRepo, eventRepo, householdRepo)

	calendarCtrl := controller.NewCalendarController(connectionService, syncService, writeBackService, webhookService, linkService)
	webhookCtrl := controller.NewWebhookController(webhookRepo, q, c)

	router.RegisterRoutes(e, calendarCtrl, webhookCtrl, middleware.NewMiddleware())

	return &Module{
		handler: tasks.NewHandler(syncService, writeBackService, webhookService, c),
	}, nil
}

func (m *Module) RegisterTasks(mux *asynq.ServeMux) {
	m.handler.RegisterTasks(mux)
}

func (m *Module) RegisterSchedules(scheduler *asynq.Scheduler) error {
	return m.handler.RegisterSchedules(scheduler)
}
