package router

import (
	"orbyt-api/core/middleware"
	"orbyt-api/modules/calendar/controller"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, calendarCtrl *controller.CalendarController, webhookCtrl *controller.WebhookController, mw *middleware.Middleware) {
	private := e.Group("/api/v1/private/calendar", mw.AuthMiddleware())
	private.GET("/connect/:provider", calendarCtrl.Connect)
	private.GET("/accounts", calendarCtrl.ListAccounts)
	private.DELETE("/accounts/:id", calendarCtrl.Disconnect)
	private.POST("/accounts/:id/sync", calendarCtrl.Sync)
	private.GET("/accounts/:id/scopes", calendarCtrl.Scopes)
	private.POST("/accounts/:id/webhook", calendarCtrl.RegisterWebhook)
	private.DELETE("/accounts/:id/webhook", calendarCtrl.UnregisterWebhook)
	private.GET("/events", calendarCtrl.ListEvents)
	private.POST("/events/:id/push", calendarCtrl.PushEvent)
	private.POST("/events/:id/link", calendarCtrl.LinkEvent)
	private.DELETE("/events/:id/link", calendarCtrl.UnlinkEvent)

	// The OAuth redirect arrives without a bearer token.
	public := e.Group("/api/v1/public/calendar")
	public.GET("/callback/:provider", calendarCtrl.Callback)

	// Provider push notifications.
	e.POST("/webhooks/calendar/google", webhookCtrl.Google)
	e.Any("/webhooks/calendar/microsoft", webhookCtrl.Microsoft)
}
