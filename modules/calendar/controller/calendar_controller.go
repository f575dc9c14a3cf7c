package controller

import (
	"time"

	"orbyt-api/core/constants"
	corecontroller "orbyt-api/core/controller"
	"orbyt-api/core/errors"
	"orbyt-api/core/middleware"
	"orbyt-api/modules/calendar/dto"
	"orbyt-api/modules/calendar/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type CalendarController struct {
	corecontroller.BaseController
	connectionService service.ConnectionService
	syncService       service.SyncService
	writeBackService  service.WriteBackService
	webhookService    service.WebhookService
	linkService       service.LinkService
}

func NewCalendarController(
	connectionService service.ConnectionService,
	syncService service.SyncService,
	writeBackService service.WriteBackService,
	webhookService service.WebhookService,
	linkService service.LinkService,
) *CalendarController {
	return &CalendarController{
		BaseController:    corecontroller.NewBaseController(),
		connectionService: connectionService,
		syncService:       syncService,
		writeBackService:  writeBackService,
		webhookService:    webhookService,
		linkService:       linkService,
	}
}

func (ctrl *CalendarController) userID(c echo.Context) (uuid.UUID, error) {
	if id, ok := c.Get(middleware.ContextKeyUserID).(uuid.UUID); ok {
		return id, nil
	}
	return uuid.Nil, ctrl.Unauthorized(errors.ErrUnauthorized, "missing authenticated user")
}

// normalizeProvider maps the URL segment to the internal provider tag; the
// Microsoft surface is exposed as both "microsoft" and "outlook".
func normalizeProvider(name string) string {
	if name == "microsoft" {
		return dto.ProviderOutlook
	}
	return name
}

func (ctrl *CalendarController) Connect(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	resp, appErr := ctrl.connectionService.GetAuthorizationURL(c.Request().Context(), userID, normalizeProvider(c.Param("provider")))
	if appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, resp, "authorization URL generated")
}

// Callback is public: the OAuth redirect carries no bearer token, so the
// signed state token carries the user identity instead.
func (ctrl *CalendarController) Callback(c echo.Context) error {
	resp, appErr := ctrl.connectionService.HandleCallback(
		c.Request().Context(),
		normalizeProvider(c.Param("provider")),
		c.QueryParam("state"),
		c.QueryParam("code"),
	)
	if appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, resp, "calendar account connected")
}

func (ctrl *CalendarController) ListAccounts(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	accounts, appErr := ctrl.connectionService.ListAccounts(c.Request().Context(), userID)
	if appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, accounts, "connected accounts")
}

func (ctrl *CalendarController) Disconnect(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid account id")
	}
	if appErr := ctrl.connectionService.Disconnect(c.Request().Context(), userID, accountID); appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, nil, "calendar account disconnected")
}

func (ctrl *CalendarController) Sync(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid account id")
	}
	resp, appErr := ctrl.syncService.SyncCalendar(c.Request().Context(), userID, accountID)
	if appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, resp, "calendar synchronized")
}

func (ctrl *CalendarController) Scopes(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid account id")
	}
	resp, appErr := ctrl.connectionService.CheckScopes(c.Request().Context(), userID, accountID)
	if appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, resp, "granted scopes")
}

func (ctrl *CalendarController) ListEvents(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}

	from := time.Now()
	to := from.AddDate(0, 0, constants.SyncWindowDays)
	if raw := c.QueryParam("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return ctrl.BadRequest(errors.ErrInvalidInput, "invalid 'from' timestamp; expected RFC3339")
		}
	}
	if raw := c.QueryParam("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return ctrl.BadRequest(errors.ErrInvalidInput, "invalid 'to' timestamp; expected RFC3339")
		}
	}
	if !to.After(from) {
		return ctrl.BadRequest(errors.ErrInvalidInput, "'to' must be after 'from'")
	}

	events, appErr := ctrl.syncService.ListExternalEvents(c.Request().Context(), userID, from, to)
	if appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, events, "external events")
}

func (ctrl *CalendarController) PushEvent(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid event id")
	}
	var req dto.PushRequest
	if err := c.Bind(&req); err != nil || req.AccountID == uuid.Nil {
		return ctrl.BadRequest(errors.ErrInvalidRequestData, "account_id is required")
	}
	if appErr := ctrl.writeBackService.PushEvent(c.Request().Context(), userID, eventID, req.AccountID); appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, nil, "event pushed")
}

func (ctrl *CalendarController) RegisterWebhook(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid account id")
	}
	resp, appErr := ctrl.webhookService.Register(c.Request().Context(), userID, accountID)
	if appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, resp, "webhook registered")
}

func (ctrl *CalendarController) UnregisterWebhook(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid account id")
	}
	if appErr := ctrl.webhookService.Unregister(c.Request().Context(), userID, accountID); appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, nil, "webhook unregistered")
}

func (ctrl *CalendarController) LinkEvent(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid event id")
	}
	var req dto.LinkRequest
	if err := c.Bind(&req); err != nil || req.ExternalEventID == uuid.Nil {
		return ctrl.BadRequest(errors.ErrInvalidRequestData, "external_event_id is required")
	}
	if appErr := ctrl.linkService.Link(c.Request().Context(), userID, eventID, req.ExternalEventID); appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, nil, "event linked")
}

func (ctrl *CalendarController) UnlinkEvent(c echo.Context) error {
	userID, err := ctrl.userID(c)
	if err != nil {
		return err
	}
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ctrl.BadRequest(errors.ErrInvalidInput, "invalid event id")
	}
	if appErr := ctrl.linkService.Unlink(c.Request().Context(), userID, eventID); appErr != nil {
		return ctrl.ErrorResponse(c, appErr)
	}
	return ctrl.SuccessResponse(c, nil, "event unlinked")
}
