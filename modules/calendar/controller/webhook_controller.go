package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"orbyt-api/core/cache"
	"orbyt-api/core/constants"
	"orbyt-api/core/logger"
	"orbyt-api/core/queue"
	"orbyt-api/modules/calendar/repository"
	"orbyt-api/modules/calendar/tasks"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// validationTokenRe bounds the Microsoft validation handshake token.
// Anything outside this shape is rejected before it is echoed back.
var validationTokenRe = regexp.MustCompile(`^[A-Za-z0-9\-_=+/.]{1,512}$`)

// WebhookController receives provider push notifications. Notifications are
// trigger signals only: the handler resolves the subscription, schedules a
// sync task, and acknowledges. It never syncs inline.
type WebhookController struct {
	webhookRepo repository.WebhookRepository
	queue       queue.Queue
	cache       cache.Cache
}

func NewWebhookController(webhookRepo repository.WebhookRepository, q queue.Queue, c cache.Cache) *WebhookController {
	return &WebhookController{
		webhookRepo: webhookRepo,
		queue:       q,
		cache:       c,
	}
}

func headerAny(c echo.Context, names ...string) string {
	for _, name := range names {
		if v := c.Request().Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// Google posts an empty body; everything of interest is in the channel
// headers. Google retries aggressively on non-200, so every valid delivery
// is acknowledged 200 even when the channel is unknown.
func (ctrl *WebhookController) Google(c echo.Context) error {
	channelID := headerAny(c, "X-Goog-Channel-ID", "channel-id")
	resourceID := headerAny(c, "X-Goog-Resource-ID", "resource-id")
	if channelID == "" || resourceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing channel headers"})
	}

	state := headerAny(c, "X-Goog-Resource-State", "resource-state")
	if state == "sync" {
		// Initial handshake after watch(); nothing changed yet.
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	sub, err := ctrl.webhookRepo.GetByChannelID(c.Request().Context(), channelID)
	if err == nil && sub != nil {
		ctrl.scheduleSync(c.Request().Context(), sub.ConnectedAccountID)
	} else if sub == nil {
		logger.Warn("WebhookController:Google:UnknownChannel", "channel_id", channelID)
	}

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type graphNotification struct {
	Value []struct {
		SubscriptionID string `json:"subscriptionId"`
		ClientState    string `json:"clientState"`
		ChangeType     string `json:"changeType"`
	} `json:"value"`
}

// Microsoft drives two flows through one URL: the subscription validation
// handshake (validationToken echoed back as text/plain) and change
// notifications (acknowledged 202 regardless of payload shape).
func (ctrl *WebhookController) Microsoft(c echo.Context) error {
	if token := c.QueryParam("validationToken"); token != "" {
		if !validationTokenRe.MatchString(token) {
			return c.String(http.StatusBadRequest, "Invalid token")
		}
		return c.String(http.StatusOK, token)
	}

	if c.Request().Method != http.MethodPost {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported request"})
	}

	var notification graphNotification
	if err := json.NewDecoder(c.Request().Body).Decode(&notification); err != nil {
		// An unparseable body is still acknowledged; Graph retries
		// otherwise and the payload carries nothing we depend on.
		logger.Warn("WebhookController:Microsoft:BadBody", "error", err)
		return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
	}

	ctx := c.Request().Context()
	for _, item := range notification.Value {
		if item.SubscriptionID == "" {
			continue
		}
		sub, err := ctrl.webhookRepo.GetByChannelID(ctx, item.SubscriptionID)
		if err != nil || sub == nil {
			continue
		}
		// clientState was generated at subscription time; a mismatch
		// means the post did not come from Graph.
		if sub.ResourceID != nil && *sub.ResourceID != item.ClientState {
			logger.Warn("WebhookController:Microsoft:ClientStateMismatch", "subscription_id", item.SubscriptionID)
			continue
		}
		ctrl.scheduleSync(ctx, sub.ConnectedAccountID)
	}

	return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
}

// scheduleSync enqueues one sync task per account per throttle window so a
// burst of notifications collapses into a single pass.
func (ctrl *WebhookController) scheduleSync(ctx context.Context, accountID uuid.UUID) {
	ok, err := ctrl.cache.SetNX(ctx, constants.RedisKeyWebhookPing+accountID.String(), constants.WebhookPingThrottle)
	if err != nil {
		logger.Error("WebhookController:scheduleSync:ThrottleError", "error", err, "account_id", accountID)
		return
	}
	if !ok {
		return
	}

	task, err := tasks.NewSyncTask(accountID)
	if err != nil {
		logger.Error("WebhookController:scheduleSync:TaskError", "error", err, "account_id", accountID)
		return
	}
	if err := ctrl.queue.Enqueue(ctx, task); err != nil {
		logger.Error("WebhookController:scheduleSync:EnqueueError", "error", err, "account_id", accountID)
	}
}
