package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"orbyt-api/core/cache"
	"orbyt-api/core/constants"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/provider"
	"orbyt-api/modules/calendar/service"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeSync          = "calendar:sync"
	TypeWriteBack     = "calendar:writeback"
	TypeRenewWebhooks = "calendar:renew-webhooks"
)

type SyncPayload struct {
	AccountID uuid.UUID `json:"account_id"`
}

type WriteBackPayload struct {
	UserID  uuid.UUID       `json:"user_id"`
	EventID uuid.UUID       `json:"event_id"`
	Action  provider.Action `json:"action"`
}

func NewSyncTask(accountID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(SyncPayload{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSync, payload, asynq.MaxRetry(3)), nil
}

func NewWriteBackTask(userID, eventID uuid.UUID, action provider.Action) (*asynq.Task, error) {
	payload, err := json.Marshal(WriteBackPayload{UserID: userID, EventID: eventID, Action: action})
	if err != nil {
		return nil, err
	}
	// Write-back has no retry contract: a failed push waits for the next
	// edit or an explicit re-push.
	return asynq.NewTask(TypeWriteBack, payload, asynq.MaxRetry(0)), nil
}

type Handler struct {
	syncService      service.SyncService
	writeBackService service.WriteBackService
	webhookService   service.WebhookService
	cache            cache.Cache
}

func NewHandler(syncService service.SyncService, writeBackService service.WriteBackService, webhookService service.WebhookService, c cache.Cache) *Handler {
	return &Handler{
		syncService:      syncService,
		writeBackService: writeBackService,
		webhookService:   webhookService,
		cache:            c,
	}
}

func (h *Handler) RegisterTasks(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSync, h.HandleSync)
	mux.HandleFunc(TypeWriteBack, h.HandleWriteBack)
	mux.HandleFunc(TypeRenewWebhooks, h.HandleRenewWebhooks)
}

// RegisterSchedules sets up the hourly webhook renewal sweep.
func (h *Handler) RegisterSchedules(scheduler *asynq.Scheduler) error {
	_, err := scheduler.Register("0 * * * *", asynq.NewTask(TypeRenewWebhooks, nil))
	if err != nil {
		return fmt.Errorf("register renewal schedule: %w", err)
	}
	return nil
}

func (h *Handler) HandleSync(ctx context.Context, t *asynq.Task) error {
	var p SyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("sync payload: %w: %w", err, asynq.SkipRetry)
	}

	processed, err := h.syncService.SyncAccount(ctx, p.AccountID)
	if err != nil {
		logger.Error("Tasks:HandleSync:Error", "account_id", p.AccountID, "error", err)
		return err
	}

	// Release the webhook throttle so the next provider ping is not
	// suppressed by the window that scheduled this pass.
	if err := h.cache.Del(ctx, constants.RedisKeyWebhookPing+p.AccountID.String()); err != nil {
		logger.Warn("Tasks:HandleSync:ThrottleClearError", "account_id", p.AccountID, "error", err)
	}

	logger.Info("Tasks:HandleSync:Done", "account_id", p.AccountID, "processed", processed)
	return nil
}

func (h *Handler) HandleWriteBack(ctx context.Context, t *asynq.Task) error {
	var p WriteBackPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("writeback payload: %w: %w", err, asynq.SkipRetry)
	}

	// WriteBack isolates per-account failures internally and never errors.
	h.writeBackService.WriteBack(ctx, p.UserID, p.EventID, p.Action)
	return nil
}

func (h *Handler) HandleRenewWebhooks(ctx context.Context, t *asynq.Task) error {
	return h.webhookService.RenewExpiring(ctx)
}
