package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"orbyt-api/core/constants"
	apperrors "orbyt-api/core/errors"
	"orbyt-api/modules/calendar/dto"
	"orbyt-api/modules/calendar/provider"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeSyncService struct {
	processed int
	err       error
	accounts  []uuid.UUID
}

func (s *fakeSyncService) SyncCalendar(ctx context.Context, userID, accountID uuid.UUID) (*dto.SyncResponse, *apperrors.AppError) {
	return nil, nil
}

func (s *fakeSyncService) SyncAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	s.accounts = append(s.accounts, accountID)
	return s.processed, s.err
}

func (s *fakeSyncService) ListExternalEvents(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]dto.ExternalEventResponse, *apperrors.AppError) {
	return nil, nil
}

type fakeWriteBackService struct {
	events []uuid.UUID
}

func (s *fakeWriteBackService) WriteBack(ctx context.Context, userID, eventID uuid.UUID, action provider.Action) {
	s.events = append(s.events, eventID)
}

func (s *fakeWriteBackService) PushEvent(ctx context.Context, userID, eventID, accountID uuid.UUID) *apperrors.AppError {
	return nil
}

type fakeWebhookService struct {
	renewErr error
}

func (s *fakeWebhookService) Register(ctx context.Context, userID, accountID uuid.UUID) (*dto.WebhookResponse, *apperrors.AppError) {
	return nil, nil
}

func (s *fakeWebhookService) Unregister(ctx context.Context, userID, accountID uuid.UUID) *apperrors.AppError {
	return nil
}

func (s *fakeWebhookService) RenewExpiring(ctx context.Context) error { return s.renewErr }

type fakeCache struct {
	deleted []string
}

func (c *fakeCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	return nil
}

func newTaskEnv() (*Handler, *fakeSyncService, *fakeCache) {
	syncSvc := &fakeSyncService{}
	c := &fakeCache{}
	return NewHandler(syncSvc, &fakeWriteBackService{}, &fakeWebhookService{}, c), syncSvc, c
}

func TestHandleSyncClearsWebhookThrottle(t *testing.T) {
	h, syncSvc, c := newTaskEnv()
	syncSvc.processed = 3
	accountID := uuid.New()

	task, err := NewSyncTask(accountID)
	if err != nil {
		t.Fatalf("NewSyncTask: %v", err)
	}
	if err := h.HandleSync(context.Background(), task); err != nil {
		t.Fatalf("HandleSync: %v", err)
	}

	if len(syncSvc.accounts) != 1 || syncSvc.accounts[0] != accountID {
		t.Errorf("synced accounts = %v, want [%s]", syncSvc.accounts, accountID)
	}
	want := constants.RedisKeyWebhookPing + accountID.String()
	if len(c.deleted) != 1 || c.deleted[0] != want {
		t.Errorf("deleted keys = %v, want [%s]", c.deleted, want)
	}
}

func TestHandleSyncKeepsThrottleOnFailure(t *testing.T) {
	h, syncSvc, c := newTaskEnv()
	syncSvc.err = errors.New("boom")

	task, err := NewSyncTask(uuid.New())
	if err != nil {
		t.Fatalf("NewSyncTask: %v", err)
	}
	if err := h.HandleSync(context.Background(), task); err == nil {
		t.Fatal("sync failure must propagate so asynq retries")
	}
	if len(c.deleted) != 0 {
		t.Errorf("throttle cleared despite the failure: %v", c.deleted)
	}
}

func TestHandleSyncRejectsGarbagePayload(t *testing.T) {
	h, _, _ := newTaskEnv()

	err := h.HandleSync(context.Background(), asynq.NewTask(TypeSync, []byte("{")))
	if err == nil || !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("got %v, want an error wrapping SkipRetry", err)
	}
}

func TestHandleWriteBackDelegates(t *testing.T) {
	wb := &fakeWriteBackService{}
	h := NewHandler(&fakeSyncService{}, wb, &fakeWebhookService{}, &fakeCache{})
	eventID := uuid.New()

	task, err := NewWriteBackTask(uuid.New(), eventID, provider.ActionUpdate)
	if err != nil {
		t.Fatalf("NewWriteBackTask: %v", err)
	}
	if err := h.HandleWriteBack(context.Background(), task); err != nil {
		t.Fatalf("HandleWriteBack: %v", err)
	}
	if len(wb.events) != 1 || wb.events[0] != eventID {
		t.Errorf("write-back events = %v, want [%s]", wb.events, eventID)
	}
}
