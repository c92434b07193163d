package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gigmarket/backend/internal/events"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memNotifications struct {
	mu    sync.Mutex
	err   error
	saved []models.Notification
}

func (m *memNotifications) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	n.ID = uuid.New()
	m.saved = append(m.saved, *n)
	return nil
}

func newTestDispatcher(h *harness) (*Dispatcher, *memNotifications, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &memNotifications{}
	d := NewDispatcher(store, memUsers{h.store}, h.publisher, NewQueuedMailer(h.publisher), zap.New(core))
	return d, store, logs
}

func TestDispatchStoresPushesAndQueuesEmail(t *testing.T) {
	h := newHarness()
	d, store, logs := newTestDispatcher(h)

	d.Dispatch(context.Background(), []lifecycle.Effect{
		{UserID: h.client.ID, Category: models.NotificationCategoryContract, Action: "contract_accepted", Title: "Contract accepted", Body: "Go.", Email: true},
		{UserID: h.worker.ID, Category: models.NotificationCategoryContract, Action: "escrow_funded", Title: "Payment secured", Body: "Held."},
	})

	if len(store.saved) != 2 {
		t.Fatalf("stored %d notifications", len(store.saved))
	}
	if n := len(h.publisher.events[events.UserStream(h.client.ID)]); n != 1 {
		t.Errorf("client stream events = %d", n)
	}
	if n := len(h.publisher.events[events.UserStream(h.worker.ID)]); n != 1 {
		t.Errorf("worker stream events = %d", n)
	}

	queued := h.publisher.events[events.StreamEmail]
	if len(queued) != 1 {
		t.Fatalf("queued emails = %d, want 1", len(queued))
	}
	email, ok := EmailFromEvent(queued[0])
	if !ok || email.To != h.client.Email || email.Name != "Dana" || email.Subject != "Contract accepted" {
		t.Errorf("email = %+v", email)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected warnings: %v", logs.All())
	}
}

func TestDispatchFailuresAreLoggedOnly(t *testing.T) {
	h := newHarness()
	d, store, logs := newTestDispatcher(h)
	store.err = errBoom

	d.Dispatch(context.Background(), []lifecycle.Effect{
		{UserID: h.client.ID, Action: "contract_cancelled", Title: "Cancelled", Email: true},
		{UserID: h.worker.ID, Action: "contract_cancelled", Title: "Cancelled", Email: true},
	})

	if got := logs.FilterMessage("notification dispatch failed").Len(); got != 2 {
		t.Errorf("warnings = %d, want 2", got)
	}
	if len(h.publisher.events[events.StreamEmail]) != 0 {
		t.Error("email queued for a notification that was never stored")
	}
}

func TestDispatchPushFailureStillEmails(t *testing.T) {
	h := newHarness()
	d, store, logs := newTestDispatcher(h)

	h.publisher.mu.Lock()
	h.publisher.err = errBoom
	h.publisher.mu.Unlock()
	d.Dispatch(context.Background(), []lifecycle.Effect{
		{UserID: h.worker.ID, Action: "payment_released", Title: "Payment released", Email: true},
	})

	if len(store.saved) != 1 {
		t.Errorf("stored %d notifications", len(store.saved))
	}
	if logs.FilterMessage("push notification failed").Len() != 1 {
		t.Errorf("push failure not logged: %v", logs.All())
	}
	// the mail queue shares the broken publisher
	if logs.FilterMessage("notification dispatch failed").Len() != 1 {
		t.Errorf("email failure not logged: %v", logs.All())
	}
}

func TestEmailFromEventRejectsOtherEvents(t *testing.T) {
	if _, ok := EmailFromEvent(events.Event{Type: events.EventNotification, Payload: map[string]any{"to": "a@b.c"}}); ok {
		t.Error("decoded a notification as email")
	}
	if _, ok := EmailFromEvent(events.Event{Type: events.EventEmail, Payload: map[string]any{}}); ok {
		t.Error("decoded an email without recipient")
	}
}

func TestMailClientSend(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewMailClient(srv.URL+"/", "secret", "noreply@gigmarket.dev", zap.NewNop())
	err := c.Send(context.Background(), Email{To: "w@example.com", Name: "Sam", Subject: "Hi", Body: "Body"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.From != "noreply@gigmarket.dev" || got.To != "w@example.com" || got.ToName != "Sam" || got.Text != "Body" {
		t.Errorf("request = %+v", got)
	}
}

func TestMailClientSurfacesProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewMailClient(srv.URL, "", "noreply@gigmarket.dev", zap.NewNop())
	if err := c.Send(context.Background(), Email{To: "w@example.com", Subject: "Hi"}); err == nil {
		t.Fatal("expected error for 422")
	}
}
