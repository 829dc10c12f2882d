package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

func sampleHistory() []models.Message {
	base := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	return []models.Message{
		{Role: models.RoleUser, Content: "Hello", CreatedAt: base},
		{Role: models.RoleAssistant, Content: "Hi!", CreatedAt: base.Add(time.Second)},
		{Role: models.RoleTool, Content: "search results", CreatedAt: base.Add(2 * time.Second), Transient: true},
		{Role: models.RoleAssistant, Content: `Added the "Sales" widget to the dashboard.`, CreatedAt: base.Add(3 * time.Second)},
	}
}

func assertHistory(t *testing.T, got []models.Message) {
	t.Helper()
	want := models.Persistent(sampleHistory())
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content || !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("message %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.SaveMemory(ctx, "s1", sampleHistory()); err != nil {
		t.Fatalf("SaveMemory() error = %v", err)
	}
	got, err := store.LoadMemory(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadMemory() error = %v", err)
	}
	assertHistory(t, got)
}

func TestMemoryStore_UnknownSessionIsEmpty(t *testing.T) {
	got, err := NewMemoryStore().LoadMemory(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadMemory() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", got)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	msgs := []models.Message{models.NewMessage(models.RoleUser, "original")}
	if err := store.SaveMemory(ctx, "s1", msgs); err != nil {
		t.Fatalf("SaveMemory() error = %v", err)
	}
	msgs[0].Content = "mutated"

	loaded, _ := store.LoadMemory(ctx, "s1")
	loaded[0].Content = "mutated again"

	again, _ := store.LoadMemory(ctx, "s1")
	if again[0].Content != "original" {
		t.Fatalf("expected stored history to be isolated, got %q", again[0].Content)
	}
}

func TestMemoryStore_LongHistoryRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	msgs := make([]models.Message, 1001)
	for i := range msgs {
		msgs[i] = models.NewMessage(models.RoleUser, fmt.Sprintf("m%d", i))
	}
	msgs[3].CreatedAt = time.Time{}
	if err := store.SaveMemory(ctx, "s1", msgs); err != nil {
		t.Fatalf("SaveMemory() error = %v", err)
	}
	got, _ := store.LoadMemory(ctx, "s1")
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if got[i].Content != msgs[i].Content || !got[i].CreatedAt.Equal(msgs[i].CreatedAt) {
			t.Fatalf("message %d: expected %+v, got %+v", i, msgs[i], got[i])
		}
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.SaveMemory(ctx, "s1", sampleHistory())

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestMemoryStore_EvictIdle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.SaveMemory(ctx, "old", sampleHistory())
	now = now.Add(time.Hour)
	_ = store.SaveMemory(ctx, "fresh", sampleHistory())

	removed, err := store.EvictIdle(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("EvictIdle() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if got, _ := store.LoadMemory(ctx, "old"); len(got) != 0 {
		t.Error("expected old session to be evicted")
	}
	if got, _ := store.LoadMemory(ctx, "fresh"); len(got) == 0 {
		t.Error("expected fresh session to remain")
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()
	if _, err := store.LoadMemory(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := store.SaveMemory(ctx, "s1", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
