package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedulers.app/internal/obs"
)

func TestRecordFillsContextFields(t *testing.T) {
	store := NewMemoryStore()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := NewRecorder(store, WithLogger(obs.Discard()), WithClock(func() time.Time { return at }))

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithOrigin(ctx, "10.0.0.7")
	rec.Record(ctx, Entry{Action: UpdateAction("game"), ActorID: Actor(1), ResourceType: "game", ResourceID: "42"})

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != "update_game" {
		t.Fatalf("unexpected action: %s", e.Action)
	}
	if e.ID == "" {
		t.Fatal("expected generated id")
	}
	if !e.OccurredAt.Equal(at) {
		t.Fatalf("unexpected time: %s", e.OccurredAt)
	}
	if e.RequestID != "req-123" || e.Origin != "10.0.0.7" {
		t.Fatalf("context fields not copied: %+v", e)
	}
	if e.ActorID == nil || *e.ActorID != 1 {
		t.Fatalf("unexpected actor: %v", e.ActorID)
	}
}

func TestRecordExplicitOriginWins(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, WithLogger(obs.Discard()))

	ctx := WithOrigin(context.Background(), "10.0.0.7")
	rec.Record(ctx, Entry{Action: ActionLogout, Origin: "system"})

	if got := store.Entries()[0].Origin; got != "system" {
		t.Fatalf("expected explicit origin, got %q", got)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := NewMemoryStore()
	store.FailWith(errors.New("disk full"))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := NewRecorder(store, WithLogger(logger))

	rec.Record(context.Background(), Entry{Action: ActionLoginFailed})

	if len(store.Entries()) != 0 {
		t.Fatal("expected no entries")
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["msg"] != "audit append failed" || line["action"] != ActionLoginFailed {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestRecordMirrorsToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := NewRecorder(NewMemoryStore(), WithLogger(logger))

	rec.Record(WithRequestID(context.Background(), "req-9"), Entry{Action: ActionLoginSuccess, ActorID: Actor(7)})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["request_id"] != "req-9" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["actor_id"] != float64(7) {
		t.Fatalf("unexpected actor: %v", line["actor_id"])
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.Record(context.Background(), Entry{Action: ActionLogout})
	rec.Close()
	if rec.Dropped() != 0 {
		t.Fatal("nil recorder should report zero drops")
	}
}

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Entry
}

func (b *blockingStore) AppendAudit(_ context.Context, e *Entry) error {
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, *e)
	b.mu.Unlock()
	return nil
}

func TestAsyncDropsWhenFullAndDrainsOnClose(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	rec := NewRecorder(store, WithLogger(obs.Discard()), WithAsync(1))

	// The first entry is taken by the worker and blocks; the second fills the buffer.
	rec.Record(context.Background(), Entry{Action: "a1"})
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.queue.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	rec.Record(context.Background(), Entry{Action: "a2"})
	rec.Record(context.Background(), Entry{Action: "a3"})

	if rec.Dropped() != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", rec.Dropped())
	}

	close(store.release)
	rec.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.got) != 2 {
		t.Fatalf("expected 2 written entries, got %d", len(store.got))
	}
	if store.got[0].Action != "a1" || store.got[1].Action != "a2" {
		t.Fatalf("unexpected order: %+v", store.got)
	}
}

type countingStore struct{ n atomic.Uint64 }

func (c *countingStore) AppendAudit(context.Context, *Entry) error {
	c.n.Add(1)
	return nil
}

func TestAsyncCloseAccountsForEveryEntry(t *testing.T) {
	for round := 0; round < 50; round++ {
		store := &countingStore{}
		rec := NewRecorder(store, WithLogger(obs.Discard()), WithAsync(4))

		const writers, perWriter = 8, 25
		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < perWriter; i++ {
					rec.Record(context.Background(), Entry{Action: "race"})
				}
			}()
		}
		close(start)
		rec.Close()
		wg.Wait()

		if got := store.n.Load() + rec.Dropped(); got != writers*perWriter {
			t.Fatalf("round %d: written %d + dropped %d != %d", round, store.n.Load(), rec.Dropped(), writers*perWriter)
		}
	}
}
