package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nexuslab/internal/crypto"
	"nexuslab/internal/models"
	"nexuslab/internal/storage"
)

type memSessionStore struct {
	blob string
	set  bool
}

func (m *memSessionStore) PutSessionBlob(_ context.Context, blob string) error {
	m.blob, m.set = blob, true
	return nil
}

func (m *memSessionStore) SessionBlob(_ context.Context) (string, error) {
	if !m.set {
		return "", storage.ErrNotFound
	}
	return m.blob, nil
}

func (m *memSessionStore) DeleteSessionBlob(_ context.Context) error {
	m.blob, m.set = "", false
	return nil
}

func testSession() models.Session {
	return models.Session{
		User:      models.User{ID: "u1", Name: "Ada", Email: "ada@example.com"},
		Token:     "tok-123",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
}

func TestSessionCachePlainRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &memSessionStore{}
	cache := NewSessionCache(store, nil)

	if _, err := cache.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession on empty cache, got %v", err)
	}

	want := testSession()
	if err := cache.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != want.Token || got.User.ID != want.User.ID {
		t.Fatalf("expected %#v, got %#v", want, got)
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := cache.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}
}

func TestSessionCacheEncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	store := &memSessionStore{}
	box, err := crypto.NewBox(make([]byte, 32))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	cache := NewSessionCache(store, box)

	if err := cache.Save(ctx, testSession()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.blob == "" {
		t.Fatal("nothing stored")
	}
	for _, leak := range []string{"tok-123", "ada@example.com"} {
		if strings.Contains(store.blob, leak) {
			t.Fatalf("stored blob leaks %q", leak)
		}
	}

	got, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != "tok-123" {
		t.Fatalf("unexpected token %q", got.Token)
	}
}

func TestSessionCacheGarbageBlobIsNoSession(t *testing.T) {
	ctx := context.Background()
	store := &memSessionStore{blob: "not json at all", set: true}
	cache := NewSessionCache(store, nil)

	if _, err := cache.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for garbage blob, got %v", err)
	}

	box, err := crypto.NewBox(make([]byte, 32))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	cache = NewSessionCache(store, box)
	if _, err := cache.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for undecryptable blob, got %v", err)
	}
}
