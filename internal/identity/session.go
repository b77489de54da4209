package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nexuslab/internal/crypto"
	"nexuslab/internal/models"
	"nexuslab/internal/storage"
)

type sessionStore interface {
	PutSessionBlob(ctx context.Context, blob string) error
	SessionBlob(ctx context.Context) (string, error)
	DeleteSessionBlob(ctx context.Context) error
}

// SessionCache persists the current login session in the local store so
// the app reopens signed in without a network round trip. With a Box
// configured the blob is encrypted at rest.
type SessionCache struct {
	store sessionStore
	box   *crypto.Box
}

func NewSessionCache(store sessionStore, box *crypto.Box) *SessionCache {
	return &SessionCache{store: store, box: box}
}

func (c *SessionCache) Save(ctx context.Context, session models.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	blob := string(raw)
	if c.box != nil {
		blob, err = c.box.Seal(raw)
		if err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}
	return c.store.PutSessionBlob(ctx, blob)
}

// Load returns the cached session, or ErrNoSession when nothing usable
// is cached. A blob that fails to decrypt or decode is treated the same
// as no session; the user just logs in again.
func (c *SessionCache) Load(ctx context.Context) (models.Session, error) {
	blob, err := c.store.SessionBlob(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Session{}, ErrNoSession
		}
		return models.Session{}, err
	}

	raw := []byte(blob)
	if c.box != nil {
		raw, err = c.box.Open(blob)
		if err != nil {
			return models.Session{}, ErrNoSession
		}
	}

	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return models.Session{}, ErrNoSession
	}
	if session.Token == "" {
		return models.Session{}, ErrNoSession
	}
	return session, nil
}

func (c *SessionCache) Clear(ctx context.Context) error {
	return c.store.DeleteSessionBlob(ctx)
}
