// Package syncer coordinates the local store and the remote mirror behind
// one facade. Writes are local-first: the local leg must succeed and the
// remote leg is fire-and-forget. Reads are remote-first: a reachable
// mirror has seen every device's writes and supersedes the local view;
// an unreachable mirror degrades to whatever this device has observed.
package syncer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nexuslab/internal/metrics"
	"nexuslab/internal/models"
)

// ErrNotOwner reports a write against a record owned by a different user.
// Records are only ever mutated through the owning user's session.
var ErrNotOwner = errors.New("record belongs to another user")

// LocalStore is the embedded store the coordinator owns exclusively.
type LocalStore interface {
	PutUser(ctx context.Context, u models.User) error
	PutChat(ctx context.Context, chat models.ChatSession) error
	Chats(ctx context.Context) ([]models.ChatSession, error)
	DeleteChat(ctx context.Context, id string) error
	PutAsset(ctx context.Context, asset models.LabAsset) error
	Assets(ctx context.Context) ([]models.LabAsset, error)
	DeleteAsset(ctx context.Context, id string) error
}

// Mirror is the remote replica. Any returned error means "currently
// unavailable"; the coordinator never propagates it.
type Mirror interface {
	FetchChats(ctx context.Context, userID string) ([]models.ChatSession, error)
	FetchAssets(ctx context.Context, userID string) ([]models.LabAsset, error)
	UpsertChat(ctx context.Context, chat models.ChatSession) error
	InsertChat(ctx context.Context, chat models.ChatSession) error
	DeleteChat(ctx context.Context, userID, id string) error
	InsertAsset(ctx context.Context, asset models.LabAsset) error
	DeleteAsset(ctx context.Context, userID, id string) error
	DeleteAllAssetsForUser(ctx context.Context, userID string) error
}

type Coordinator struct {
	local         LocalStore
	remote        Mirror
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	remoteTimeout time.Duration
	now           func() time.Time
}

type Config struct {
	Local LocalStore
	// Remote may be nil; the coordinator then runs permanently offline.
	Remote        Mirror
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	RemoteTimeout time.Duration
	Now           func() time.Time
}

func New(cfg Config) *Coordinator {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		local:         cfg.Local,
		remote:        cfg.Remote,
		logger:        cfg.Logger,
		metrics:       m,
		remoteTimeout: cfg.RemoteTimeout,
		now:           cfg.Now,
	}
}

// NewChat creates a fresh session for the user. A single client-generated
// id is used for both stores, so the local and remote copies can never
// diverge on identity.
func (c *Coordinator) NewChat(ctx context.Context, userID string, mode models.Mode) (models.ChatSession, error) {
	now := c.now().UTC()
	chat := models.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     models.DefaultChatTitle,
		Mode:      mode,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.local.PutChat(ctx, chat); err != nil {
		return models.ChatSession{}, err
	}
	c.metrics.LocalWrites.Inc()

	c.bestEffort(ctx, "insert_chat", func(rctx context.Context) error {
		return c.remote.InsertChat(rctx, chat)
	})
	return chat, nil
}

// SaveChat replaces the session wholesale. The local write must land
// before the remote leg is attempted, and remote failure never reaches
// the caller. Saving over a session owned by someone else is rejected
// with ErrNotOwner before either store is touched.
func (c *Coordinator) SaveChat(ctx context.Context, userID string, chat models.ChatSession) (models.ChatSession, error) {
	owner, exists, err := c.chatOwner(ctx, chat.ID)
	if err != nil {
		return models.ChatSession{}, err
	}
	if exists && owner != userID {
		return models.ChatSession{}, ErrNotOwner
	}

	chat.UserID = userID
	chat.UpdatedAt = c.now().UTC()
	if isDefaultTitle(chat.Title) {
		if derived := deriveTitle(chat.Messages); derived != "" {
			chat.Title = derived
		}
	}

	if err := c.local.PutChat(ctx, chat); err != nil {
		return models.ChatSession{}, err
	}
	c.metrics.LocalWrites.Inc()

	c.bestEffort(ctx, "upsert_chat", func(rctx context.Context) error {
		return c.remote.UpsertChat(rctx, chat)
	})
	return chat, nil
}

// History returns the user's sessions, newest updated first. A reachable
// mirror supersedes the local view; otherwise the local view is returned
// and a failed local read degrades to empty.
func (c *Coordinator) History(ctx context.Context, userID string) []models.ChatSession {
	local := c.localChats(ctx, userID)

	if c.remote != nil {
		c.metrics.RemoteSyncAttempts.Inc()
		rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
		defer cancel()
		remote, err := c.remote.FetchChats(rctx, userID)
		if err == nil {
			return remote
		}
		c.metrics.RemoteSyncFailures.Inc()
		c.logger.Warn().Err(err).Str("op", "fetch_chats").Msg("remote mirror unavailable, serving local history")
	}
	return local
}

// DeleteChat is idempotent for unknown ids but refuses to touch a
// session owned by a different user.
func (c *Coordinator) DeleteChat(ctx context.Context, userID, id string) error {
	owner, exists, err := c.chatOwner(ctx, id)
	if err != nil {
		return err
	}
	if exists && owner != userID {
		return ErrNotOwner
	}

	if err := c.local.DeleteChat(ctx, id); err != nil {
		return err
	}
	c.metrics.LocalWrites.Inc()

	c.bestEffort(ctx, "delete_chat", func(rctx context.Context) error {
		return c.remote.DeleteChat(rctx, userID, id)
	})
	return nil
}

// SaveAsset assigns identity to the draft, persists it, then re-derives
// the asset list through the read path so the caller sees exactly what
// the next read would.
func (c *Coordinator) SaveAsset(ctx context.Context, userID string, draft models.AssetDraft) (models.LabAsset, []models.LabAsset, error) {
	asset := models.LabAsset{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      draft.Title,
		Type:       draft.Type,
		Content:    draft.Content,
		SourceName: draft.SourceName,
		CreatedAt:  c.now().UTC(),
	}

	if err := c.local.PutAsset(ctx, asset); err != nil {
		return models.LabAsset{}, nil, err
	}
	c.metrics.LocalWrites.Inc()

	c.bestEffort(ctx, "insert_asset", func(rctx context.Context) error {
		return c.remote.InsertAsset(rctx, asset)
	})

	return asset, c.Assets(ctx, userID), nil
}

// Assets mirrors History's precedence rule for lab assets, newest first.
func (c *Coordinator) Assets(ctx context.Context, userID string) []models.LabAsset {
	local := c.localAssets(ctx, userID)

	if c.remote != nil {
		c.metrics.RemoteSyncAttempts.Inc()
		rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
		defer cancel()
		remote, err := c.remote.FetchAssets(rctx, userID)
		if err == nil {
			return remote
		}
		c.metrics.RemoteSyncFailures.Inc()
		c.logger.Warn().Err(err).Str("op", "fetch_assets").Msg("remote mirror unavailable, serving local assets")
	}
	return local
}

func (c *Coordinator) DeleteAsset(ctx context.Context, userID, id string) error {
	owner, exists, err := c.assetOwner(ctx, id)
	if err != nil {
		return err
	}
	if exists && owner != userID {
		return ErrNotOwner
	}

	if err := c.local.DeleteAsset(ctx, id); err != nil {
		return err
	}
	c.metrics.LocalWrites.Inc()

	c.bestEffort(ctx, "delete_asset", func(rctx context.Context) error {
		return c.remote.DeleteAsset(rctx, userID, id)
	})
	return nil
}

// ClearAssets removes every asset the user owns, local first. Unlike
// the read paths, a failed local enumeration propagates here: deleting
// nothing and reporting success would leave the caller believing the
// clear happened.
func (c *Coordinator) ClearAssets(ctx context.Context, userID string) error {
	all, err := c.local.Assets(ctx)
	if err != nil {
		return err
	}
	for _, asset := range all {
		if asset.UserID != userID {
			continue
		}
		if err := c.local.DeleteAsset(ctx, asset.ID); err != nil {
			return err
		}
		c.metrics.LocalWrites.Inc()
	}

	c.bestEffort(ctx, "clear_assets", func(rctx context.Context) error {
		return c.remote.DeleteAllAssetsForUser(rctx, userID)
	})
	return nil
}

// PutUser caches the profile locally. Profiles are owned by the identity
// provider; the mirror never sees them.
func (c *Coordinator) PutUser(ctx context.Context, u models.User) error {
	if err := c.local.PutUser(ctx, u); err != nil {
		return err
	}
	c.metrics.LocalWrites.Inc()
	return nil
}

func (c *Coordinator) localChats(ctx context.Context, userID string) []models.ChatSession {
	all, err := c.local.Chats(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("local chat read failed, treating as empty cache")
		return []models.ChatSession{}
	}
	out := make([]models.ChatSession, 0, len(all))
	for _, chat := range all {
		if chat.UserID == userID {
			out = append(out, chat)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (c *Coordinator) localAssets(ctx context.Context, userID string) []models.LabAsset {
	all, err := c.local.Assets(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("local asset read failed, treating as empty cache")
		return []models.LabAsset{}
	}
	out := make([]models.LabAsset, 0, len(all))
	for _, asset := range all {
		if asset.UserID == userID {
			out = append(out, asset)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// chatOwner reports who owns the stored session, if it exists. Write
// paths never degrade a failed local read; the error propagates.
func (c *Coordinator) chatOwner(ctx context.Context, id string) (string, bool, error) {
	all, err := c.local.Chats(ctx)
	if err != nil {
		return "", false, err
	}
	for _, chat := range all {
		if chat.ID == id {
			return chat.UserID, true, nil
		}
	}
	return "", false, nil
}

func (c *Coordinator) assetOwner(ctx context.Context, id string) (string, bool, error) {
	all, err := c.local.Assets(ctx)
	if err != nil {
		return "", false, err
	}
	for _, asset := range all {
		if asset.ID == id {
			return asset.UserID, true, nil
		}
	}
	return "", false, nil
}

// bestEffort runs one remote call under the configured timeout and
// absorbs any failure. The mirror being down is a routine condition,
// not an error the caller can act on.
func (c *Coordinator) bestEffort(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if c.remote == nil {
		return
	}
	c.metrics.RemoteSyncAttempts.Inc()
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if err := fn(rctx); err != nil {
		c.metrics.RemoteSyncFailures.Inc()
		c.logger.Warn().Err(err).Str("op", op).Msg("remote mirror unavailable, local copy is authoritative")
	}
}

func isDefaultTitle(title string) bool {
	t := strings.TrimSpace(title)
	return t == "" || t == models.DefaultChatTitle
}

// deriveTitle takes the first user message as the session title, clipped
// to a sidebar-friendly length.
func deriveTitle(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role != models.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(msg.Content), " ")
		if title == "" {
			return ""
		}
		runes := []rune(title)
		if len(runes) > 48 {
			title = strings.TrimSpace(string(runes[:48])) + "..."
		}
		return title
	}
	return ""
}
