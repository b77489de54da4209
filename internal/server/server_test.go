package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nexuslab/internal/identity"
	"nexuslab/internal/models"
	"nexuslab/internal/storage"
	"nexuslab/internal/syncer"
)

func newTestServer(t *testing.T) (*http.ServeMux, *identity.SessionCache) {
	t.Helper()
	ctx := context.Background()

	local, err := storage.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })

	coordinator := syncer.New(syncer.Config{
		Local:  local,
		Logger: zerolog.Nop(),
	})
	sessions := identity.NewSessionCache(local, nil)

	s := New(Config{
		Sync:     coordinator,
		Identity: identity.New(identity.Config{BaseURL: "http://127.0.0.1:0"}),
		Sessions: sessions,
		Logger:   zerolog.Nop(),
	})
	mux := http.NewServeMux()
	s.Register(mux)
	return mux, sessions
}

func loginTestUser(t *testing.T, sessions *identity.SessionCache) models.Session {
	t.Helper()
	session := models.Session{
		User:      models.User{ID: "u1", Name: "Ada", Email: "ada@example.com"},
		Token:     "cached-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := sessions.Save(context.Background(), session); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return session
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpointsRequireAuth(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/chats", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestCreateSaveListChats(t *testing.T) {
	mux, sessions := newTestServer(t)
	session := loginTestUser(t, sessions)

	rec := doJSON(t, mux, http.MethodPost, "/api/chats", session.Token, map[string]string{"mode": "study"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chat: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var chat models.ChatSession
	if err := json.Unmarshal(rec.Body.Bytes(), &chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if chat.Title != models.DefaultChatTitle || chat.Mode != models.ModeStudy {
		t.Fatalf("unexpected new chat %#v", chat)
	}

	chat.Messages = []models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "Hello", Timestamp: time.Now().UTC()},
	}
	rec = doJSON(t, mux, http.MethodPut, "/api/chats/"+chat.ID, session.Token, chat)
	if rec.Code != http.StatusOK {
		t.Fatalf("save chat: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/chats", session.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list chats: expected 200, got %d", rec.Code)
	}
	var history []models.ChatSession
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || len(history[0].Messages) != 1 || history[0].Messages[0].Content != "Hello" {
		t.Fatalf("unexpected history %#v", history)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/chats/"+chat.ID, session.Token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete chat: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/chats", session.Token, nil)
	var emptied []models.ChatSession
	if err := json.Unmarshal(rec.Body.Bytes(), &emptied); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(emptied) != 0 {
		t.Fatalf("expected empty history after delete, got %#v", emptied)
	}
}

func TestAssetEndpoints(t *testing.T) {
	mux, sessions := newTestServer(t)
	session := loginTestUser(t, sessions)

	draft := models.AssetDraft{
		Title:      "Chapter 1",
		Type:       models.AssetSummary,
		Content:    models.AssetContent{Summary: "# Notes"},
		SourceName: "lecture.pdf",
	}
	rec := doJSON(t, mux, http.MethodPost, "/api/assets", session.Token, draft)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save asset: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var created struct {
		Asset  models.LabAsset   `json:"asset"`
		Assets []models.LabAsset `json:"assets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Asset.ID == "" || created.Asset.CreatedAt.IsZero() {
		t.Fatalf("expected assigned identity, got %#v", created.Asset)
	}
	if len(created.Assets) != 1 {
		t.Fatalf("expected re-derived list of one, got %d", len(created.Assets))
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/assets", session.Token, map[string]string{"title": "x", "type": "poster"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown asset type, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/assets", session.Token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear assets: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/assets", session.Token, nil)
	var assets []models.LabAsset
	if err := json.Unmarshal(rec.Body.Bytes(), &assets); err != nil {
		t.Fatalf("decode assets: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("expected no assets after clear, got %#v", assets)
	}
}

func TestSessionEndpoint(t *testing.T) {
	mux, sessions := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/session", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no cached session, got %d", rec.Code)
	}

	loginTestUser(t, sessions)
	rec = doJSON(t, mux, http.MethodGet, "/api/session", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with cached session, got %d", rec.Code)
	}

	expired := models.Session{
		User:      models.User{ID: "u1"},
		Token:     "old",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := sessions.Save(context.Background(), expired); err != nil {
		t.Fatalf("save expired session: %v", err)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/session", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired session, got %d", rec.Code)
	}
}
