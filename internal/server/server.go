// Package server is the JSON surface the UI talks to. It holds no state
// of its own: every read and write goes through the sync coordinator,
// auth through the identity adapter, generation through the genai client.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nexuslab/internal/genai"
	"nexuslab/internal/identity"
	"nexuslab/internal/metrics"
	"nexuslab/internal/models"
	"nexuslab/internal/queue"
	"nexuslab/internal/syncer"
)

type Server struct {
	sync     *syncer.Coordinator
	identity *identity.Client
	sessions *identity.SessionCache
	genai    *genai.Client
	limiter  *queue.RateLimiter
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type Config struct {
	Sync     *syncer.Coordinator
	Identity *identity.Client
	Sessions *identity.SessionCache
	GenAI    *genai.Client
	// Limiter may be nil; generation is then unthrottled.
	Limiter *queue.RateLimiter
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Server{
		sync:     cfg.Sync,
		identity: cfg.Identity,
		sessions: cfg.Sessions,
		genai:    cfg.GenAI,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/session", s.handleSession)

	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("PUT /api/chats/{id}", s.handleSaveChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("POST /api/chats/{id}/turn", s.handleChatTurn)

	mux.HandleFunc("GET /api/assets", s.handleListAssets)
	mux.HandleFunc("POST /api/assets", s.handleSaveAsset)
	mux.HandleFunc("DELETE /api/assets/{id}", s.handleDeleteAsset)
	mux.HandleFunc("DELETE /api/assets", s.handleClearAssets)

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}

	user, err := s.identity.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrAlreadyRegistered) {
			s.writeError(w, http.StatusConflict, "an account with this email already exists")
			return
		}
		s.logger.Error().Err(err).Msg("signup failed")
		s.writeError(w, http.StatusBadGateway, "identity provider unavailable")
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}

	session, err := s.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			s.writeError(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, identity.ErrEmailNotVerified):
			s.writeError(w, http.StatusForbidden, "email address not verified yet")
		default:
			s.logger.Error().Err(err).Msg("login failed")
			s.writeError(w, http.StatusBadGateway, "identity provider unavailable")
		}
		return
	}

	if err := s.sync.PutUser(r.Context(), session.User); err != nil {
		s.logger.Error().Err(err).Msg("failed to cache user profile")
	}
	if err := s.sessions.Save(r.Context(), session); err != nil {
		s.logger.Error().Err(err).Msg("failed to cache session")
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := s.identity.Logout(r.Context(), token); err != nil {
			s.logger.Warn().Err(err).Msg("remote logout failed")
		}
	}
	if err := s.sessions.Clear(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear session cache")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Load(r.Context())
	if err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			s.writeError(w, http.StatusUnauthorized, "no active session")
			return
		}
		s.logger.Error().Err(err).Msg("session cache read failed")
		s.writeError(w, http.StatusInternalServerError, "session cache unavailable")
		return
	}
	if !session.ExpiresAt.After(time.Now()) {
		_ = s.sessions.Clear(r.Context())
		s.writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sync.History(r.Context(), user.ID))
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Mode models.Mode `json:"mode"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if !req.Mode.Valid() {
		req.Mode = user.Preferences.DefaultMode
	}
	if !req.Mode.Valid() {
		req.Mode = models.ModeStudy
	}

	chat, err := s.sync.NewChat(r.Context(), user.ID, req.Mode)
	if err != nil {
		s.logger.Error().Err(err).Msg("create chat failed")
		s.writeError(w, http.StatusInternalServerError, "local store unavailable")
		return
	}
	s.writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleSaveChat(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var chat models.ChatSession
	if !s.readJSON(w, r, &chat) {
		return
	}
	chat.ID = r.PathValue("id")

	saved, err := s.sync.SaveChat(r.Context(), user.ID, chat)
	if err != nil {
		if errors.Is(err, syncer.ErrNotOwner) {
			s.writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		s.logger.Error().Err(err).Msg("save chat failed")
		s.writeError(w, http.StatusInternalServerError, "local store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.sync.DeleteChat(r.Context(), user.ID, r.PathValue("id")); err != nil {
		if errors.Is(err, syncer.ErrNotOwner) {
			s.writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		s.logger.Error().Err(err).Msg("delete chat failed")
		s.writeError(w, http.StatusInternalServerError, "local store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChatTurn appends the user's message, asks the model for a reply,
// and saves the whole session through the coordinator.
func (s *Server) handleChatTurn(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, http.StatusBadRequest, "message content is empty")
		return
	}

	chatID := r.PathValue("id")
	var chat models.ChatSession
	found := false
	for _, c := range s.sync.History(r.Context(), user.ID) {
		if c.ID == chatID {
			chat = c
			found = true
			break
		}
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	now := time.Now().UTC()
	chat.Messages = append(chat.Messages, models.Message{
		ID:        newMessageID(),
		Role:      models.RoleUser,
		Content:   req.Content,
		Timestamp: now,
	})

	s.metrics.GenerationRequests.Inc()
	reply, err := s.genai.ChatTurn(r.Context(), chat.Mode, chat.Messages)
	if err != nil {
		s.metrics.GenerationFailures.Inc()
		s.writeGenAIError(w, err)
		return
	}
	chat.Messages = append(chat.Messages, models.Message{
		ID:        newMessageID(),
		Role:      models.RoleModel,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	})

	saved, err := s.sync.SaveChat(r.Context(), user.ID, chat)
	if err != nil {
		s.logger.Error().Err(err).Msg("save chat after turn failed")
		s.writeError(w, http.StatusInternalServerError, "local store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sync.Assets(r.Context(), user.ID))
}

func (s *Server) handleSaveAsset(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var draft models.AssetDraft
	if !s.readJSON(w, r, &draft) {
		return
	}
	if !draft.Type.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown asset type")
		return
	}

	asset, all, err := s.sync.SaveAsset(r.Context(), user.ID, draft)
	if err != nil {
		s.logger.Error().Err(err).Msg("save asset failed")
		s.writeError(w, http.StatusInternalServerError, "local store unavailable")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"asset": asset, "assets": all})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.sync.DeleteAsset(r.Context(), user.ID, r.PathValue("id")); err != nil {
		if errors.Is(err, syncer.ErrNotOwner) {
			s.writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		s.logger.Error().Err(err).Msg("delete asset failed")
		s.writeError(w, http.StatusInternalServerError, "local store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAssets(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.sync.ClearAssets(r.Context(), user.ID); err != nil {
		s.logger.Error().Err(err).Msg("clear assets failed")
		s.writeError(w, http.StatusInternalServerError, "local store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Tool     string `json:"tool"`
		URL      string `json:"url"`
		Data     []byte `json:"data"`
		MimeType string `json:"mimeType"`
		Name     string `json:"name"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}

	if s.limiter != nil {
		allowed, _, resetAt, err := s.limiter.Allow(r.Context(), user.ID, time.Now())
		if err != nil {
			s.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !allowed {
			w.Header().Set("Retry-After", resetAt.UTC().Format(http.TimeFormat))
			s.writeError(w, http.StatusTooManyRequests, "generation quota exhausted for this hour")
			return
		}
	}

	src := genai.Source{Data: req.Data, MimeType: req.MimeType, URL: req.URL, Name: req.Name}

	s.metrics.GenerationRequests.Inc()
	var result any
	var err error
	switch req.Tool {
	case "summary":
		result, err = s.genai.Summarize(r.Context(), src)
	case "quiz":
		result, err = s.genai.GenerateQuiz(r.Context(), src)
	case "slides":
		result, err = s.genai.GenerateSlides(r.Context(), src)
	case "", "unified":
		result, err = s.genai.UnifiedGenerate(r.Context(), src)
	default:
		s.writeError(w, http.StatusBadRequest, "unknown tool")
		return
	}
	if err != nil {
		s.metrics.GenerationFailures.Inc()
		s.writeGenAIError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// requireUser resolves the bearer token to a user, preferring the cached
// session so the app keeps working offline with a previously validated
// token.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := bearerToken(r)
	if token == "" {
		s.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return models.User{}, false
	}

	if cached, err := s.sessions.Load(r.Context()); err == nil {
		if cached.Token == token && cached.ExpiresAt.After(time.Now()) {
			return cached.User, true
		}
	}

	session, err := s.identity.CurrentSession(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			s.writeError(w, http.StatusUnauthorized, "session expired")
			return models.User{}, false
		}
		s.logger.Error().Err(err).Msg("session validation failed")
		s.writeError(w, http.StatusBadGateway, "identity provider unavailable")
		return models.User{}, false
	}
	return session.User, true
}

func (s *Server) writeGenAIError(w http.ResponseWriter, err error) {
	switch {
	case genai.IsSourceError(err):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case genai.IsServiceError(err):
		s.writeError(w, http.StatusServiceUnavailable, "generation service is busy, try again shortly")
	default:
		s.logger.Error().Err(err).Msg("generation failed")
		s.writeError(w, http.StatusInternalServerError, "generation failed")
	}
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20))
	if err := dec.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("write response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func newMessageID() string {
	return uuid.NewString()
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
