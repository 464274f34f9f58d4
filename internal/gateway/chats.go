package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/tariti/internal/storage"
)

const (
	chatListLimit    = 100
	defaultChatTitle = "New chat"
)

func (s *Server) chatStore(w http.ResponseWriter) (storage.ChatStore, bool) {
	if s.deps.Stores.Chats == nil {
		writeError(w, http.StatusServiceUnavailable, "Chat storage is not configured")
		return nil, false
	}
	return s.deps.Stores.Chats, true
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	store, ok := s.chatStore(w)
	if !ok {
		return
	}
	user, _ := caller(r)
	chats, err := store.ListChats(r.Context(), user.ID, chatListLimit)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.chatStore(w)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeFailure(w, r, err, "Failed to create chat")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultChatTitle
	}
	user, _ := caller(r)
	chat, err := store.CreateChat(r.Context(), user.ID, title)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chat": chat})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.chatStore(w)
	if !ok {
		return
	}
	user, _ := caller(r)
	chat, err := store.GetChat(r.Context(), r.PathValue("id"), user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		s.writeFailure(w, r, err, "Failed to load chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat})
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.chatStore(w)
	if !ok {
		return
	}
	var req struct {
		Title    *string         `json:"title"`
		Messages json.RawMessage `json:"messages"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeFailure(w, r, err, "Failed to update chat")
		return
	}

	var update storage.ChatUpdate
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			title = defaultChatTitle
		}
		update.Title = &title
	}
	// Anything but an array leaves the stored messages alone.
	if trimmed := strings.TrimSpace(string(req.Messages)); strings.HasPrefix(trimmed, "[") {
		update.Messages = req.Messages
	}

	user, _ := caller(r)
	chat, err := store.UpdateChat(r.Context(), r.PathValue("id"), user.ID, update)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		s.writeFailure(w, r, err, "Failed to update chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.chatStore(w)
	if !ok {
		return
	}
	user, _ := caller(r)
	err := store.DeleteChat(r.Context(), r.PathValue("id"), user.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.writeFailure(w, r, err, "Failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShareChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.chatStore(w)
	if !ok {
		return
	}
	token, err := newShareToken()
	if err != nil {
		s.writeFailure(w, r, err, "Failed to share chat")
		return
	}
	user, _ := caller(r)
	err = store.ShareChat(r.Context(), r.PathValue("id"), user.ID, token)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		s.writeFailure(w, r, err, "Failed to share chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"share_token": token,
		"share_url":   "/tariti-gpt/shared/" + token,
	})
}

// sharedChat is the public projection of a shared chat.
type sharedChat struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Messages json.RawMessage `json:"messages"`
	SharedAt time.Time       `json:"share_created_at"`
}

func (s *Server) handleSharedChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.chatStore(w)
	if !ok {
		return
	}
	chat, err := store.GetSharedChat(r.Context(), r.PathValue("token"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Shared chat not found or expired")
		return
	}
	if err != nil {
		s.writeFailure(w, r, err, "Failed to load shared chat")
		return
	}
	messages := chat.Messages
	if len(messages) == 0 {
		messages = json.RawMessage("[]")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat": sharedChat{
			ID:       chat.ID,
			Title:    chat.Title,
			Messages: messages,
			SharedAt: chat.UpdatedAt,
		},
		"shared": true,
	})
}

// newShareToken returns 16 random bytes as hex.
func newShareToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
