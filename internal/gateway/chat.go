package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/internal/observability"
	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

type chatRequest struct {
	Messages []models.Message `json:"messages"`
	ChatID   string           `json:"chat_id,omitempty"`
}

type decisionRequest struct {
	ApprovalID string `json:"approval_id"`
	Reason     string `json:"reason,omitempty"`
}

// newTurn validates a chat request and resolves the provider route.
func (s *Server) newTurn(ctx context.Context, user *models.User, token string, req chatRequest) (agent.Turn, error) {
	if len(req.Messages) == 0 {
		return agent.Turn{}, newAPIError(http.StatusBadRequest, "messages array is required")
	}
	chatID := strings.TrimSpace(req.ChatID)
	if chatID != "" && s.deps.Stores.Chats != nil {
		if _, err := s.deps.Stores.Chats.GetChat(ctx, chatID, user.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return agent.Turn{}, newAPIError(http.StatusNotFound, "Chat not found")
			}
			return agent.Turn{}, err
		}
	}
	route, err := s.routeFor(ctx, user.ID)
	if err != nil {
		return agent.Turn{}, err
	}
	return agent.Turn{
		Messages: req.Messages,
		Caller:   tools.Caller{UserID: user.ID, Token: token},
		ChatID:   chatID,
		Route:    route,
	}, nil
}

// claim resolves the route and consumes the approval for user. The route
// is resolved first so a misconfiguration does not burn the approval. The
// deciding request's token replaces whatever the store kept.
func (s *Server) claim(ctx context.Context, user *models.User, token string, req decisionRequest) (*models.PendingApproval, agent.Route, error) {
	route, err := s.routeFor(ctx, user.ID)
	if err != nil {
		return nil, agent.Route{}, err
	}
	pending, err := s.deps.Approvals.Claim(ctx, strings.TrimSpace(req.ApprovalID), user.ID)
	switch {
	case errors.Is(err, agent.ErrApprovalNotFound):
		return nil, agent.Route{}, newAPIError(http.StatusNotFound, "Approval request not found or expired")
	case errors.Is(err, agent.ErrApprovalForbidden):
		return nil, agent.Route{}, newAPIError(http.StatusForbidden, "Forbidden")
	case err != nil:
		return nil, agent.Route{}, err
	}
	pending.Token = token
	return pending, route, nil
}

func (s *Server) routeFor(ctx context.Context, userID string) (agent.Route, error) {
	var prefs models.Preferences
	if s.deps.Stores.Preferences != nil {
		p, err := s.deps.Stores.Preferences.GetPreferences(ctx, userID)
		if err != nil {
			s.logger.WarnContext(ctx, "load preferences failed, using defaults", "error", err)
		} else {
			prefs = p
		}
	}
	route, err := s.deps.Routes.RouteFor(prefs)
	if errors.Is(err, agent.ErrNoProvider) {
		return agent.Route{}, newAPIError(http.StatusServiceUnavailable, "No AI provider is configured.")
	}
	return route, err
}

// runTurn executes turn and persists the final history when it is bound to
// a chat. The turn does not stop when the client goes away.
func (s *Server) runTurn(ctx context.Context, turn agent.Turn, sink agent.Sink) agent.Outcome {
	ctx = context.WithoutCancel(ctx)
	if turn.ChatID != "" {
		ctx = observability.AddChatID(ctx, turn.ChatID)
	}
	out := s.deps.Turns.Run(ctx, turn, sink)
	s.persist(ctx, turn.Caller.UserID, turn.ChatID, out)
	return out
}

func (s *Server) resumeTurn(ctx context.Context, pending *models.PendingApproval, decision agent.Decision, route agent.Route, sink agent.Sink) agent.Outcome {
	ctx = context.WithoutCancel(ctx)
	if pending.ChatID != "" {
		ctx = observability.AddChatID(ctx, pending.ChatID)
	}
	out := s.deps.Turns.Resume(ctx, pending, decision, route, sink)
	s.persist(ctx, pending.UserID, pending.ChatID, out)
	return out
}

func (s *Server) persist(ctx context.Context, userID, chatID string, out agent.Outcome) {
	if chatID == "" || s.deps.Stores.Chats == nil || len(out.Messages) == 0 {
		return
	}
	raw, err := json.Marshal(out.Messages)
	if err != nil {
		s.logger.ErrorContext(ctx, "encode chat history failed", "error", err)
		return
	}
	if _, err := s.deps.Stores.Chats.UpdateChat(ctx, chatID, userID, storage.ChatUpdate{Messages: raw}); err != nil {
		s.logger.ErrorContext(ctx, "persist chat history failed", "error", err)
	}
}

// openStream starts an SSE response for r.
func (s *Server) openStream(w http.ResponseWriter, r *http.Request) (*sseSink, bool) {
	sink, err := newSSESink(r.Context(), w, s.config.KeepaliveInterval, s.deps.Metrics.StreamOpened())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return nil, false
	}
	return sink, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeFailure(w, r, err, "Failed to start chat")
		return
	}
	user, token := caller(r)
	turn, err := s.newTurn(r.Context(), user, token, req)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to start chat")
		return
	}
	sink, ok := s.openStream(w, r)
	if !ok {
		return
	}
	defer sink.Close()
	s.runTurn(r.Context(), turn, sink)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, false)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, approve bool) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeFailure(w, r, err, "Failed to resume chat")
		return
	}
	user, token := caller(r)
	pending, route, err := s.claim(r.Context(), user, token, req)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to resume chat")
		return
	}
	sink, ok := s.openStream(w, r)
	if !ok {
		return
	}
	defer sink.Close()
	decision := agent.Decision{Approve: approve}
	if !approve {
		decision.Reason = req.Reason
	}
	s.resumeTurn(r.Context(), pending, decision, route, sink)
}
