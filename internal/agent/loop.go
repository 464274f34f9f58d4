// Package agent runs one conversational turn: it streams a model response,
// dispatches the tool calls it asks for, suspends on risky tools until a
// human decides, and resumes from that decision.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/tariti/internal/backoff"
	"github.com/haasonsaas/tariti/internal/observability"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

const skippedToolResult = `{"error":"Skipped; please request this tool again in a separate message.","skipped":true}`

// LoopState is the state of a turn.
//
//	REQUESTING -> STREAMING -> RESPONSE_COMPLETE -> DISPATCHING_TOOLS -> REQUESTING
//	                                             -> AWAITING_APPROVAL
//	                                             -> DONE
//	any state -> ERROR
type LoopState int

const (
	StateRequesting LoopState = iota
	StateStreaming
	StateResponseComplete
	StateDispatchingTools
	StateAwaitingApproval
	StateDone
	StateError
)

func (s LoopState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateResponseComplete:
		return "response_complete"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ToolExecutor is the tool surface the loop needs. *tools.Registry
// implements it.
type ToolExecutor interface {
	Definitions() []tools.Definition
	Execute(ctx context.Context, name string, input json.RawMessage, caller tools.Caller) tools.Result
}

// LoopConfig configures the controller.
type LoopConfig struct {
	// MaxIterations caps provider round trips per turn.
	// Default: 25
	MaxIterations int

	// MaxTokens is passed to providers; zero uses the provider default.
	MaxTokens int

	// Retry is the backoff schedule for overloaded or rate limited providers.
	Retry backoff.Policy

	// MaxAttempts bounds provider attempts per request.
	// Default: 5
	MaxAttempts int

	// SystemPrompt renders the system prompt for a turn started at now.
	SystemPrompt func(now time.Time) string

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 25,
		Retry:         backoff.ProviderPolicy(),
		MaxAttempts:   5,
	}
}

func sanitizeLoopConfig(config LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Retry == (backoff.Policy{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}

// Controller drives turns through the loop states.
//
// Thread Safety:
// Controller is safe for concurrent use; every turn keeps its own state.
type Controller struct {
	config LoopConfig
	tools  ToolExecutor
	gate   *ApprovalGate
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewController creates a controller. gate may be nil, in which case a
// risky tool call ends the turn with an error.
func NewController(executor ToolExecutor, gate *ApprovalGate, config LoopConfig) *Controller {
	config = sanitizeLoopConfig(config)
	return &Controller{
		config: config,
		tools:  executor,
		gate:   gate,
		logger: config.Logger.With("component", "agent"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Turn is the input of a new turn.
type Turn struct {
	Messages []models.Message
	Caller   tools.Caller
	ChatID   string
	Route    Route
}

// Decision is a human verdict on a pending approval.
type Decision struct {
	Approve bool
	Reason  string
}

// Outcome is the terminal result of a turn. It mirrors the final done event.
type Outcome struct {
	State             LoopState
	Messages          []models.Message
	PendingApprovalID string
	Err               error
}

type turnState struct {
	state     LoopState
	iteration int

	messages []models.Message
	caller   tools.Caller
	chatID   string
	system   string
	defs     []tools.Definition
	risky    map[string]bool

	route      Route
	active     Target
	failedOver bool
	// textStreamed is set once any text reached the client in this turn.
	// Failover is only allowed while it is false.
	textStreamed bool

	chunks    <-chan *CompletionChunk
	span      trace.Span
	openedAt  time.Time
	assistant models.Message

	pendingID string
	err       error
}

func (c *Controller) newTurnState(turn Turn) *turnState {
	var defs []tools.Definition
	if c.tools != nil {
		defs = c.tools.Definitions()
	}
	risky := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Risky {
			risky[def.Name] = true
		}
	}
	system := ""
	if c.config.SystemPrompt != nil {
		system = c.config.SystemPrompt(c.now())
	}
	return &turnState{
		state:    StateRequesting,
		messages: models.CloneMessages(turn.Messages),
		caller:   turn.Caller,
		chatID:   turn.ChatID,
		system:   system,
		defs:     defs,
		risky:    risky,
		route:    turn.Route,
		active:   turn.Route.Primary,
	}
}

// Run executes a new turn and streams its events to sink. It always ends
// with exactly one done event.
func (c *Controller) Run(ctx context.Context, turn Turn, sink Sink) Outcome {
	ctx, span := c.config.Tracer.TraceTurn(ctx, "chat", turn.Caller.UserID)
	defer span.End()

	ts := c.newTurnState(turn)
	out := c.drive(ctx, ts, detach(sink, c.logger))
	observability.RecordError(span, out.Err)
	return out
}

// Resume continues a turn suspended on pending after the owner decided.
// The approved call runs for real; every call after it in the same
// response gets a skipped stub result.
func (c *Controller) Resume(ctx context.Context, pending *models.PendingApproval, decision Decision, route Route, sink Sink) Outcome {
	kind := "reject"
	if decision.Approve {
		kind = "approve"
	}
	ctx, span := c.config.Tracer.TraceTurn(ctx, kind, pending.UserID)
	defer span.End()

	sink = detach(sink, c.logger)
	ts := c.newTurnState(Turn{
		Messages: pending.Messages,
		Caller:   tools.Caller{UserID: pending.UserID, Token: pending.Token},
		ChatID:   pending.ChatID,
		Route:    route,
	})

	call := pending.ToolCall
	var decided models.ContentBlock
	if decision.Approve {
		c.config.Metrics.RecordApproval("approved")
		c.logger.InfoContext(ctx, "tool approved", "approval_id", pending.ID, "tool", call.Name)
		decided = c.runTool(ctx, ts, sink, call, true)
	} else {
		c.config.Metrics.RecordApproval("rejected")
		c.logger.InfoContext(ctx, "tool rejected", "approval_id", pending.ID, "tool", call.Name)
		_ = sink.Send(models.Event{Type: models.EventToolRejected, ToolID: call.ID, ToolName: call.Name})
		decided = models.ToolResultBlock(call.ID, rejectionContent(decision.Reason), true)
	}

	results := slices.Clone(pending.ResultsSoFar)
	results = append(results, decided)
	if idx := slices.IndexFunc(pending.AllCalls, func(b models.ContentBlock) bool { return b.ID == call.ID }); idx >= 0 {
		for _, later := range pending.AllCalls[idx+1:] {
			results = append(results, models.ToolResultBlock(later.ID, skippedToolResult, true))
		}
	}
	ts.messages = append(ts.messages, models.Message{Role: models.RoleUser, Content: results})

	out := c.drive(ctx, ts, sink)
	observability.RecordError(span, out.Err)
	return out
}

func rejectionContent(reason string) string {
	msg := "User rejected this operation."
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += " Reason: " + reason
	}
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

func (c *Controller) drive(ctx context.Context, ts *turnState, sink Sink) Outcome {
	for {
		switch ts.state {
		case StateRequesting:
			if ts.iteration >= c.config.MaxIterations {
				c.fail(ts, ErrMaxIterations)
				continue
			}
			ts.iteration++
			if err := c.open(ctx, ts); err != nil {
				if c.failover(ctx, ts, err) {
					continue
				}
				c.fail(ts, err)
				continue
			}
			ts.state = StateStreaming

		case StateStreaming:
			msg, err := c.stream(ctx, ts, sink)
			if err != nil {
				if c.failover(ctx, ts, err) {
					continue
				}
				c.fail(ts, err)
				continue
			}
			ts.assistant = msg
			ts.state = StateResponseComplete

		case StateResponseComplete:
			if len(ts.assistant.Content) > 0 {
				ts.messages = append(ts.messages, ts.assistant)
			}
			if len(ts.assistant.ToolCalls()) == 0 {
				ts.state = StateDone
				continue
			}
			ts.state = StateDispatchingTools

		case StateDispatchingTools:
			if err := c.dispatch(ctx, ts, sink); err != nil {
				c.fail(ts, err)
			}

		case StateAwaitingApproval:
			_ = sink.Send(models.DoneEvent(ts.messages, ts.pendingID))
			return c.finish(ctx, ts)

		case StateDone:
			_ = sink.Send(models.DoneEvent(ts.messages, ""))
			return c.finish(ctx, ts)

		case StateError:
			_ = sink.Send(models.ErrorEvent(userMessage(ts.err)))
			_ = sink.Send(models.DoneEvent(ts.messages, ""))
			return c.finish(ctx, ts)

		default:
			c.fail(ts, fmt.Errorf("unexpected loop state %s", ts.state))
		}
	}
}

func (c *Controller) fail(ts *turnState, err error) {
	var loopErr *LoopError
	if !errors.As(err, &loopErr) {
		err = &LoopError{State: ts.state, Iteration: ts.iteration, Cause: err}
	}
	ts.err = err
	ts.state = StateError
}

func (c *Controller) finish(ctx context.Context, ts *turnState) Outcome {
	c.config.Metrics.RecordTurn(ts.state.String())
	if ts.err != nil {
		c.logger.WarnContext(ctx, "turn failed",
			"iterations", ts.iteration,
			"provider", ts.active.Name(),
			"error", ts.err,
		)
	} else {
		c.logger.DebugContext(ctx, "turn finished",
			"state", ts.state.String(),
			"iterations", ts.iteration,
			"provider", ts.active.Name(),
		)
	}
	return Outcome{
		State:             ts.state,
		Messages:          ts.messages,
		PendingApprovalID: ts.pendingID,
		Err:               ts.err,
	}
}

// open starts a provider stream for the active target, retrying
// overload and rate limit failures with backoff.
func (c *Controller) open(ctx context.Context, ts *turnState) error {
	target := ts.active
	if target.Provider == nil {
		return ErrNoProvider
	}

	req := &CompletionRequest{
		Model:     target.Model,
		System:    ts.system,
		Messages:  SanitizeMessages(ts.messages),
		Tools:     ts.defs,
		MaxTokens: c.config.MaxTokens,
	}

	spanCtx, span := c.config.Tracer.TraceLLMRequest(ctx, target.Name(), target.Model)
	result, err := backoff.Retry(spanCtx, c.config.Retry, c.config.MaxAttempts, retryable,
		func(attempt int) (<-chan *CompletionChunk, error) {
			start := c.now()
			chunks, err := target.Provider.Complete(spanCtx, req)
			if err == nil {
				return chunks, nil
			}
			c.config.Metrics.RecordLLMRequest(target.Name(), target.Model, false, time.Since(start).Seconds())
			if retryable(err) && attempt < c.config.MaxAttempts {
				c.config.Metrics.RecordLLMRetry(target.Name(), retryReason(err))
				c.logger.WarnContext(ctx, "provider busy, retrying",
					"provider", target.Name(),
					"attempt", attempt,
					"error", err,
				)
			}
			return nil, err
		})
	if errors.Is(err, backoff.ErrMaxAttemptsExhausted) && result.LastError != nil {
		err = result.LastError
	}
	if err != nil {
		observability.RecordError(span, err)
		span.End()
		return err
	}

	ts.chunks = result.Value
	ts.span = span
	ts.openedAt = c.now()
	return nil
}

// stream forwards text to the sink as it arrives and assembles the
// assistant message with its blocks in arrival order.
func (c *Controller) stream(ctx context.Context, ts *turnState, sink Sink) (models.Message, error) {
	target := ts.active
	msg := models.Message{Role: models.RoleAssistant}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			msg.Content = append(msg.Content, models.TextBlock(text.String()))
			text.Reset()
		}
	}
	end := func(err error) {
		c.config.Metrics.RecordLLMRequest(target.Name(), target.Model, err == nil, time.Since(ts.openedAt).Seconds())
		if ts.span != nil {
			observability.RecordError(ts.span, err)
			ts.span.End()
			ts.span = nil
		}
		ts.chunks = nil
	}

	for chunk := range ts.chunks {
		switch {
		case chunk.Error != nil:
			end(chunk.Error)
			return msg, chunk.Error
		case chunk.ToolCall != nil:
			flush()
			msg.Content = append(msg.Content, *chunk.ToolCall)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			ts.textStreamed = true
			_ = sink.Send(models.TextDelta(chunk.Text))
		case chunk.Done:
			flush()
			end(nil)
			return msg, nil
		}
	}

	err := ctx.Err()
	if err == nil {
		err = errors.New("provider stream closed before completion")
	}
	end(err)
	return msg, err
}

// failover switches the turn to the fallback target. It is allowed once
// per turn and only before any text has reached the client, so tool calls
// already dispatched are never run again.
func (c *Controller) failover(ctx context.Context, ts *turnState, err error) bool {
	if ts.textStreamed || ts.failedOver || ts.route.Fallback == nil || ts.route.Fallback.Provider == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	from, to := ts.active.Name(), ts.route.Fallback.Name()
	ts.active = *ts.route.Fallback
	ts.failedOver = true
	ts.state = StateRequesting
	c.config.Metrics.RecordFailover(from, to)
	c.logger.WarnContext(ctx, "provider failed, switching to fallback",
		"from", from,
		"to", to,
		"error", err,
	)
	return true
}

// dispatch runs tool calls in provider order until the first risky one,
// which suspends the turn.
func (c *Controller) dispatch(ctx context.Context, ts *turnState, sink Sink) error {
	calls := ts.assistant.ToolCalls()
	results := make([]models.ContentBlock, 0, len(calls))

	for _, call := range calls {
		if !ts.risky[call.Name] {
			results = append(results, c.runTool(ctx, ts, sink, call, false))
			continue
		}

		if c.gate == nil {
			return fmt.Errorf("tool %s requires approval but approvals are not configured", call.Name)
		}
		pending := &models.PendingApproval{
			ID:           c.newID(),
			UserID:       ts.caller.UserID,
			Token:        ts.caller.Token,
			ChatID:       ts.chatID,
			Messages:     models.CloneMessages(ts.messages),
			ToolCall:     call,
			AllCalls:     slices.Clone(calls),
			ResultsSoFar: results,
			CreatedAt:    c.now(),
		}
		if err := c.gate.Create(context.WithoutCancel(ctx), pending); err != nil {
			return err
		}
		_ = sink.Send(models.Event{
			Type:        models.EventApprovalRequired,
			ApprovalID:  pending.ID,
			ToolName:    call.Name,
			ToolInput:   call.Input,
			Description: tools.Describe(call.Name, call.Input),
		})
		ts.pendingID = pending.ID
		ts.state = StateAwaitingApproval
		return nil
	}

	ts.messages = append(ts.messages, models.Message{Role: models.RoleUser, Content: results})
	ts.state = StateRequesting
	return nil
}

// runTool executes one call with a context detached from the client so a
// disconnect cannot abort a side effect halfway.
func (c *Controller) runTool(ctx context.Context, ts *turnState, sink Sink, call models.ContentBlock, approved bool) models.ContentBlock {
	_ = sink.Send(models.Event{
		Type:             models.EventToolUseStart,
		ToolID:           call.ID,
		ToolName:         call.Name,
		ToolInput:        call.Input,
		RequiresApproval: approved,
		Approved:         approved,
	})

	var res tools.Result
	if c.tools == nil {
		res = tools.Result{Error: "Unknown tool: " + call.Name}
	} else {
		res = c.tools.Execute(context.WithoutCancel(ctx), call.Name, call.Input, ts.caller)
	}

	_ = sink.Send(models.Event{
		Type:     models.EventToolResult,
		ToolID:   call.ID,
		ToolName: call.Name,
		Result:   res.Data,
		IsError:  !res.Success,
		Error:    res.Error,
	})
	return models.ToolResultBlock(call.ID, res.Content(), !res.Success)
}
