// Package usecase holds the application core: the task router that turns an
// inbound chat message into a model response, and the knowledge upload flow.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/rag"
	"github.com/fairyhunter13/agent-pipeline/internal/retry"
)

// Fixed responses returned without invoking any model.
const (
	NoAgentMessage = "I'm sorry, I can't find an agent configured for your account."
	PausedMessage  = "This agent is currently paused. Please resume it from the dashboard."
)

// Task labels routed to the model back-ends. Anything else falls through to
// the chat model without RAG.
const (
	TaskAnalysis   = "analysis"
	TaskExtraction = "extraction"
	TaskChat       = "chat"
)

// Router selects the model that serves a chat turn and assembles its prompt.
type Router struct {
	agents   domain.AgentRepository
	convos   domain.ConversationRepository
	chunks   domain.ChunkRepository
	chat     domain.ChatModel
	analysis domain.AnalysisModel
	extract  domain.ExtractionModel
	embedder domain.EmbeddingModel

	historyLimit   int
	matchThreshold float64
	matchCount     int
	retryPolicy    config.RetryPolicy
}

// NewRouter wires the router from its ports and retrieval settings.
func NewRouter(
	cfg config.Config,
	agents domain.AgentRepository,
	convos domain.ConversationRepository,
	chunks domain.ChunkRepository,
	chat domain.ChatModel,
	analysis domain.AnalysisModel,
	extract domain.ExtractionModel,
	embedder domain.EmbeddingModel,
) *Router {
	return &Router{
		agents:         agents,
		convos:         convos,
		chunks:         chunks,
		chat:           chat,
		analysis:       analysis,
		extract:        extract,
		embedder:       embedder,
		historyLimit:   cfg.HistoryLimit,
		matchThreshold: cfg.RAGMatchThreshold,
		matchCount:     cfg.RAGMatchCount,
		retryPolicy:    cfg.DefaultRetry(),
	}
}

// ProcessChatMessage resolves the user's agent, routes the query to the
// right model, and logs the turn. The returned text is always suitable for
// delivery: missing and paused agents yield fixed messages instead of
// errors.
func (r *Router) ProcessChatMessage(ctx domain.Context, userID, query, task string) (string, error) {
	lg := observability.LoggerFromContext(ctx).With(slog.String("user_id", userID))

	agent, err := r.agents.FirstForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			lg.Info("no agent configured for user")
			return NoAgentMessage, nil
		}
		return "", fmt.Errorf("op=router.ProcessChatMessage: %w", err)
	}
	lg = lg.With(slog.String("agent_id", agent.ID))

	if agent.Status == domain.AgentPaused {
		lg.Info("agent paused; returning fixed message")
		r.logTurn(ctx, lg, agent, userID, query, PausedMessage)
		return PausedMessage, nil
	}

	history, err := r.convos.History(ctx, agent.ID, userID, r.historyLimit)
	if err != nil {
		return "", fmt.Errorf("op=router.ProcessChatMessage: %w", err)
	}
	lg.Debug("history loaded", slog.Int("entries", len(history)))

	response, err := r.route(ctx, lg, agent, userID, query, task, history)
	if err != nil {
		return "", err
	}

	r.logTurn(ctx, lg, agent, userID, query, response)
	return response, nil
}

// route dispatches on the task label. The mapping is exhaustive and
// deterministic; unknown labels default to the chat model without RAG.
func (r *Router) route(ctx domain.Context, lg *slog.Logger, agent domain.Agent, userID, query, task string, history []domain.HistoryEntry) (string, error) {
	switch task {
	case TaskAnalysis:
		return r.invoke(ctx, "analysis", func() (string, error) {
			return r.analysis.Analyze(ctx, rag.ComposePlainPrompt(agent, query), history)
		})
	case TaskExtraction:
		return r.invoke(ctx, "extraction", func() (string, error) {
			return r.extract.Extract(ctx, rag.ComposePlainPrompt(agent, query), history)
		})
	case TaskChat:
		return r.ragChat(ctx, lg, agent, userID, query, history)
	default:
		lg.Warn("unknown task label; defaulting to chat model", slog.String("task", task))
		return r.invoke(ctx, "chat", func() (string, error) {
			return r.chat.Respond(ctx, rag.ComposePlainPrompt(agent, query), history)
		})
	}
}

// ragChat embeds the query, retrieves the user's chunks, and invokes the
// chat model with the composed prompt.
func (r *Router) ragChat(ctx domain.Context, lg *slog.Logger, agent domain.Agent, userID, query string, history []domain.HistoryEntry) (string, error) {
	var vectors [][]float32
	err := retry.Do(ctx, r.retryPolicy, func() error {
		var err error
		vectors, err = r.embedder.Embed(ctx, []string{query})
		return markTerminal(err)
	})
	if err != nil {
		return "", fmt.Errorf("op=router.ragChat embed: %w", err)
	}
	if len(vectors) != 1 {
		return "", fmt.Errorf("op=router.ragChat: %w: got %d query vectors", domain.ErrInternal, len(vectors))
	}

	chunks, err := r.chunks.Search(ctx, userID, vectors[0], r.matchThreshold, r.matchCount)
	if err != nil {
		return "", fmt.Errorf("op=router.ragChat search: %w", err)
	}
	lg.Debug("retrieval done", slog.Int("chunks", len(chunks)))

	prompt := rag.ComposePrompt(agent, chunks, query)
	return r.invoke(ctx, "chat", func() (string, error) {
		return r.chat.Respond(ctx, prompt, history)
	})
}

// invoke runs one model call under the shared retry policy. Rate limits,
// timeouts, and 5xx are retried; anything mapped to an invalid-argument
// sentinel short-circuits.
func (r *Router) invoke(ctx domain.Context, op string, call func() (string, error)) (string, error) {
	var out string
	err := retry.Do(ctx, r.retryPolicy, func() error {
		var err error
		out, err = call()
		return markTerminal(err)
	})
	if err != nil {
		return "", fmt.Errorf("op=router.invoke model=%s: %w", op, err)
	}
	return out, nil
}

// logTurn records the exchange; failures are logged and swallowed so the
// reply is still delivered.
func (r *Router) logTurn(ctx domain.Context, lg *slog.Logger, agent domain.Agent, userID, userMessage, botResponse string) {
	err := r.convos.Log(ctx, domain.ConversationTurn{
		AgentID:     agent.ID,
		UserID:      userID,
		UserMessage: userMessage,
		BotResponse: botResponse,
	})
	if err != nil {
		lg.Error("conversation log failed", slog.Any("error", err))
	}
}

// markTerminal prevents retries on errors that will fail the same way again.
func markTerminal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrUnsupportedMedia) {
		return retry.Permanent(err)
	}
	return err
}
