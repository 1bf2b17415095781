package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/usecase"
)

// Chat serves one transcribed_message entry: route the turn through the
// model back-ends and publish the reply for gateway egress.
type Chat struct {
	router    *usecase.Router
	publisher domain.Publisher
	outStream string
}

// NewChat wires the chat stage handler.
func NewChat(router *usecase.Router, publisher domain.Publisher) *Chat {
	return &Chat{router: router, publisher: publisher, outStream: redisstream.StreamMessageOut}
}

// Handle routes the message and publishes the reply. The task label rides
// on the envelope and defaults to chat.
func (c *Chat) Handle(ctx context.Context, e redisstream.Entry) error {
	userID := e.Fields[domain.FieldUserID]
	if userID == "" {
		return fmt.Errorf("op=chat.Handle: %w: userId missing", domain.ErrInvalidArgument)
	}
	body := e.Fields[domain.FieldBody]
	task := e.Fields["task"]
	if task == "" {
		task = usecase.TaskChat
	}

	reply, err := c.router.ProcessChatMessage(ctx, userID, body, task)
	if err != nil {
		return fmt.Errorf("op=chat.Handle: %w", err)
	}

	out := map[string]string{
		domain.FieldUserID: userID,
		domain.FieldBody:   reply,
	}
	if chatID := e.Fields[domain.FieldChatID]; chatID != "" {
		out[domain.FieldChatID] = chatID
	}
	if ts := e.Fields[domain.FieldTimestamp]; ts != "" {
		out[domain.FieldTimestamp] = ts
	}
	if _, err := c.publisher.Publish(ctx, c.outStream, out); err != nil {
		return fmt.Errorf("op=chat.Handle publish: %w", err)
	}
	observability.LoggerFromContext(ctx).Info("reply published",
		slog.String("user_id", userID), slog.Int("chars", len(reply)))
	return nil
}
