package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	obs "github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
)

// Sink quarantines terminally failed entries onto the shared dead-letter
// stream. The original envelope is preserved and augmented with the failing
// service, a timestamp, and the error text.
type Sink struct {
	client *Client
	stream string
	now    func() time.Time
}

// NewSink returns a Sink writing to the shared dead-letter stream.
func NewSink(client *Client) *Sink {
	return &Sink{client: client, stream: StreamDeadLetter, now: time.Now}
}

// Quarantine appends the failed entry's envelope to the dead-letter stream.
func (s *Sink) Quarantine(ctx context.Context, service string, e Entry, cause error) error {
	fields := make(map[string]string, len(e.Fields)+3)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[domain.FieldErrorService] = service
	fields[domain.FieldErrorTimestamp] = strconv.FormatInt(s.now().Unix(), 10)
	fields[domain.FieldErrorDetails] = cause.Error()

	if _, err := s.client.Publish(ctx, s.stream, fields); err != nil {
		return fmt.Errorf("op=redisstream.Quarantine service=%s: %w", service, err)
	}
	obs.DLQMessagesTotal.WithLabelValues(service).Inc()
	return nil
}

// MonitorHandler returns the DLQ monitor's stage handler. It serializes
// {message_id, data} to JSON, left-pushes it onto the persistent failures
// list, and emits a critical log. The runner acks on return.
func MonitorHandler(client *Client) Handler {
	return func(ctx context.Context, e Entry) error {
		item := domain.DLQItem{MessageID: e.ID, Data: e.Fields}
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("op=redisstream.MonitorHandler marshal: %w", err)
		}
		if err := client.PushPersistent(ctx, string(payload)); err != nil {
			return err
		}
		observability.LoggerFromContext(ctx).Error("persistent failure quarantined",
			slog.String("message_id", e.ID),
			slog.String("error_service", e.Fields[domain.FieldErrorService]),
			slog.String("error_details", e.Fields[domain.FieldErrorDetails]))
		return nil
	}
}
