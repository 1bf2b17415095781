package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// DLQAdmin serves the operator endpoints over the persistent dead letter
// list. Reprocess re-publishes the captured fields and removes exactly one
// matching list entry, so double-submitting the same item is harmless.
type DLQAdmin struct {
	client *redisstream.Client
}

// NewDLQAdmin wraps the stream client for the admin routes.
func NewDLQAdmin(client *redisstream.Client) *DLQAdmin {
	return &DLQAdmin{client: client}
}

// ListDLQ returns every quarantined item, newest first.
func (d *DLQAdmin) ListDLQ(w http.ResponseWriter, r *http.Request) {
	raw, err := d.client.ListPersistent(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
		return
	}
	items := make([]domain.DLQItem, 0, len(raw))
	for _, payload := range raw {
		var item domain.DLQItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			LoggerFrom(r).Warn("skipping malformed dead letter entry", slog.Any("error", err))
			continue
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type reprocessRequest struct {
	domain.DLQItem
	TargetStream string `json:"target_stream"`
}

// ReprocessDLQ re-injects one quarantined item into a stream and removes it
// from the persistent list. A missing item yields 404.
func (d *DLQAdmin) ReprocessDLQ(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	if req.MessageID == "" || len(req.Data) == 0 {
		writeError(w, r, fmt.Errorf("%w: message_id and data are required", domain.ErrInvalidArgument), nil)
		return
	}
	target := req.TargetStream
	if target == "" {
		target = redisstream.StreamNewMessage
	}

	payload, err := json.Marshal(req.DLQItem)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
		return
	}

	// Publish before removing: losing the item between list and stream would
	// be worse than an occasional duplicate, which delivery is already
	// at-least-once about.
	id, err := d.client.Publish(r.Context(), target, req.Data)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: republish failed: %v", domain.ErrInternal, err), nil)
		return
	}
	removed, err := d.client.RemovePersistent(r.Context(), string(payload))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
		return
	}
	if removed == 0 {
		// Another operator got here first.
		writeError(w, r, fmt.Errorf("%w: dead letter item not found", domain.ErrNotFound), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "requeued",
		"message_id":    id,
		"target_stream": target,
	})
}

// DeleteDLQItem discards one quarantined item without reprocessing it.
func (d *DLQAdmin) DeleteDLQItem(w http.ResponseWriter, r *http.Request) {
	var item domain.DLQItem
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&item); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	if item.MessageID == "" {
		writeError(w, r, fmt.Errorf("%w: message_id is required", domain.ErrInvalidArgument), nil)
		return
	}
	payload, err := json.Marshal(item)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
		return
	}
	removed, err := d.client.RemovePersistent(r.Context(), string(payload))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
		return
	}
	if removed == 0 {
		writeError(w, r, fmt.Errorf("%w: dead letter item not found", domain.ErrNotFound), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "message_id": item.MessageID})
}
