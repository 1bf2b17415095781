// Package redisstream provides the durable stream fabric that connects the
// pipeline stages.
//
// Stages communicate through append-only streams with per-stream consumer
// groups. Delivery is at-least-once: an entry stays in a consumer's pending
// set until acknowledged, and terminal failures are quarantined to a shared
// dead-letter stream before the original id is acked.
package redisstream

// Stream and group names of the pipeline topology.
const (
	StreamNewMessage         = "events:new_message"
	StreamTranscribedMessage = "events:transcribed_message"
	StreamMessageOut         = "events:message_out"
	StreamNewDocument        = "events:new_document"
	StreamDeadLetter         = "events:dead_letter_queue"

	GroupTranscriptionWorkers = "group:transcription-workers"
	GroupMainAPI              = "group:main-api"
	GroupEmbeddingWorker      = "group:embedding-worker"
	GroupDLQMonitor           = "group:dlq-monitor"

	// PersistentFailuresList is the operator-visible DLQ: a durable list of
	// JSON-serialized {message_id, data} records.
	PersistentFailuresList = "dlq:persistent_failures"
)
