package redisstream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	obs "github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/healthbeat"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
)

// Handler processes one delivered entry. Handlers perform their own
// per-operation retries; an error returned here is terminal for the entry
// and sends it to the dead-letter stream.
type Handler func(ctx context.Context, e Entry) error

// Runner is the consumer-group loop every stage worker shares. It block-reads
// new entries for its consumer, runs the handler, and acknowledges. Terminal
// failures are quarantined via the DLQ sink before the ack so a poison entry
// is never redelivered.
type Runner struct {
	client   *Client
	stream   string
	group    string
	consumer string
	stage    string
	handler  Handler
	dlq      *Sink
	beat     *healthbeat.Beat

	readCount    int64
	blockTimeout time.Duration
	// errorSleep bounds the loop when the broker itself is failing.
	errorSleep time.Duration
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Stream       string
	Group        string
	Consumer     string
	Stage        string
	Handler      Handler
	DLQ          *Sink
	Beat         *healthbeat.Beat
	ReadCount    int64
	BlockTimeout time.Duration
	ErrorSleep   time.Duration
}

// NewRunner builds a Runner over the shared stream client.
func NewRunner(client *Client, opts RunnerOptions) *Runner {
	if opts.ReadCount <= 0 {
		opts.ReadCount = 10
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ErrorSleep <= 0 {
		opts.ErrorSleep = 5 * time.Second
	}
	return &Runner{
		client:       client,
		stream:       opts.Stream,
		group:        opts.Group,
		consumer:     opts.Consumer,
		stage:        opts.Stage,
		handler:      opts.Handler,
		dlq:          opts.DLQ,
		beat:         opts.Beat,
		readCount:    opts.ReadCount,
		blockTimeout: opts.BlockTimeout,
		errorSleep:   opts.ErrorSleep,
	}
}

// Run consumes until ctx is cancelled. The consumer group is created if
// missing; any other group-creation error aborts startup.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.client.EnsureGroup(ctx, r.stream, r.group); err != nil {
		return err
	}
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("stage", r.stage),
		slog.String("stream", r.stream),
		slog.String("group", r.group),
		slog.String("consumer", r.consumer),
	)
	lg.Info("stage runner started")

	for {
		if err := ctx.Err(); err != nil {
			lg.Info("stage runner stopping")
			return nil
		}
		if err := r.beat.Touch(); err != nil {
			lg.Warn("healthbeat touch failed", slog.Any("error", err))
		}
		entries, err := r.client.ReadGroup(ctx, r.stream, r.group, r.consumer, r.readCount, r.blockTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			lg.Error("stream read failed", slog.Any("error", err))
			if !sleepCtx(ctx, r.errorSleep) {
				return nil
			}
			continue
		}
		for _, e := range entries {
			r.process(ctx, lg, e)
			if ctx.Err() != nil {
				// Unacked entries are reclaimed by another consumer.
				lg.Info("stage runner stopping")
				return nil
			}
		}
	}
}

// process runs the handler for one entry and settles it: ack on success,
// DLQ then ack on terminal failure. The ack after a DLQ write is what keeps
// a poison entry from looping forever.
func (r *Runner) process(ctx context.Context, lg *slog.Logger, e Entry) {
	hctx := observability.ContextWithMessageID(ctx, e.ID)
	hctx = observability.ContextWithLogger(hctx, lg.With(slog.String("message_id", e.ID)))

	start := time.Now()
	obs.StartStageEntry(r.stage)
	err := r.runHandler(hctx, e)
	if err == nil {
		if ackErr := r.client.Ack(ctx, r.stream, r.group, e.ID); ackErr != nil {
			lg.Error("ack failed", slog.String("message_id", e.ID), slog.Any("error", ackErr))
		}
		obs.FinishStageEntry(r.stage, "acked", time.Since(start))
		return
	}

	lg.Error("entry failed terminally",
		slog.String("message_id", e.ID),
		slog.Any("error", err))
	if r.dlq == nil {
		// A stage without a sink (the DLQ monitor itself) has nowhere to
		// quarantine; leave the entry pending so it is redelivered.
		obs.FinishStageEntry(r.stage, "requeued", time.Since(start))
		return
	}
	if dlqErr := r.dlq.Quarantine(ctx, r.stage, e, err); dlqErr != nil {
		// Leave the entry unacked so it is redelivered rather than lost.
		lg.Error("dead-letter write failed; leaving entry pending",
			slog.String("message_id", e.ID),
			slog.Any("error", dlqErr))
		obs.FinishStageEntry(r.stage, "requeued", time.Since(start))
		return
	}
	if ackErr := r.client.Ack(ctx, r.stream, r.group, e.ID); ackErr != nil {
		lg.Error("ack after dead-letter failed", slog.String("message_id", e.ID), slog.Any("error", ackErr))
	}
	obs.FinishStageEntry(r.stage, "dead_lettered", time.Since(start))
}

// runHandler shields the loop from handler panics; a panic is a terminal
// failure like any other.
func (r *Runner) runHandler(ctx context.Context, e Entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return r.handler(ctx, e)
}

type panicError struct{ value any }

func (p *panicError) Error() string { return "handler panic: " + stringify(p.value) }

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return "unknown"
}

// sleepCtx sleeps for d or until ctx is done; reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
