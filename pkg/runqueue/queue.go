package runqueue

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rasyid/kantor/internal/observability"
	"github.com/rasyid/kantor/internal/tracing"
)

// anonymousKey serializes runs that arrive without a conversation id.
const anonymousKey = "anonymous"

// Config holds the admission-queue tuning.
type Config struct {
	// MaxConcurrentRuns caps runs executing across all conversations.
	MaxConcurrentRuns int
	// WarnAfter is the wait above which an admission is logged as slow.
	WarnAfter time.Duration
	Logger    zerolog.Logger
}

// convLock is a context-aware mutex for one conversation. Whoever holds the
// token in ch holds the lock; refs counts holders plus waiters so the entry
// can be dropped when idle.
type convLock struct {
	ch   chan struct{}
	refs int
}

// Queue admits one run per conversation and MaxConcurrentRuns overall.
// Admission takes the conversation lock first and a global slot second, so a
// long-running turn in one conversation can never starve the slot pool for
// others. Release returns them in reverse order.
type Queue struct {
	cfg    Config
	logger zerolog.Logger
	slots  chan struct{}

	mu      sync.Mutex
	locks   map[string]*convLock
	pending int
}

// New creates an admission queue.
func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	if cfg.MaxConcurrentRuns < 1 {
		cfg.MaxConcurrentRuns = 2
	}
	return &Queue{
		cfg:    cfg,
		logger: cfg.Logger,
		slots:  make(chan struct{}, cfg.MaxConcurrentRuns),
		locks:  make(map[string]*convLock),
	}
}

// Ticket is proof of admission. Release is idempotent and must be called
// exactly when the run finishes; deferring it right after Acquire is the
// intended shape.
type Ticket struct {
	ID             string
	ConversationID string
	WaitDuration   time.Duration

	queue *Queue
	lock  *convLock
	once  sync.Once
}

// Release frees the global slot, then the conversation lock. Calling it more
// than once is harmless.
func (t *Ticket) Release() {
	t.once.Do(func() {
		<-t.queue.slots
		<-t.lock.ch
		t.queue.dropRef(t.ConversationID)
		t.queue.logger.Debug().
			Str("ticket_id", t.ID).
			Str("conversation_id", t.ConversationID).
			Msg("Run slot released")
	})
}

// Acquire blocks until the conversation is free and a global slot opens, or
// the context is cancelled. On cancellation nothing stays held.
func (q *Queue) Acquire(ctx context.Context, conversationID string) (*Ticket, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"kantor.runqueue",
		"runqueue.acquire",
		attribute.String("conversation_id", conversationID),
	)
	defer span.End()

	key := conversationID
	if key == "" {
		key = anonymousKey
	}
	logger := tracing.LoggerFromContext(ctx, q.logger).With().
		Str("conversation_id", key).
		Logger()

	start := time.Now()
	lock := q.addRef(key)
	q.notePending(1)

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		q.dropRef(key)
		q.notePending(-1)
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())
		return nil, ctx.Err()
	}

	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		<-lock.ch
		q.dropRef(key)
		q.notePending(-1)
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())
		return nil, ctx.Err()
	}

	q.notePending(-1)
	wait := time.Since(start)
	observability.RecordQueueWait(wait)

	id, _ := gonanoid.New()
	ticket := &Ticket{
		ID:             id,
		ConversationID: key,
		WaitDuration:   wait,
		queue:          q,
		lock:           lock,
	}

	if q.cfg.WarnAfter > 0 && wait >= q.cfg.WarnAfter {
		logger.Warn().
			Str("ticket_id", id).
			Dur("wait", wait).
			Msg("Run waited in the admission queue")
	} else {
		logger.Debug().
			Str("ticket_id", id).
			Dur("wait", wait).
			Msg("Run admitted")
	}
	span.SetAttributes(attribute.Int64("wait_ms", wait.Milliseconds()))

	return ticket, nil
}

// ActiveRuns returns the number of runs currently holding a slot.
func (q *Queue) ActiveRuns() int {
	return len(q.slots)
}

// PendingRuns returns the number of runs still waiting for admission.
func (q *Queue) PendingRuns() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue) addRef(key string) *convLock {
	q.mu.Lock()
	defer q.mu.Unlock()

	lock, ok := q.locks[key]
	if !ok {
		lock = &convLock{ch: make(chan struct{}, 1)}
		q.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (q *Queue) dropRef(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lock, ok := q.locks[key]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs < 1 {
		delete(q.locks, key)
	}
}

func (q *Queue) notePending(delta int) {
	q.mu.Lock()
	q.pending += delta
	depth := q.pending
	q.mu.Unlock()
	observability.SetQueueDepth(depth)
}
