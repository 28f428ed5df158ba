package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-captions/internal/capitalize"
	"github.com/loqalabs/loqa-captions/internal/stt"
)

const writeTimeout = 5 * time.Second

// Recorder queues committed utterances and silence markers and writes them
// to the store on its own goroutine, so callers never wait on disk.
type Recorder struct {
	store     *Store
	log       *slog.Logger
	sessionID string
	render    *capitalize.Capitalizer

	mu      sync.RWMutex
	closed  bool
	queue   chan Entry
	done    chan struct{}
	dropped atomic.Uint64
}

// NewRecorder begins a history session and starts the writer. An empty
// sessionID gets a random one.
func NewRecorder(ctx context.Context, store *Store, sessionID string, queueSize int, log *slog.Logger) (*Recorder, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if err := store.BeginSession(ctx, sessionID); err != nil {
		return nil, err
	}
	r := &Recorder{
		store:     store,
		log:       log.With(slog.String("component", "history"), slog.String("session_id", sessionID)),
		sessionID: sessionID,
		render:    capitalize.New(""),
		queue:     make(chan Entry, queueSize),
		done:      make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// SessionID returns the history session being written.
func (r *Recorder) SessionID() string { return r.sessionID }

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// CommitTokens records a finalized utterance.
func (r *Recorder) CommitTokens(tokens []stt.Token) {
	if len(tokens) == 0 {
		return
	}
	tokens = stt.CopyTokens(tokens)
	text := capitalize.Join(r.render.Render(tokens, nil, false))
	r.enqueue(Entry{Kind: EntryTokens, Text: text, Tokens: tokens})
}

// CommitSilenceMarker records the end of an utterance.
func (r *Recorder) CommitSilenceMarker() {
	r.enqueue(Entry{Kind: EntrySilence})
}

func (r *Recorder) enqueue(e Entry) {
	e.SessionID = r.sessionID
	e.CreatedAt = r.store.clock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		if r.dropped.Add(1) == 1 {
			r.log.Warn("history queue full, dropping entries")
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.AppendEntry(ctx, e); err != nil {
			r.log.Warn("failed to write history entry", slog.String("kind", string(e.Kind)), slog.String("error", err.Error()))
		}
		cancel()
	}
}

// Close flushes queued entries and ends the session.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.store.EndSession(ctx, r.sessionID)
}
