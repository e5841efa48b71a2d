package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WriteBehind forwards committed changes to one or more journals from a
// single goroutine. Journals see changes in the order they were queued;
// record versions let them drop writes that arrive late.
type WriteBehind struct {
	journals []Journal
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Change
	done   chan struct{}
}

func NewWriteBehind(logger zerolog.Logger, buffer int, timeout time.Duration, journals ...Journal) *WriteBehind {
	if buffer < 1 {
		buffer = 1
	}
	w := &WriteBehind{
		journals: journals,
		timeout:  timeout,
		logger:   logger,
		queue:    make(chan Change, buffer),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Committed queues c. It blocks while the queue is full and drops c after Close.
func (w *WriteBehind) Committed(c Change) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn().Int("books", len(c.Books)).Int("accounts", len(c.Accounts)).Msg("write-behind closed, change dropped")
		return
	}
	w.queue <- c
}

// Close stops accepting changes and waits until queued ones are written or ctx ends.
func (w *WriteBehind) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WriteBehind) run() {
	defer close(w.done)
	for c := range w.queue {
		for _, j := range w.journals {
			w.write(j, c)
		}
	}
}

func (w *WriteBehind) write(j Journal, c Change) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if cj, ok := j.(ChangeJournal); ok {
		if err := cj.SaveChange(ctx, c); err != nil {
			w.logger.Error().Err(err).
				Int("books", len(c.Books)).
				Int("accounts", len(c.Accounts)).
				Int("transactions", len(c.Transactions)).
				Msg("persist change")
		}
		return
	}

	for _, a := range c.Accounts {
		if err := j.SaveAccount(ctx, a); err != nil {
			w.logger.Error().Err(err).Str("username", a.Username).Int64("version", a.Version).Msg("persist account")
		}
	}
	for _, b := range c.Books {
		if err := j.SaveBook(ctx, b); err != nil {
			w.logger.Error().Err(err).Str("title", b.Title).Int64("version", b.Version).Msg("persist book")
		}
	}
	for _, tx := range c.Transactions {
		if err := j.AppendTransaction(ctx, tx); err != nil {
			w.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("persist transaction")
		}
	}
}
