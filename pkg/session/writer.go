package session

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// writer persists one document. pending is a single slot: scheduling replaces
// a write that has not started yet, and at most one write is in flight.
type writer struct {
	fileID  int64
	mu      sync.Mutex
	cond    *sync.Cond
	pending *string
	running bool
}

func newWriter(fileID int64) *writer {
	w := &writer{fileID: fileID}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// schedule queues content for writing. Nothing is scheduled once Close has
// started waiting, so every accepted write is flushed by Close.
func (r *Registry) schedule(fileID int64, content string) {
	r.writersMu.Lock()
	if r.writersClosed {
		r.writersMu.Unlock()
		r.logger.Error("dropped write after close", "file", fileID, "size", len(content))
		return
	}
	w, ok := r.writers[fileID]
	if !ok {
		w = newWriter(fileID)
		r.writers[fileID] = w
	}
	w.mu.Lock()
	w.pending = &content
	start := !w.running
	if start {
		w.running = true
		r.wg.Add(1)
	}
	w.mu.Unlock()
	r.writersMu.Unlock()
	if start {
		go r.runWriter(w)
	}
}

func (r *Registry) runWriter(w *writer) {
	defer r.wg.Done()
	for {
		w.mu.Lock()
		if w.pending == nil {
			w.running = false
			w.cond.Broadcast()
			w.mu.Unlock()
			r.releaseWriter(w.fileID)
			return
		}
		content := *w.pending
		w.pending = nil
		w.mu.Unlock()
		r.persist(w.fileID, content)
	}
}

func (r *Registry) persist(fileID int64, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	timer := prometheus.NewTimer(r.metrics.PersistDuration)
	err := r.store.Save(ctx, fileID, content)
	timer.ObserveDuration()
	if err != nil {
		r.metrics.PersistFailures.Inc()
		r.logger.Warn("failed to persist file", "file", fileID, "err", err)
		if r.onPersistError != nil {
			r.onPersistError(fileID, err)
		}
		return
	}
	r.logger.Debug("persisted file", "file", fileID, "size", len(content))
}

// awaitWrites blocks until no write for fileID is pending or in flight.
func (r *Registry) awaitWrites(fileID int64) {
	r.writersMu.Lock()
	w, ok := r.writers[fileID]
	r.writersMu.Unlock()
	if !ok {
		return
	}
	w.mu.Lock()
	for w.running {
		w.cond.Wait()
	}
	w.mu.Unlock()
}

// releaseWriter forgets an idle writer once its document has no live session.
func (r *Registry) releaseWriter(fileID int64) {
	r.mu.Lock()
	_, live := r.sessions[fileID]
	r.mu.Unlock()
	if live {
		return
	}
	r.writersMu.Lock()
	defer r.writersMu.Unlock()
	if w, ok := r.writers[fileID]; ok {
		w.mu.Lock()
		if !w.running && w.pending == nil {
			delete(r.writers, fileID)
		}
		w.mu.Unlock()
	}
}

// Close waits for outstanding writes to finish.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.writersMu.Lock()
	r.writersClosed = true
	r.writersMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("flushed pending writes")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
