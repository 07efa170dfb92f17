package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/astromechza/collab-ot/pkg/ot"
	"github.com/astromechza/collab-ot/pkg/store"
)

var (
	ErrNoSession = errors.New("no live session for file")
	ErrClosed    = errors.New("registry is closed")
)

const (
	DefaultHistoryCapacity = 500
	DefaultMaxPending      = 256
	defaultWriteTimeout    = 30 * time.Second
)

type Status int

const (
	StatusApplied Status = iota
	StatusQueued
	StatusResync
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusQueued:
		return "queued"
	case StatusResync:
		return "resync"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result answers a submission. Version is the document version after the
// submission was handled.
type Result struct {
	Status  Status
	Version int
}

type Snapshot struct {
	FileID  int64
	Version int
	Content string
}

// History is a copy of a session's retained operations. Replaying Entries
// over BaseContent yields Content.
type History struct {
	FileID      int64
	BaseVersion int
	BaseContent string
	Version     int
	Content     string
	Entries     []Entry
}

// Applied describes a committed operation.
type Applied struct {
	FileID     int64
	Version    int
	Components ot.Operation
	ClientID   any
	ConnID     string
}

// Notifier delivers session events. Methods are called with the document
// lock held, which orders them with respect to commits, so they must not
// block and must not call back into the registry.
type Notifier interface {
	Joined(connID string, snap Snapshot)
	Applied(a Applied)
	Resync(fileID int64, connID string, version int)
}

type Option func(r *Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithHistoryCapacity(n int) Option {
	return func(r *Registry) { r.historyCapacity = n }
}

func WithMaxPending(n int) Option {
	return func(r *Registry) { r.maxPending = n }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(r *Registry) { r.writeTimeout = d }
}

// WithPersistErrorHook is called from the writer goroutine after a failed
// write, in addition to logging.
func WithPersistErrorHook(fn func(fileID int64, err error)) Option {
	return func(r *Registry) { r.onPersistError = fn }
}

// Registry owns the live document sessions of one server.
type Registry struct {
	store           store.Store
	notifier        Notifier
	logger          *slog.Logger
	metrics         *Metrics
	historyCapacity int
	maxPending      int
	writeTimeout    time.Duration
	onPersistError  func(fileID int64, err error)

	mu       sync.Mutex
	sessions map[int64]*document
	closed   bool

	writersMu     sync.Mutex
	writers       map[int64]*writer
	writersClosed bool
	wg            sync.WaitGroup
}

func New(s store.Store, notifier Notifier, opts ...Option) *Registry {
	r := &Registry{
		store:           s,
		notifier:        notifier,
		logger:          slog.Default(),
		historyCapacity: DefaultHistoryCapacity,
		maxPending:      DefaultMaxPending,
		writeTimeout:    defaultWriteTimeout,
		sessions:        make(map[int64]*document),
		writers:         make(map[int64]*writer),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if r.historyCapacity < 1 {
		r.historyCapacity = 1
	}
	return r
}

// ensure returns the loaded session for fileID, loading it from the store if
// there is none. Concurrent callers share a single load.
func (r *Registry) ensure(ctx context.Context, fileID int64) (*document, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	d, ok := r.sessions[fileID]
	if ok && d.destroyed.Load() {
		delete(r.sessions, fileID)
		ok = false
	}
	if !ok {
		d = newDocument(fileID)
		r.sessions[fileID] = d
		r.mu.Unlock()

		r.awaitWrites(fileID)
		content, err := r.store.Load(ctx, fileID)
		d.finishLoad(content, err)
		if err != nil {
			r.mu.Lock()
			if r.sessions[fileID] == d {
				delete(r.sessions, fileID)
			}
			r.mu.Unlock()
			return nil, fmt.Errorf("failed to load file %d: %w", fileID, err)
		}
		r.metrics.Sessions.Inc()
		r.logger.Info("session loaded", "file", fileID, "size", len(content))
		return d, nil
	}
	r.mu.Unlock()

	select {
	case <-d.loaded:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if d.loadErr != nil {
		return nil, fmt.Errorf("failed to load file %d: %w", fileID, d.loadErr)
	}
	return d, nil
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// lookup returns the loaded session for fileID without creating one.
func (r *Registry) lookup(fileID int64) (*document, bool) {
	r.mu.Lock()
	d, ok := r.sessions[fileID]
	r.mu.Unlock()
	if !ok || !d.isLoaded() || d.loadErr != nil || d.destroyed.Load() {
		return nil, false
	}
	return d, true
}

// Join attaches connID to the session of fileID and returns its snapshot.
func (r *Registry) Join(ctx context.Context, fileID int64, connID string) (Snapshot, error) {
	for {
		d, err := r.ensure(ctx, fileID)
		if err != nil {
			return Snapshot{}, err
		}
		d.mu.Lock()
		if d.destroyed.Load() {
			// lost a race with the last Leave, load again
			d.mu.Unlock()
			continue
		}
		if d.clients.Add(connID) {
			r.metrics.Clients.Inc()
		}
		snap := d.snapshot()
		r.notifier.Joined(connID, snap)
		d.mu.Unlock()
		r.logger.Debug("joined", "file", fileID, "conn", connID, "version", snap.Version)
		return snap, nil
	}
}

// Leave detaches connID. The session is destroyed once its last connection
// leaves.
func (r *Registry) Leave(fileID int64, connID string) {
	d, ok := r.lookup(fileID)
	if !ok {
		return
	}
	d.mu.Lock()
	if d.destroyed.Load() || !d.clients.Contains(connID) {
		d.mu.Unlock()
		return
	}
	d.clients.Remove(connID)
	r.metrics.Clients.Dec()
	empty := d.clients.Cardinality() == 0
	if empty {
		d.destroyed.Store(true)
	}
	version := d.version
	d.mu.Unlock()
	r.logger.Debug("left", "file", fileID, "conn", connID)
	if !empty {
		return
	}

	r.mu.Lock()
	if r.sessions[fileID] == d {
		delete(r.sessions, fileID)
	}
	r.mu.Unlock()
	r.metrics.Sessions.Dec()
	r.releaseWriter(fileID)
	r.logger.Info("session destroyed", "file", fileID, "version", version)
}

// Submit reconciles an operation generated against baseVersion with the
// session and commits it, queues it for a version not yet reached, or asks
// the caller to resync.
func (r *Registry) Submit(ctx context.Context, fileID int64, connID string, baseVersion int, components ot.Operation, clientID any) (Result, error) {
	if r.isClosed() {
		return Result{}, ErrClosed
	}
	d, ok := r.lookup(fileID)
	if !ok {
		return Result{}, fmt.Errorf("file %d: %w", fileID, ErrNoSession)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed.Load() {
		return Result{}, fmt.Errorf("file %d: %w", fileID, ErrNoSession)
	}

	p := pendingOp{connID: connID, op: ot.Normalize(components), clientID: clientID}
	if baseVersion > d.version {
		if d.pendingCount >= r.maxPending {
			r.metrics.Resyncs.WithLabelValues(ResyncPendingFull).Inc()
			r.logger.Warn("pending queue full", "file", fileID, "conn", connID, "base", baseVersion, "version", d.version)
			return Result{Status: StatusResync, Version: d.version}, nil
		}
		d.pending[baseVersion] = append(d.pending[baseVersion], p)
		d.pendingCount++
		r.metrics.Queued.Inc()
		r.logger.Debug("queued", "file", fileID, "conn", connID, "base", baseVersion, "version", d.version)
		return Result{Status: StatusQueued, Version: d.version}, nil
	}

	res := r.commitLocked(d, p, baseVersion)
	if res.Status == StatusApplied {
		r.drainLocked(d)
	}
	return res, nil
}

// commitLocked catches p up from baseVersion to the current version and
// applies it. The session is left untouched unless the result is applied.
func (r *Registry) commitLocked(d *document, p pendingOp, baseVersion int) Result {
	if baseVersion < d.baseVersion {
		r.metrics.Resyncs.WithLabelValues(ResyncStale).Inc()
		r.logger.Info("stale submission", "file", d.id, "conn", p.connID, "base", baseVersion, "floor", d.baseVersion)
		return Result{Status: StatusResync, Version: d.version}
	}

	op := p.op
	for _, e := range d.history[baseVersion-d.baseVersion:] {
		op = ot.Transform(op, e.Op, ot.Left)
	}
	content, err := ot.Apply(d.content, op)
	if err != nil {
		r.metrics.Resyncs.WithLabelValues(ResyncApply).Inc()
		r.logger.Warn("rejected operation", "file", d.id, "conn", p.connID, "base", baseVersion, "op", op.String(), "err", err)
		return Result{Status: StatusResync, Version: d.version}
	}

	d.history = append(d.history, Entry{Version: d.version, Op: op})
	d.content = content
	d.version++
	if err := d.trim(r.historyCapacity); err != nil {
		r.logger.Error("failed to trim history", "file", d.id, "err", err)
	}
	r.metrics.Commits.Inc()

	r.schedule(d.id, content)
	r.notifier.Applied(Applied{
		FileID:     d.id,
		Version:    d.version,
		Components: op,
		ClientID:   p.clientID,
		ConnID:     p.connID,
	})
	return Result{Status: StatusApplied, Version: d.version}
}

// drainLocked retries queued operations whose base version has been
// reached. Every pass removes at least one queued operation and nothing is
// queued while the lock is held, so the loop ends.
func (r *Registry) drainLocked(d *document) {
	for d.pendingCount > 0 {
		var ready []int
		for v := range d.pending {
			if v <= d.version {
				ready = append(ready, v)
			}
		}
		if len(ready) == 0 {
			return
		}
		slices.Sort(ready)
		for _, v := range ready {
			queue := d.pending[v]
			delete(d.pending, v)
			d.pendingCount -= len(queue)
			for _, p := range queue {
				if res := r.commitLocked(d, p, v); res.Status == StatusResync {
					r.notifier.Resync(d.id, p.connID, res.Version)
				}
			}
		}
	}
}

// Snapshot returns the live state of fileID, if it has a session.
func (r *Registry) Snapshot(fileID int64) (Snapshot, bool) {
	d, ok := r.lookup(fileID)
	if !ok {
		return Snapshot{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot(), true
}

func (r *Registry) History(fileID int64) (History, bool) {
	d, ok := r.lookup(fileID)
	if !ok {
		return History{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return History{
		FileID:      d.id,
		BaseVersion: d.baseVersion,
		BaseContent: d.baseContent,
		Version:     d.version,
		Content:     d.content,
		Entries:     slices.Clone(d.history),
	}, true
}

// FileIDs lists files with a live session.
func (r *Registry) FileIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.sessions))
	for id, d := range r.sessions {
		if d.isLoaded() && d.loadErr == nil && !d.destroyed.Load() {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
