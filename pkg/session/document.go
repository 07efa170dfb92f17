package session

import (
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/astromechza/collab-ot/pkg/ot"
)

// Entry is one committed operation. Version is the document version the
// operation was applied to.
type Entry struct {
	Version int
	Op      ot.Operation
}

type pendingOp struct {
	connID   string
	op       ot.Operation
	clientID any
}

// document is the live state of one open file. Everything below mu is
// guarded by it.
type document struct {
	id int64

	loaded  chan struct{}
	loadErr error

	destroyed atomic.Bool

	mu           sync.Mutex
	content      string
	baseContent  string
	version      int
	baseVersion  int
	history      []Entry
	clients      mapset.Set[string]
	pending      map[int][]pendingOp
	pendingCount int
}

func newDocument(id int64) *document {
	return &document{
		id:      id,
		loaded:  make(chan struct{}),
		clients: mapset.NewThreadUnsafeSet[string](),
		pending: make(map[int][]pendingOp),
	}
}

func (d *document) finishLoad(content string, err error) {
	d.content = content
	d.baseContent = content
	d.loadErr = err
	close(d.loaded)
}

func (d *document) isLoaded() bool {
	select {
	case <-d.loaded:
		return true
	default:
		return false
	}
}

// trim drops history entries beyond capacity, folding them into baseContent.
func (d *document) trim(capacity int) error {
	n := len(d.history) - capacity
	if n <= 0 {
		return nil
	}
	base := d.baseContent
	for _, e := range d.history[:n] {
		var err error
		if base, err = ot.Apply(base, e.Op); err != nil {
			return err
		}
	}
	d.baseContent = base
	copy(d.history, d.history[n:])
	clear(d.history[len(d.history)-n:])
	d.history = d.history[:len(d.history)-n]
	d.baseVersion += n
	return nil
}

func (d *document) snapshot() Snapshot {
	return Snapshot{FileID: d.id, Version: d.version, Content: d.content}
}
