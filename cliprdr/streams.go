package cliprdr

import (
	"sort"
	"sync"
	"time"

	"github.com/pithecene-io/cliprdr/payload"
)

// Correlation is one outstanding file contents request. At most one
// correlation exists per stream id.
type Correlation struct {
	StreamID  uint32
	ListIndex uint32
	Kind      payload.FileContentsKind
	IssuedAt  time.Time
}

// streamTable is the correlation table: insert on request, remove on
// response, abandonment or expiry. All mutations happen under mu.
type streamTable struct {
	mu      sync.Mutex
	pending map[uint32]Correlation
	next    uint32
}

func newStreamTable() *streamTable {
	return &streamTable{
		pending: make(map[uint32]Correlation),
		next:    1,
	}
}

// reserve records c. When explicit is false a stream id is allocated
// sequentially, skipping zero and ids still outstanding. Returns false when
// an explicit id is already outstanding or the id space is exhausted.
func (t *streamTable) reserve(c Correlation, explicit bool) (Correlation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if explicit {
		if _, busy := t.pending[c.StreamID]; busy {
			return Correlation{}, false
		}
		t.pending[c.StreamID] = c
		return c, true
	}

	if uint64(len(t.pending)) >= 1<<32-1 {
		return Correlation{}, false
	}
	for {
		id := t.next
		t.next++
		if t.next == 0 {
			t.next = 1
		}
		if id == 0 {
			continue
		}
		if _, busy := t.pending[id]; busy {
			continue
		}
		c.StreamID = id
		t.pending[id] = c
		return c, true
	}
}

func (t *streamTable) take(id uint32) (Correlation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return c, ok
}

func (t *streamTable) get(id uint32) (Correlation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[id]
	return c, ok
}

// expire removes and returns every correlation issued before deadline,
// ordered by stream id.
func (t *streamTable) expire(deadline time.Time) []Correlation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Correlation
	for id, c := range t.pending {
		if c.IssuedAt.Before(deadline) {
			out = append(out, c)
			delete(t.pending, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// drain removes and returns every correlation, ordered by stream id.
func (t *streamTable) drain() []Correlation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Correlation, 0, len(t.pending))
	for _, c := range t.pending {
		out = append(out, c)
	}
	clear(t.pending)
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

func (t *streamTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *streamTable) snapshot() []Correlation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Correlation, 0, len(t.pending))
	for _, c := range t.pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}
