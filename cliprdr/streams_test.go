package cliprdr

import (
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/cliprdr/payload"
)

func TestStreamTable_AllocationWraps(t *testing.T) {
	tbl := newStreamTable()
	tbl.next = ^uint32(0)

	a, ok := tbl.reserve(Correlation{}, false)
	if !ok || a.StreamID != ^uint32(0) {
		t.Fatalf("reserve = %+v, %v", a, ok)
	}
	b, ok := tbl.reserve(Correlation{}, false)
	if !ok || b.StreamID != 1 {
		t.Fatalf("after wrap reserve = %+v, %v; want id 1 (zero skipped)", b, ok)
	}
}

func TestStreamTable_TakeOnce(t *testing.T) {
	tbl := newStreamTable()
	c, _ := tbl.reserve(Correlation{ListIndex: 7, Kind: payload.SizeRequest()}, false)

	got, ok := tbl.take(c.StreamID)
	if !ok || got.ListIndex != 7 {
		t.Fatalf("take = %+v, %v", got, ok)
	}
	if _, ok := tbl.take(c.StreamID); ok {
		t.Error("second take succeeded")
	}
}

func TestStreamTable_SnapshotOrdered(t *testing.T) {
	tbl := newStreamTable()
	for _, id := range []uint32{30, 10, 20} {
		tbl.reserve(Correlation{StreamID: id, IssuedAt: time.Unix(0, 0)}, true)
	}
	snap := tbl.snapshot()
	if len(snap) != 3 || snap[0].StreamID != 10 || snap[2].StreamID != 30 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStreamTable_ConcurrentReserveTake(t *testing.T) {
	tbl := newStreamTable()

	var wg sync.WaitGroup
	ids := make(chan uint32, 800)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c, ok := tbl.reserve(Correlation{}, false)
				if !ok {
					t.Error("reserve failed")
					return
				}
				ids <- c.StreamID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("stream id %d allocated twice", id)
		}
		seen[id] = true
		if _, ok := tbl.take(id); !ok {
			t.Fatalf("id %d missing from table", id)
		}
	}
	if tbl.len() != 0 {
		t.Errorf("len = %d after taking all", tbl.len())
	}
}
