package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/cliprdr/cliprdr"
	"github.com/pithecene-io/cliprdr/ipc"
	"github.com/pithecene-io/cliprdr/lode"
	"github.com/pithecene-io/cliprdr/payload"
	"github.com/pithecene-io/cliprdr/types"
)

// Transfer defaults.
const (
	DefaultChunkSize   uint64 = 64 * 1024
	DefaultMaxInflight        = 4
)

// TransferConfig tunes file downloads.
type TransferConfig struct {
	// ChunkSize is the cbRequested of each range request (default 64 KiB).
	ChunkSize uint64
	// MaxInflight bounds outstanding range requests per file (default 4).
	MaxInflight int
	// StreamTimeout expires unanswered requests. Zero disables expiry.
	StreamTimeout time.Duration
	// AutoDownload fetches every file list the peer announces.
	AutoDownload bool
}

func (c TransferConfig) withDefaults() TransferConfig {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = DefaultMaxInflight
	}
	return c
}

// Validate checks the transfer settings.
func (c TransferConfig) Validate() error {
	if c.ChunkSize > ipc.MaxChunkSize {
		return fmt.Errorf("chunk size %d exceeds %d", c.ChunkSize, ipc.MaxChunkSize)
	}
	if c.StreamTimeout < 0 {
		return fmt.Errorf("stream timeout must be >= 0, got %s", c.StreamTimeout)
	}
	return nil
}

var (
	errShortRead  = errors.New("peer returned fewer bytes than requested")
	errSuperseded = errors.New("superseded by a new file list")
)

// download is one file being fetched from the peer: a size query followed
// by pipelined range requests. Each request uses its own stream id.
type download struct {
	index    uint32
	name     string
	size     uint64
	sized    bool
	incoming *lode.Incoming

	// requested is the offset of the next range to request.
	requested uint64
	inflight  map[uint32]struct{}
	chunks    int
	started   time.Time
}

func newDownload(index uint32, fd payload.FileDescriptor, now time.Time) *download {
	return &download{
		index:    index,
		name:     fd.Name,
		size:     fd.Size,
		inflight: make(map[uint32]struct{}),
		started:  now,
	}
}

func (d *download) done() bool {
	return d.sized && d.incoming != nil && d.incoming.Written() == d.size && len(d.inflight) == 0
}

// transfers schedules downloads of the current remote file list, one file at
// a time in list order. It is owned by the session loop.
type transfers struct {
	cfg      TransferConfig
	client   *cliprdr.ClientContext
	receiver *lode.Receiver

	queue   []*download
	active  *download
	streams map[uint32]*download

	// received collects locations committed for the current list.
	received []string
}

func newTransfers(cfg TransferConfig, client *cliprdr.ClientContext, receiver *lode.Receiver) *transfers {
	return &transfers{
		cfg:      cfg,
		client:   client,
		receiver: receiver,
		streams:  make(map[uint32]*download),
	}
}

// enqueue replaces all work, the active file included, with the files of a
// new list. It returns the downloads that were cut short.
func (t *transfers) enqueue(files payload.FileDescriptors, now time.Time) []*download {
	cut := t.reset(errSuperseded)
	for i, fd := range files {
		t.queue = append(t.queue, newDownload(uint32(i), fd, now))
	}
	return cut
}

// busy reports whether any file is queued or in progress.
func (t *transfers) busy() bool {
	return t.active != nil || len(t.queue) > 0
}

// owner returns the download that issued streamID.
func (t *transfers) owner(streamID uint32) (*download, bool) {
	d, ok := t.streams[streamID]
	return d, ok
}

// next activates the next queued file and returns its size query.
func (t *transfers) next() (*download, *types.FileContentsRequest, error) {
	if t.active != nil || len(t.queue) == 0 {
		return nil, nil, nil
	}
	d := t.queue[0]
	t.queue = t.queue[1:]
	t.active = d

	req, err := t.client.RequestFileContents(cliprdr.StreamRequest{
		ListIndex: d.index,
		Kind:      payload.SizeRequest(),
	})
	if err != nil {
		return d, nil, err
	}
	d.inflight[req.StreamID] = struct{}{}
	t.streams[req.StreamID] = d
	return d, req, nil
}

// pump issues range requests for the active file until MaxInflight are
// outstanding or every byte has been requested.
func (t *transfers) pump() ([]*types.FileContentsRequest, error) {
	d := t.active
	if d == nil || !d.sized {
		return nil, nil
	}
	var out []*types.FileContentsRequest
	for len(d.inflight) < t.cfg.MaxInflight && d.requested < d.size {
		n := min(t.cfg.ChunkSize, d.size-d.requested)
		req, err := t.client.RequestFileContents(cliprdr.StreamRequest{
			ListIndex: d.index,
			Kind:      payload.RangeRequest(d.requested, n),
		})
		if err != nil {
			return out, err
		}
		d.inflight[req.StreamID] = struct{}{}
		t.streams[req.StreamID] = d
		d.requested += n
		d.chunks++
		out = append(out, req)
	}
	return out, nil
}

// apply records a resolved response for d. It starts the receive on the
// size answer and places range data.
func (t *transfers) apply(ctx context.Context, d *download, res *cliprdr.Resolution) error {
	id := res.Correlation.StreamID
	delete(d.inflight, id)
	delete(t.streams, id)

	body := res.Response.Payload
	if body == nil {
		return fmt.Errorf("peer refused stream %d", id)
	}
	switch body.Kind {
	case payload.KindSize:
		d.size = body.Size
		d.sized = true
		in, err := t.receiver.Begin(ctx, d.name, d.size)
		if err != nil {
			return err
		}
		d.incoming = in
		return nil
	case payload.KindRange:
		if d.incoming == nil {
			return fmt.Errorf("range data on stream %d before size", id)
		}
		want := res.Correlation.Kind.Size
		if uint64(len(body.Contents)) < want {
			return fmt.Errorf("stream %d: %d of %d bytes: %w", id, len(body.Contents), want, errShortRead)
		}
		return d.incoming.WriteAt(res.Correlation.Kind.Offset, body.Contents)
	default:
		return fmt.Errorf("stream %d: unknown payload kind %v", id, body.Kind)
	}
}

// commit finishes the active file.
func (t *transfers) commit() (lode.Received, error) {
	d := t.active
	t.active = nil
	got, err := d.incoming.Commit()
	if err != nil {
		return lode.Received{}, err
	}
	t.received = append(t.received, got.Location)
	return got, nil
}

// fail aborts d and abandons its outstanding streams.
func (t *transfers) fail(d *download, cause error) {
	for id := range d.inflight {
		t.client.AbandonStream(id)
		delete(t.streams, id)
	}
	clear(d.inflight)
	if d.incoming != nil {
		_ = d.incoming.Abort(cause)
	}
	if t.active == d {
		t.active = nil
	}
}

// forget drops bookkeeping for streams cleared by expiry.
func (t *transfers) forget(streamID uint32) (*download, bool) {
	d, ok := t.streams[streamID]
	if !ok {
		return nil, false
	}
	delete(t.streams, streamID)
	delete(d.inflight, streamID)
	return d, true
}

// reset aborts everything, returning the downloads that were cut short.
func (t *transfers) reset(cause error) []*download {
	var cut []*download
	if t.active != nil {
		cut = append(cut, t.active)
		t.fail(t.active, cause)
	}
	t.queue = t.queue[:0]
	t.received = nil
	return cut
}
