package lode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/pithecene-io/cliprdr/iox"
	"github.com/pithecene-io/cliprdr/metrics"
)

// ErrIncomplete is returned by Commit when bytes are still missing.
var ErrIncomplete = errors.New("transfer incomplete")

// ErrOverlap is returned when a chunk repeats or overruns bytes already placed.
var ErrOverlap = errors.New("chunk overlaps received data")

// Receiver stores files downloaded from the peer under a key prefix.
type Receiver struct {
	storage *Storage
	prefix  string
	metrics *metrics.Collector
}

// NewReceiver creates a receiver writing below prefix. A nil collector
// disables metrics.
func NewReceiver(storage *Storage, prefix string, m *metrics.Collector) *Receiver {
	return &Receiver{storage: storage, prefix: prefix, metrics: m}
}

// Storage returns the underlying storage.
func (r *Receiver) Storage() *Storage { return r.storage }

// Received describes a committed file.
type Received struct {
	Key      string
	Location string
	Size     uint64
}

// Incoming is one file being received. Chunks may arrive in any order; they
// are buffered until the bytes before them have been written. Incoming is not
// safe for concurrent use.
type Incoming struct {
	receiver *Receiver
	key      string
	size     uint64

	next    uint64
	pending map[uint64][]byte

	pw   *io.PipeWriter
	cw   *iox.CountingWriter
	done chan error
	open bool
}

// Begin starts receiving a file of the given size. The store Put runs until
// Commit or Abort.
func (r *Receiver) Begin(ctx context.Context, name string, size uint64) (*Incoming, error) {
	key, err := CleanKey(path.Join(r.prefix, name))
	if err != nil {
		return nil, NewStorageError(ErrPermissionDenied, "receive", name, err)
	}
	store, err := r.storage.Store()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	in := &Incoming{
		receiver: r,
		key:      key,
		size:     size,
		pending:  make(map[uint64][]byte),
		pw:       pw,
		cw:       &iox.CountingWriter{W: pw},
		done:     make(chan error, 1),
		open:     true,
	}
	go func() {
		err := store.Put(ctx, key, pr)
		// Unblock any writer if Put stopped reading early.
		_ = pr.CloseWithError(err)
		in.done <- err
	}()
	return in, nil
}

// Key returns the store key of the file.
func (in *Incoming) Key() string { return in.key }

// Size returns the expected file size.
func (in *Incoming) Size() uint64 { return in.size }

// Written returns the number of bytes passed to the store so far.
func (in *Incoming) Written() uint64 { return in.next }

// Buffered returns the number of chunks waiting for earlier bytes.
func (in *Incoming) Buffered() int { return len(in.pending) }

// WriteAt places one chunk at offset.
func (in *Incoming) WriteAt(offset uint64, data []byte) error {
	if !in.open {
		return fmt.Errorf("receive %s: %w", in.key, io.ErrClosedPipe)
	}
	end := offset + uint64(len(data))
	if end < offset || end > in.size {
		return fmt.Errorf("receive %s: chunk [%d,%d) beyond size %d: %w", in.key, offset, end, in.size, ErrOverlap)
	}
	if offset < in.next {
		return fmt.Errorf("receive %s: chunk at %d already written: %w", in.key, offset, ErrOverlap)
	}
	if _, dup := in.pending[offset]; dup {
		return fmt.Errorf("receive %s: chunk at %d already buffered: %w", in.key, offset, ErrOverlap)
	}
	if len(data) == 0 {
		return nil
	}

	if offset != in.next {
		in.pending[offset] = append([]byte(nil), data...)
		return nil
	}
	if err := in.write(data); err != nil {
		return err
	}
	for {
		chunk, ok := in.pending[in.next]
		if !ok {
			return nil
		}
		delete(in.pending, in.next)
		if err := in.write(chunk); err != nil {
			return err
		}
	}
}

func (in *Incoming) write(data []byte) error {
	before := in.cw.N
	_, err := in.cw.Write(data)
	in.receiver.metrics.AddBytesReceived(int(in.cw.N - before))
	in.next += uint64(in.cw.N - before)
	if err != nil {
		return wrapStorageError(opWrite, in.key, err)
	}
	return nil
}

// Commit finishes the file. Every byte up to Size must have been written.
func (in *Incoming) Commit() (Received, error) {
	if !in.open {
		return Received{}, fmt.Errorf("receive %s: %w", in.key, io.ErrClosedPipe)
	}
	if in.next != in.size || len(in.pending) > 0 {
		missing := fmt.Errorf("receive %s: %d of %d bytes written: %w", in.key, in.next, in.size, ErrIncomplete)
		_ = in.Abort(missing)
		return Received{}, missing
	}

	in.open = false
	_ = in.pw.Close()
	if err := <-in.done; err != nil {
		return Received{}, wrapStorageError(opWrite, in.key, err)
	}
	in.receiver.metrics.IncFileReceived()
	return Received{Key: in.key, Location: in.receiver.storage.Location(in.key), Size: in.size}, nil
}

// Abort cancels the transfer. The partial object may remain in the store,
// depending on the backend.
func (in *Incoming) Abort(cause error) error {
	if !in.open {
		return nil
	}
	in.open = false
	if cause == nil {
		cause = errors.New("transfer aborted")
	}
	_ = in.pw.CloseWithError(cause)
	in.pending = nil
	<-in.done
	return nil
}
