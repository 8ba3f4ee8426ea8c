package lode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/pithecene-io/cliprdr/iox"
	"github.com/pithecene-io/cliprdr/payload"
)

type sharedFile struct {
	key  string
	size uint64
}

// Share is the file list most recently offered to the peer. List indexes in
// file contents requests refer to positions in this list.
type Share struct {
	storage *Storage

	mu    sync.RWMutex
	files []sharedFile
}

// NewShare creates an empty share over storage.
func NewShare(storage *Storage) *Share {
	return &Share{storage: storage}
}

// Storage returns the underlying storage.
func (s *Share) Storage() *Storage { return s.storage }

// Offer replaces the shared list with locations, measuring each file.
// Locations that cannot be resolved or read are left out; their errors are
// joined into the returned error. Descriptor names are store keys.
func (s *Share) Offer(ctx context.Context, locations []string) (payload.FileDescriptors, error) {
	store, err := s.storage.Store()
	if err != nil {
		return nil, err
	}

	var (
		files []sharedFile
		errs  []error
	)
	for _, loc := range locations {
		key, err := s.storage.Key(loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rc, err := store.Get(ctx, key)
		if err != nil {
			errs = append(errs, wrapStorageError(opRead, key, err))
			continue
		}
		cw := &iox.CountingWriter{W: io.Discard}
		_, err = io.Copy(cw, rc)
		iox.DiscardClose(rc)
		if err != nil {
			errs = append(errs, wrapStorageError(opRead, key, err))
			continue
		}
		files = append(files, sharedFile{key: key, size: uint64(cw.N)})
	}

	s.mu.Lock()
	s.files = files
	s.mu.Unlock()

	return descriptors(files), errors.Join(errs...)
}

// Clear drops the shared list.
func (s *Share) Clear() {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
}

// Len returns the number of shared files.
func (s *Share) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Descriptors returns the shared list as file descriptors.
func (s *Share) Descriptors() payload.FileDescriptors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return descriptors(s.files)
}

// Size returns the size of the file at index.
func (s *Share) Size(index uint32) (uint64, error) {
	f, err := s.file(index)
	if err != nil {
		return 0, err
	}
	return f.size, nil
}

// ReadRange reads up to size bytes at offset from the file at index. Reads
// past the end are clamped; an offset at or beyond the end yields no bytes.
func (s *Share) ReadRange(ctx context.Context, index uint32, offset, size uint64) ([]byte, error) {
	f, err := s.file(index)
	if err != nil {
		return nil, err
	}
	if offset >= f.size || size == 0 {
		return []byte{}, nil
	}
	n := min(size, f.size-offset)
	if offset > math.MaxInt64 || n > math.MaxInt64 {
		return nil, NewStorageError(ErrOutOfRange, "read", f.key, fmt.Errorf("offset %d exceeds store range", offset))
	}

	store, err := s.storage.Store()
	if err != nil {
		return nil, err
	}
	data, err := store.ReadRange(ctx, f.key, int64(offset), int64(n))
	if err != nil {
		return nil, wrapStorageError(opRead, f.key, err)
	}
	return data, nil
}

// Serve answers a decoded file contents request from the shared list.
func (s *Share) Serve(ctx context.Context, req payload.FileContentsRequest) (*payload.FileContentsPayload, error) {
	switch req.Kind.Kind {
	case payload.KindSize:
		size, err := s.Size(req.ListIndex)
		if err != nil {
			return nil, err
		}
		return payload.SizePayload(size), nil
	case payload.KindRange:
		data, err := s.ReadRange(ctx, req.ListIndex, req.Kind.Offset, req.Kind.Size)
		if err != nil {
			return nil, err
		}
		return payload.ContentsPayload(data), nil
	default:
		return nil, fmt.Errorf("unknown request kind %v", req.Kind.Kind)
	}
}

func (s *Share) file(index uint32) (sharedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(index) >= len(s.files) {
		return sharedFile{}, NewStorageError(ErrOutOfRange, "lookup", fmt.Sprintf("#%d", index),
			fmt.Errorf("list index %d of %d shared files", index, len(s.files)))
	}
	return s.files[index], nil
}

func descriptors(files []sharedFile) payload.FileDescriptors {
	out := make(payload.FileDescriptors, len(files))
	for i, f := range files {
		out[i] = payload.FileDescriptor{Name: f.key, Size: f.size}
	}
	return out
}
