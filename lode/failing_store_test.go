package lode

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/justapithecus/lode/lode"
)

// FailingStore is a lode.Store that returns configurable errors.
type FailingStore struct {
	PutErr       error
	GetErr       error
	ReadRangeErr error

	// Data is returned by Get and ReadRange when no error is configured.
	Data []byte

	PutCalls int
	PutPaths []string
}

func (s *FailingStore) Put(_ context.Context, path string, r io.Reader) error {
	s.PutCalls++
	s.PutPaths = append(s.PutPaths, path)
	if s.PutErr != nil {
		return s.PutErr
	}
	_, err := io.Copy(io.Discard, r)
	return err
}

func (s *FailingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

func (s *FailingStore) Exists(_ context.Context, _ string) (bool, error) {
	return s.GetErr == nil, nil
}

func (s *FailingStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (s *FailingStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (s *FailingStore) ReadRange(_ context.Context, _ string, offset, length int64) ([]byte, error) {
	if s.ReadRangeErr != nil {
		return nil, s.ReadRangeErr
	}
	return s.Data[offset : offset+length], nil
}

func (s *FailingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*FailingStore)(nil)

// FailingStoreFactory creates a factory that returns a FailingStore.
func FailingStoreFactory(store *FailingStore) lode.StoreFactory {
	return func() (lode.Store, error) {
		return store, nil
	}
}

// FailingFactoryFactory creates a factory that fails to create a store.
func FailingFactoryFactory(err error) lode.StoreFactory {
	return func() (lode.Store, error) {
		return nil, err
	}
}
