// Package memory provides an in-process clipboard backend.
package memory

import (
	"context"
	"sync"

	"github.com/pithecene-io/cliprdr/backend"
)

// Board is a clipboard held in memory. Set simulates a local copy.
type Board struct {
	mu      sync.Mutex
	content backend.Content
	changes chan struct{}
	closed  bool
}

var _ backend.Backend = (*Board)(nil)

// New returns an empty board.
func New() *Board {
	return &Board{changes: make(chan struct{}, 1)}
}

// Name returns "memory".
func (b *Board) Name() string { return "memory" }

// Set replaces the content as a local user would and signals a change.
// Setting identical content is not a change.
func (b *Board) Set(c backend.Content) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	if b.content.Equal(c) {
		return nil
	}
	b.content = c.Clone()
	backend.Notify(b.changes)
	return nil
}

// Read returns the current content.
func (b *Board) Read(ctx context.Context) (backend.Content, error) {
	if err := ctx.Err(); err != nil {
		return backend.Content{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.Content{}, backend.ErrClosed
	}
	return b.content.Clone(), nil
}

// Write stores peer content without signalling.
func (b *Board) Write(ctx context.Context, c backend.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	b.content = c.Clone()
	return nil
}

// Changes returns the change signal channel.
func (b *Board) Changes() <-chan struct{} { return b.changes }

// Close marks the board closed. It is idempotent.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
