// Package backend defines the local clipboard a session mirrors.
//
// A Backend holds at most one text value and one file list. Changes made by
// the local user are signalled on Changes; content written by the session on
// behalf of the peer is not, so a received clipboard is never announced back.
package backend

import (
	"context"
	"errors"
	"slices"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("backend closed")

// Content is a clipboard snapshot.
type Content struct {
	Text    string
	HasText bool
	// Files holds locations of files offered for copy, in list order.
	Files []string
}

// TextContent returns a snapshot holding only text.
func TextContent(s string) Content {
	return Content{Text: s, HasText: true}
}

// FileContent returns a snapshot holding only a file list.
func FileContent(files ...string) Content {
	return Content{Files: slices.Clone(files)}
}

// Empty reports whether the snapshot offers nothing.
func (c Content) Empty() bool {
	return !c.HasText && len(c.Files) == 0
}

// Equal reports whether two snapshots offer the same data.
func (c Content) Equal(o Content) bool {
	return c.HasText == o.HasText && c.Text == o.Text && slices.Equal(c.Files, o.Files)
}

// Clone returns a deep copy.
func (c Content) Clone() Content {
	c.Files = slices.Clone(c.Files)
	return c
}

// Backend is the local clipboard.
type Backend interface {
	// Name identifies the implementation in logs and metrics.
	Name() string
	// Read returns the current snapshot.
	Read(ctx context.Context) (Content, error)
	// Write replaces the snapshot with content received from the peer.
	// It does not signal Changes.
	Write(ctx context.Context, c Content) error
	// Changes signals local modifications. Signals coalesce: one receive
	// may stand for several changes, so callers should Read after each.
	Changes() <-chan struct{}
	Close() error
}

// Notify performs a non-blocking send on a coalescing signal channel.
func Notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
