// Package adapter defines the boundary for publishing clipboard events to
// downstream systems.
//
// Sessions publish local notifications and completed or failed file transfers.
// The session owns notifier lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/cliprdr/types"
)

// Event types.
const (
	EventNotification      = "notification"
	EventTransferCompleted = "transfer_completed"
	EventTransferFailed    = "transfer_failed"
)

// FileInfo describes the file of a transfer event.
type FileInfo struct {
	Name     string `json:"name"`
	Key      string `json:"key,omitempty"`
	Location string `json:"location,omitempty"`
	Size     uint64 `json:"size"`
}

// Event is the JSON payload published downstream.
type Event struct {
	ProtocolVersion int    `json:"protocol_version"`
	EventType       string `json:"event_type"`
	SessionID       string `json:"session_id"`
	Role            string `json:"role"`
	Peer            string `json:"peer,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339

	// Notification fields.
	Kind  string `json:"kind,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`

	// Transfer fields.
	File       *FileInfo `json:"file,omitempty"`
	Chunks     int       `json:"chunks,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewEvent returns an event stamped with session metadata and the time.
func NewEvent(eventType string, meta *types.SessionMeta, now time.Time) *Event {
	e := &Event{
		ProtocolVersion: types.ProtocolVersion,
		EventType:       eventType,
		Timestamp:       now.UTC().Format(time.RFC3339),
	}
	if meta != nil {
		e.SessionID = meta.SessionID
		e.Role = string(meta.Role)
		if meta.Peer != nil {
			e.Peer = *meta.Peer
		}
	}
	return e
}

// NotificationEvent turns a local-only NotifyCallback into an event.
func NotificationEvent(n *types.NotifyCallback, meta *types.SessionMeta, now time.Time) *Event {
	e := NewEvent(EventNotification, meta, now)
	e.Kind = n.Type
	e.Title = n.Title
	e.Text = n.Text
	return e
}

// Notifier publishes events to a downstream system.
type Notifier interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases notifier resources.
	Close() error
}

// Backoff returns the wait before retry attempt i (i >= 1): 500ms doubling.
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry runs attempt up to 1+retries times with Backoff between attempts.
// stop reports whether an error is final; nil retries every error.
func Retry(ctx context.Context, name string, retries int, attempt func(context.Context) error, stop func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if stop != nil && stop(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
