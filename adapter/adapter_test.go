package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pithecene-io/cliprdr/types"
)

func TestNewEvent_StampsSession(t *testing.T) {
	peer := "10.0.0.5:3390"
	meta := &types.SessionMeta{SessionID: "sess-1", Role: types.RoleListen, Peer: &peer}
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.FixedZone("x", 3600))

	e := NewEvent(EventTransferCompleted, meta, now)
	if e.SessionID != "sess-1" || e.Role != "listen" || e.Peer != peer {
		t.Errorf("session fields = %+v", e)
	}
	if e.Timestamp != "2026-10-17T11:00:00Z" {
		t.Errorf("Timestamp = %q", e.Timestamp)
	}
	if e.ProtocolVersion != types.ProtocolVersion {
		t.Errorf("ProtocolVersion = %d", e.ProtocolVersion)
	}
}

func TestNotificationEvent(t *testing.T) {
	n := &types.NotifyCallback{Type: "warning", Title: "Clipboard", Text: "transfer refused"}
	e := NotificationEvent(n, nil, time.Unix(0, 0))
	if e.EventType != EventNotification || e.Kind != "warning" || e.Title != "Clipboard" || e.Text != "transfer refused" {
		t.Errorf("event = %+v", e)
	}
	if e.SessionID != "" {
		t.Errorf("SessionID = %q without meta", e.SessionID)
	}
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	for i, w := range want {
		if got := Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), "test", 3, func(context.Context) error {
		calls++
		return nil
	}, nil)
	if err != nil || calls != 1 {
		t.Errorf("Retry = %v after %d calls", err, calls)
	}
}

func TestRetry_NonRetriable(t *testing.T) {
	final := errors.New("final")
	calls := 0
	err := Retry(t.Context(), "test", 3, func(context.Context) error {
		calls++
		return final
	}, func(err error) bool { return errors.Is(err, final) })
	if !errors.Is(err, final) || calls != 1 {
		t.Errorf("Retry = %v after %d calls", err, calls)
	}
}

func TestRetry_Exhausts(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), "test", 1, func(context.Context) error {
		calls++
		return errors.New("transient")
	}, nil)
	if err == nil || calls != 2 {
		t.Errorf("Retry = %v after %d calls", err, calls)
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := Retry(ctx, "test", 3, func(context.Context) error {
		t.Fatal("attempt ran with canceled context")
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry = %v, want context.Canceled", err)
	}
}
