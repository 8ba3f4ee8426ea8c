package lode

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/cliprdr/metrics"
)

func readBack(t *testing.T, s *Storage, key string) []byte {
	t.Helper()
	store, err := s.Store()
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	rc, err := store.Get(t.Context(), key)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return data
}

func TestReceiver_InOrder(t *testing.T) {
	s := NewMemoryStorage()
	m := metrics.NewCollector("s", "connect", "memory", "memory")
	r := NewReceiver(s, "inbox", m)

	in, err := r.Begin(t.Context(), "report.txt", 11)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	for _, c := range []struct {
		off  uint64
		data string
	}{{0, "hello"}, {5, " "}, {6, "world"}} {
		if err := in.WriteAt(c.off, []byte(c.data)); err != nil {
			t.Fatalf("WriteAt(%d) failed: %v", c.off, err)
		}
	}

	got, err := in.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if got.Key != "inbox/report.txt" || got.Size != 11 || got.Location != "mem://inbox/report.txt" {
		t.Errorf("Received = %+v", got)
	}
	if data := readBack(t, s, got.Key); string(data) != "hello world" {
		t.Errorf("stored = %q", data)
	}

	snap := m.Snapshot()
	if snap.BytesReceived != 11 || snap.FilesReceived != 1 {
		t.Errorf("metrics = %d bytes, %d files", snap.BytesReceived, snap.FilesReceived)
	}
}

func TestReceiver_Reorders(t *testing.T) {
	s := NewMemoryStorage()
	r := NewReceiver(s, "", nil)

	want := bytes.Repeat([]byte("0123456789"), 10)
	in, err := r.Begin(t.Context(), "f.bin", uint64(len(want)))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// Chunks of 10 bytes delivered in reverse order.
	for off := len(want) - 10; off >= 0; off -= 10 {
		if err := in.WriteAt(uint64(off), want[off:off+10]); err != nil {
			t.Fatalf("WriteAt(%d) failed: %v", off, err)
		}
		if off > 0 && in.Written() != 0 {
			t.Fatalf("bytes written before the first chunk arrived: %d", in.Written())
		}
	}
	if in.Buffered() != 0 || in.Written() != uint64(len(want)) {
		t.Fatalf("after drain: buffered=%d written=%d", in.Buffered(), in.Written())
	}

	got, err := in.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if data := readBack(t, s, got.Key); !bytes.Equal(data, want) {
		t.Errorf("stored %d bytes, mismatched content", len(data))
	}
}

func TestReceiver_RejectsOverlap(t *testing.T) {
	r := NewReceiver(NewMemoryStorage(), "", nil)
	in, err := r.Begin(t.Context(), "f", 10)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	t.Cleanup(func() { _ = in.Abort(nil) })

	if err := in.WriteAt(0, []byte("abcd")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := in.WriteAt(2, []byte("xx")); !errors.Is(err, ErrOverlap) {
		t.Errorf("rewrite = %v, want ErrOverlap", err)
	}
	if err := in.WriteAt(6, []byte("zz")); err != nil {
		t.Fatalf("WriteAt(6) failed: %v", err)
	}
	if err := in.WriteAt(6, []byte("zz")); !errors.Is(err, ErrOverlap) {
		t.Errorf("duplicate buffered chunk = %v, want ErrOverlap", err)
	}
	if err := in.WriteAt(8, []byte("toolong")); !errors.Is(err, ErrOverlap) {
		t.Errorf("overrun = %v, want ErrOverlap", err)
	}
}

func TestReceiver_CommitIncomplete(t *testing.T) {
	r := NewReceiver(NewMemoryStorage(), "", nil)
	in, err := r.Begin(t.Context(), "f", 10)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	_ = in.WriteAt(0, []byte("abc"))

	if _, err := in.Commit(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Commit = %v, want ErrIncomplete", err)
	}
	if err := in.WriteAt(3, []byte("d")); err == nil {
		t.Error("WriteAt succeeded after failed commit")
	}
}

func TestReceiver_EmptyFile(t *testing.T) {
	s := NewMemoryStorage()
	in, err := NewReceiver(s, "inbox", nil).Begin(t.Context(), "empty", 0)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	got, err := in.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if data := readBack(t, s, got.Key); len(data) != 0 {
		t.Errorf("stored %d bytes, want 0", len(data))
	}
}

func TestReceiver_SanitizesName(t *testing.T) {
	in, err := NewReceiver(NewMemoryStorage(), "inbox", nil).Begin(t.Context(), "../../etc/passwd", 0)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer func() { _ = in.Abort(nil) }()
	if in.Key() != "etc/passwd" {
		t.Errorf("Key = %q", in.Key())
	}
}

func TestReceiver_PutFailure(t *testing.T) {
	fs := &FailingStore{PutErr: errors.New("write: no space left on device")}
	r := NewReceiver(NewStorageWithFactory("failing", FailingStoreFactory(fs), "test://"), "", nil)

	in, err := r.Begin(t.Context(), "f", 4)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	// The write either fails fast or the failure surfaces at commit.
	if err := in.WriteAt(0, []byte("data")); err != nil {
		if !errors.Is(err, ErrDiskFull) {
			t.Fatalf("WriteAt = %v, want ErrDiskFull", err)
		}
		return
	}
	if _, err := in.Commit(); !errors.Is(err, ErrDiskFull) {
		t.Errorf("Commit = %v, want ErrDiskFull", err)
	}
}

func TestReceiver_FSStorage(t *testing.T) {
	root := t.TempDir()
	s, err := NewStorage(t.Context(), StorageConfig{Backend: BackendFS, Path: root})
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}

	in, err := NewReceiver(s, "inbox", nil).Begin(t.Context(), "notes.txt", 5)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	_ = in.WriteAt(0, []byte("notes"))
	got, err := in.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got.Location != filepath.Join(root, "inbox", "notes.txt") {
		t.Errorf("Location = %q", got.Location)
	}
	data, err := os.ReadFile(got.Location)
	if err != nil || string(data) != "notes" {
		t.Errorf("on disk = %q, %v", data, err)
	}
}
