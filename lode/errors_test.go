package lode

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		errMsg   string
		wantKind error
	}{
		{"context deadline exceeded", ErrTimeout},
		{"connection timeout after 30s", ErrTimeout},
		{"AccessDenied: you do not have access", ErrAccessDenied},
		{"received status 403", ErrAccessDenied},
		{"open /srv/share/a.bin: permission denied", ErrPermissionDenied},
		{"write /data/inbox/a.bin: no space left on device", ErrDiskFull},
		{"quota exceeded for user", ErrDiskFull},
		{"open /srv/share/missing: no such file or directory", ErrNotFound},
		{"NoSuchKey: The specified key does not exist", ErrNotFound},
		{"SlowDown: please reduce request rate", ErrThrottled},
		{"received status 429", ErrThrottled},
		{"NoCredentialProviders: no valid credential providers", ErrAuth},
		{"ExpiredToken: the security token has expired", ErrAuth},
		{"dial tcp 127.0.0.1:9000: connection refused", ErrNetwork},
		{"something completely unexpected happened", ErrUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			got := classifyError(errors.New(tt.errMsg))
			if !errors.Is(got, tt.wantKind) {
				t.Errorf("classifyError(%q) = %v, want %v", tt.errMsg, got, tt.wantKind)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := classifyError(nil); got != nil {
		t.Errorf("classifyError(nil) = %v, want nil", got)
	}
}

func TestStorageError_IsAndUnwrap(t *testing.T) {
	underlying := errors.New("open /srv/share/a.bin: permission denied")
	err := wrapStorageError(opRead, "a.bin", underlying)

	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("errors.Is should match the classified kind")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the underlying error")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T", err)
	}
	if se.Op != "read" || se.Path != "a.bin" {
		t.Errorf("Op/Path = %q/%q", se.Op, se.Path)
	}
	if se.Error() != "read a.bin: permission denied: open /srv/share/a.bin: permission denied" {
		t.Errorf("Error() = %q", se.Error())
	}
}

func TestWrapStorageError(t *testing.T) {
	if err := wrapStorageError(opWrite, "p", nil); err != nil {
		t.Errorf("wrapping nil = %v, want nil", err)
	}

	first := NewStorageError(ErrOutOfRange, "size", "#3", errors.New("index 3 of 2"))
	if got := wrapStorageError(opRead, "x", first); got != first {
		t.Errorf("rewrapped a classified error: %v", got)
	}

	got := wrapStorageError(opWrite, "", errors.New("i/o timeout"))
	if !errors.Is(got, ErrTimeout) {
		t.Errorf("kind = %v, want ErrTimeout", got)
	}
	if got.Error() != "write: operation timed out: i/o timeout" {
		t.Errorf("Error() = %q", got.Error())
	}
}
