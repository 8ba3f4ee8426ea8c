package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/pithecene-io/cliprdr/ipc"
)

func TestDetermineOutcome(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   OutcomeStatus
		exitCode int
	}{
		{"nil", nil, OutcomeClosed, ExitCodeClosed},
		{"eof", io.EOF, OutcomeClosed, ExitCodeClosed},
		{"closed conn", fmt.Errorf("read: %w", net.ErrClosed), OutcomeClosed, ExitCodeClosed},
		{"closed pipe", &ipc.FrameError{Kind: ipc.FrameErrorPartial, Msg: "failed to read length prefix", Err: io.ErrClosedPipe}, OutcomeClosed, ExitCodeClosed},
		{"canceled", context.Canceled, OutcomeCanceled, ExitCodeClosed},
		{"deadline", context.DeadlineExceeded, OutcomeCanceled, ExitCodeClosed},
		{"too large", &ipc.FrameError{Kind: ipc.FrameErrorTooLarge, Msg: "payload size exceeds maximum"}, OutcomeProtocolError, ExitCodeProtocol},
		{"partial", &ipc.FrameError{Kind: ipc.FrameErrorPartial, Msg: "failed to read payload", Err: io.ErrUnexpectedEOF}, OutcomeProtocolError, ExitCodeProtocol},
		{"write failure", errors.New("send format_list: connection reset"), OutcomeTransportError, ExitCodeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineOutcome(tt.err)
			if got.Status != tt.status {
				t.Errorf("Status = %q, want %q", got.Status, tt.status)
			}
			if got.ExitCode() != tt.exitCode {
				t.Errorf("ExitCode() = %d, want %d", got.ExitCode(), tt.exitCode)
			}
			if got.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}
