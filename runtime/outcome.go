package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pithecene-io/cliprdr/ipc"
)

// OutcomeStatus classifies how a session ended.
type OutcomeStatus string

const (
	// OutcomeClosed: the peer closed the channel.
	OutcomeClosed OutcomeStatus = "closed"
	// OutcomeCanceled: the local context was canceled.
	OutcomeCanceled OutcomeStatus = "canceled"
	// OutcomeProtocolError: the peer sent an unrecoverable frame.
	OutcomeProtocolError OutcomeStatus = "protocol_error"
	// OutcomeTransportError: reading or writing the channel failed.
	OutcomeTransportError OutcomeStatus = "transport_error"
)

// Exit codes of the session commands.
const (
	ExitCodeClosed    = 0 // peer closed or canceled by signal
	ExitCodeProtocol  = 1 // fatal framing error
	ExitCodeTransport = 2 // connection failure
	ExitCodeConfig    = 3 // invalid arguments or configuration
)

// Outcome is the terminal state of a session.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

// ExitCode maps the outcome to a process exit code.
func (o Outcome) ExitCode() int {
	switch o.Status {
	case OutcomeClosed, OutcomeCanceled:
		return ExitCodeClosed
	case OutcomeProtocolError:
		return ExitCodeProtocol
	default:
		return ExitCodeTransport
	}
}

// DetermineOutcome classifies the error that ended the session loop.
//
// Mapping:
//   - nil, io.EOF, net.ErrClosed: closed
//   - context cancellation: canceled
//   - fatal frame error: protocol error
//   - anything else: transport error
func DetermineOutcome(err error) Outcome {
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return Outcome{Status: OutcomeClosed, Message: "channel closed by peer"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Status: OutcomeCanceled, Message: fmt.Sprintf("session stopped: %v", err)}
	case ipc.IsFatalFrameError(err):
		return Outcome{Status: OutcomeProtocolError, Message: err.Error()}
	default:
		return Outcome{Status: OutcomeTransportError, Message: err.Error()}
	}
}
