// Package ipc implements the clipboard channel framing.
//
// Each frame is a 4-byte big-endian length prefix followed by a msgpack
// envelope {type, v, body}. The type field discriminates the PDU; body holds
// the msgpack-encoded PDU struct. Local-only PDUs never reach the wire.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/cliprdr/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// MaxChunkSize is the largest file contents range a single frame may carry.
	MaxChunkSize = 8 * 1024 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error or unknown PDU type.
	FrameErrorDecode
	// FrameErrorEncode indicates a PDU that cannot be put on the wire.
	FrameErrorEncode
)

// FrameError represents a frame encoding or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error is fatal to the session.
// Partial and oversized frames desynchronize the stream; a frame that
// decodes badly can be skipped.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// envelope is the msgpack shape of every frame payload.
type envelope struct {
	Type    types.PDUType      `msgpack:"type"`
	Version int                `msgpack:"v"`
	Body    msgpack.RawMessage `msgpack:"body"`
}

// FrameDecoder decodes length-prefixed frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
// Returns the raw payload bytes (msgpack-encoded envelope).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// ReadPDU reads and decodes the next frame.
func (d *FrameDecoder) ReadPDU() (types.PDU, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodePDU(payload)
}

// DecodePDU decodes a frame payload into its concrete PDU.
func DecodePDU(payload []byte) (types.PDU, error) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame envelope",
			Err:  err,
		}
	}

	pdu, err := newPDU(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Body) > 0 {
		if err := msgpack.Unmarshal(env.Body, pdu); err != nil {
			return nil, &FrameError{
				Kind: FrameErrorDecode,
				Msg:  fmt.Sprintf("failed to decode %s body", env.Type),
				Err:  err,
			}
		}
	}
	return pdu, nil
}

func newPDU(t types.PDUType) (types.PDU, error) {
	switch t {
	case types.PDUTypeMonitorReady:
		return &types.MonitorReady{}, nil
	case types.PDUTypeCapabilities:
		return &types.Capabilities{}, nil
	case types.PDUTypeFormatList:
		return &types.FormatList{}, nil
	case types.PDUTypeFormatListResponse:
		return &types.FormatListResponse{}, nil
	case types.PDUTypeFormatDataRequest:
		return &types.FormatDataRequest{}, nil
	case types.PDUTypeFormatDataResponse:
		return &types.FormatDataResponse{}, nil
	case types.PDUTypeFileContentsRequest:
		return &types.FileContentsRequest{}, nil
	case types.PDUTypeFileContentsResponse:
		return &types.FileContentsResponse{}, nil
	case types.PDUTypeNotifyCallback:
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "local-only pdu notify_callback received from the wire"}
	default:
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unknown pdu type %q", t)}
	}
}

// EncodePDU encodes a PDU into a frame payload (without length prefix).
func EncodePDU(pdu types.PDU) ([]byte, error) {
	if pdu == nil {
		return nil, &FrameError{Kind: FrameErrorEncode, Msg: "nil pdu"}
	}
	t := pdu.PDUType()
	if t.IsLocalOnly() {
		return nil, &FrameError{Kind: FrameErrorEncode, Msg: fmt.Sprintf("pdu %s is local-only", t)}
	}

	body, err := msgpack.Marshal(pdu)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorEncode, Msg: fmt.Sprintf("failed to encode %s body", t), Err: err}
	}
	payload, err := msgpack.Marshal(&envelope{Type: t, Version: types.ProtocolVersion, Body: body})
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorEncode, Msg: "failed to encode frame envelope", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	return payload, nil
}

// FrameEncoder writes length-prefixed frames to a stream.
// WritePDU is safe for concurrent use; each frame is written with a single
// Write call so frames never interleave.
type FrameEncoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WritePDU encodes and writes one PDU.
func (e *FrameEncoder) WritePDU(pdu types.PDU) error {
	payload, err := EncodePDU(pdu)
	if err != nil {
		return err
	}

	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writer.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", pdu.PDUType(), err)
	}
	return nil
}
