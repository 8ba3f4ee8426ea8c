// Package payload converts typed request/response builders into clipboard PDUs.
//
// Every conversion is an explicit, pure function: a builder value goes in,
// a freshly allocated PDU comes out. Wire encoding rules (response flags,
// the size/range discriminator, the 64-bit offset split) live here and
// nowhere else. Decode functions reverse the conversions for PDUs received
// from the remote peer.
package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/pithecene-io/cliprdr/types"
)

// NotifyCallback builds a local-only notification.
type NotifyCallback struct {
	Type  string
	Title string
	Text  string
}

// PDU converts the builder.
func (b NotifyCallback) PDU() *types.NotifyCallback {
	return &types.NotifyCallback{Type: b.Type, Title: b.Title, Text: b.Text}
}

// MonitorReady builds a monitor-ready signal.
type MonitorReady struct{}

// PDU converts the builder.
func (MonitorReady) PDU() *types.MonitorReady {
	return &types.MonitorReady{}
}

// Capabilities builds a capability advertisement.
type Capabilities struct {
	Set types.CapabilitySet
}

// PDU converts the builder.
func (b Capabilities) PDU() *types.Capabilities {
	return &types.Capabilities{GeneralFlags: b.Set}
}

// FormatList builds a format list. Entry order is preserved.
type FormatList struct {
	Entries []types.FormatEntry
}

// PDU converts the builder. The entries are copied so later mutation of the
// builder does not leak into the PDU.
func (b FormatList) PDU() *types.FormatList {
	entries := make([]types.FormatEntry, len(b.Entries))
	copy(entries, b.Entries)
	return &types.FormatList{Entries: entries}
}

// FormatListResponse builds a format list acknowledgment.
type FormatListResponse struct {
	Success bool
}

// PDU converts the builder.
func (b FormatListResponse) PDU() *types.FormatListResponse {
	return &types.FormatListResponse{MsgFlags: responseFlags(b.Success)}
}

// FormatDataRequest builds a request for one advertised format.
type FormatDataRequest struct {
	FormatID int32
}

// PDU converts the builder.
func (b FormatDataRequest) PDU() *types.FormatDataRequest {
	return &types.FormatDataRequest{RequestedFormatID: b.FormatID}
}

// FormatDataResponse builds a format data response. Present=false is the
// failure response; its data is always empty regardless of Data.
type FormatDataResponse struct {
	Data    []byte
	Present bool
}

// Some returns a successful response carrying data (which may be empty).
func Some(data []byte) FormatDataResponse {
	return FormatDataResponse{Data: data, Present: true}
}

// None returns a failure response.
func None() FormatDataResponse {
	return FormatDataResponse{}
}

// PDU converts the builder.
func (b FormatDataResponse) PDU() *types.FormatDataResponse {
	if !b.Present {
		return &types.FormatDataResponse{MsgFlags: types.ResponseFail, FormatData: []byte{}}
	}
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return &types.FormatDataResponse{MsgFlags: types.ResponseOK, FormatData: data}
}

// RequestKind selects between a size query and a ranged read.
type RequestKind int

const (
	// KindSize queries the size of a file.
	KindSize RequestKind = iota
	// KindRange reads Size bytes starting at Offset.
	KindRange
)

func (k RequestKind) String() string {
	switch k {
	case KindSize:
		return "size"
	case KindRange:
		return "range"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FileContentsKind is the body of a file contents request.
type FileContentsKind struct {
	Kind   RequestKind
	Offset uint64
	Size   uint64
}

// SizeRequest returns a size query kind.
func SizeRequest() FileContentsKind {
	return FileContentsKind{Kind: KindSize}
}

// RangeRequest returns a ranged read of size bytes at offset.
func RangeRequest(offset, size uint64) FileContentsKind {
	return FileContentsKind{Kind: KindRange, Offset: offset, Size: size}
}

// FileContentsRequest builds a file contents request.
type FileContentsRequest struct {
	StreamID  uint32
	ListIndex uint32
	Kind      FileContentsKind
	// ClipDataID binds the request to a locked clipboard snapshot when set.
	ClipDataID *uint32
}

// PDU converts the builder.
//
// Size queries carry dwFlags=SIZE, cbRequested=8 and zero position fields.
// Ranged reads carry dwFlags=RANGE, cbRequested=size and the offset split
// into low = offset & 0xFFFFFFFF, high = offset >> 32.
func (b FileContentsRequest) PDU() *types.FileContentsRequest {
	req := &types.FileContentsRequest{
		StreamID:  b.StreamID,
		ListIndex: b.ListIndex,
	}
	if b.ClipDataID != nil {
		req.HaveClipDataID = true
		req.ClipDataID = *b.ClipDataID
	}

	switch b.Kind.Kind {
	case KindRange:
		req.DwFlags = types.FileContentsRange
		req.CbRequested = b.Kind.Size
		req.NPositionLow = uint32(b.Kind.Offset & 0xFFFFFFFF)
		req.NPositionHigh = uint32(b.Kind.Offset >> 32)
	default:
		req.DwFlags = types.FileContentsSize
		req.CbRequested = types.RequestSizeBytes
	}
	return req
}

// DecodeFileContentsRequest reverses FileContentsRequest.PDU.
// Fails on a dwFlags value that is neither SIZE nor RANGE.
func DecodeFileContentsRequest(p *types.FileContentsRequest) (FileContentsRequest, error) {
	out := FileContentsRequest{
		StreamID:  p.StreamID,
		ListIndex: p.ListIndex,
	}
	if p.HaveClipDataID {
		id := p.ClipDataID
		out.ClipDataID = &id
	}

	switch p.DwFlags {
	case types.FileContentsSize:
		out.Kind = SizeRequest()
	case types.FileContentsRange:
		out.Kind = RangeRequest(p.Offset(), p.CbRequested)
	default:
		return FileContentsRequest{}, fmt.Errorf("file contents request %d: unknown dwFlags 0x%08x", p.StreamID, p.DwFlags)
	}
	return out, nil
}

// FileContentsPayload is the body of a successful file contents response.
type FileContentsPayload struct {
	Kind     RequestKind
	Size     uint64
	Contents []byte
}

// SizePayload answers a size query.
func SizePayload(size uint64) *FileContentsPayload {
	return &FileContentsPayload{Kind: KindSize, Size: size}
}

// ContentsPayload answers a ranged read.
func ContentsPayload(data []byte) *FileContentsPayload {
	return &FileContentsPayload{Kind: KindRange, Contents: data}
}

// FileContentsResponse builds a file contents response.
// A nil Payload is the failure response.
type FileContentsResponse struct {
	StreamID uint32
	Payload  *FileContentsPayload
}

// PDU converts the builder. Size responses also carry the size as 8
// little-endian bytes in Data, the form a CLIPRDR peer reads.
func (b FileContentsResponse) PDU() *types.FileContentsResponse {
	resp := &types.FileContentsResponse{StreamID: b.StreamID}
	switch {
	case b.Payload == nil:
		resp.MsgFlags = types.ResponseFail
		resp.Kind = types.FileContentsResponseFail
		resp.Data = []byte{}
	case b.Payload.Kind == KindSize:
		resp.MsgFlags = types.ResponseOK
		resp.Kind = types.FileContentsResponseSize
		resp.Size = b.Payload.Size
		resp.Data = binary.LittleEndian.AppendUint64(nil, b.Payload.Size)
	default:
		resp.MsgFlags = types.ResponseOK
		resp.Kind = types.FileContentsResponseContents
		resp.Data = make([]byte, len(b.Payload.Contents))
		copy(resp.Data, b.Payload.Contents)
	}
	return resp
}

// DecodeFileContentsResponse reverses FileContentsResponse.PDU.
func DecodeFileContentsResponse(p *types.FileContentsResponse) (FileContentsResponse, error) {
	out := FileContentsResponse{StreamID: p.StreamID}
	if !p.OK() || p.Kind == types.FileContentsResponseFail {
		return out, nil
	}

	switch p.Kind {
	case types.FileContentsResponseSize:
		size := p.Size
		if size == 0 && len(p.Data) == 8 {
			size = binary.LittleEndian.Uint64(p.Data)
		}
		out.Payload = SizePayload(size)
	case types.FileContentsResponseContents:
		out.Payload = ContentsPayload(p.Data)
	default:
		return FileContentsResponse{}, fmt.Errorf("file contents response %d: unknown kind %q", p.StreamID, p.Kind)
	}
	return out, nil
}

func responseFlags(success bool) uint16 {
	if success {
		return types.ResponseOK
	}
	return types.ResponseFail
}
