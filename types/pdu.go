//nolint:revive // types is a common Go package naming convention
package types

// PDUType is the discriminator of a clipboard channel PDU.
type PDUType string

// PDU type constants.
const (
	PDUTypeNotifyCallback       PDUType = "notify_callback"
	PDUTypeMonitorReady         PDUType = "monitor_ready"
	PDUTypeCapabilities         PDUType = "capabilities"
	PDUTypeFormatList           PDUType = "format_list"
	PDUTypeFormatListResponse   PDUType = "format_list_response"
	PDUTypeFormatDataRequest    PDUType = "format_data_request"
	PDUTypeFormatDataResponse   PDUType = "format_data_response"
	PDUTypeFileContentsRequest  PDUType = "file_contents_request"
	PDUTypeFileContentsResponse PDUType = "file_contents_response"
)

// IsLocalOnly returns true for PDUs that must never be sent to the remote peer.
func (t PDUType) IsLocalOnly() bool {
	return t == PDUTypeNotifyCallback
}

// Wire flag values.
const (
	// ResponseOK marks a successful format list or format data response.
	ResponseOK uint16 = 0x0001
	// ResponseFail marks a failed response.
	ResponseFail uint16 = 0x0002

	// FileContentsSize marks a FileContentsRequest as a size query.
	FileContentsSize uint32 = 0x00000001
	// FileContentsRange marks a FileContentsRequest as a ranged read.
	FileContentsRange uint32 = 0x00000002

	// RequestSizeBytes is cbRequested for a size query: the width of a 64-bit size.
	RequestSizeBytes uint64 = 0x0008
)

// Well-known clipboard formats.
const (
	// FormatUnicodeText is CF_UNICODETEXT: UTF-16LE, NUL-terminated.
	FormatUnicodeText int32 = 13
	// FormatFileGroupDescriptorW is the registered id used for file lists.
	FormatFileGroupDescriptorW int32 = 0xC0BC

	// FormatNameFileGroupDescriptorW is the registered name of the file list format.
	FormatNameFileGroupDescriptorW = "FileGroupDescriptorW"
)

// PDU is one message exchangeable over the clipboard channel.
// Concrete values are always pointers to the structs in this file.
type PDU interface {
	PDUType() PDUType
}

// NotifyCallback is a local-only notification for the user.
type NotifyCallback struct {
	Type  string `msgpack:"type"`
	Title string `msgpack:"title"`
	Text  string `msgpack:"text"`
}

// MonitorReady signals the local clipboard monitor is active.
type MonitorReady struct{}

// Capabilities advertises a peer's capability set.
type Capabilities struct {
	GeneralFlags CapabilitySet `msgpack:"general_flags"`
}

// FormatEntry is one advertised clipboard format.
type FormatEntry struct {
	ID   int32  `msgpack:"id"`
	Name string `msgpack:"name"`
}

// FormatList advertises the formats one side currently holds, in order.
// IDs are expected but not required to be unique.
type FormatList struct {
	Entries []FormatEntry `msgpack:"entries"`
}

// Find returns the first entry with the given id.
func (l *FormatList) Find(id int32) (FormatEntry, bool) {
	for _, e := range l.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return FormatEntry{}, false
}

// FindByName returns the first entry with the given name.
func (l *FormatList) FindByName(name string) (FormatEntry, bool) {
	for _, e := range l.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return FormatEntry{}, false
}

// FormatListResponse acknowledges a received format list.
type FormatListResponse struct {
	MsgFlags uint16 `msgpack:"msg_flags"`
}

// OK reports whether the response flags carry ResponseOK.
func (r *FormatListResponse) OK() bool { return r.MsgFlags == ResponseOK }

// FormatDataRequest requests the payload of one advertised format.
type FormatDataRequest struct {
	RequestedFormatID int32 `msgpack:"requested_format_id"`
}

// FormatDataResponse carries the payload of a requested format.
// Data is empty whenever MsgFlags is ResponseFail.
type FormatDataResponse struct {
	MsgFlags   uint16 `msgpack:"msg_flags"`
	FormatData []byte `msgpack:"format_data"`
}

// OK reports whether the response flags carry ResponseOK.
func (r *FormatDataResponse) OK() bool { return r.MsgFlags == ResponseOK }

// FileContentsRequest asks for the size of, or a range within, one file of
// the most recent file list. The 64-bit offset travels split across
// NPositionLow and NPositionHigh.
type FileContentsRequest struct {
	StreamID       uint32 `msgpack:"stream_id"`
	ListIndex      uint32 `msgpack:"list_index"`
	DwFlags        uint32 `msgpack:"dw_flags"`
	CbRequested    uint64 `msgpack:"cb_requested"`
	NPositionLow   uint32 `msgpack:"n_position_low"`
	NPositionHigh  uint32 `msgpack:"n_position_high"`
	HaveClipDataID bool   `msgpack:"have_clip_data_id"`
	ClipDataID     uint32 `msgpack:"clip_data_id"`
}

// Offset reassembles the 64-bit position from its wire halves.
func (r *FileContentsRequest) Offset() uint64 {
	return uint64(r.NPositionHigh)<<32 | uint64(r.NPositionLow)
}

// FileContentsResponseKind discriminates the payload of a FileContentsResponse.
type FileContentsResponseKind string

// File contents response kinds.
const (
	FileContentsResponseSize     FileContentsResponseKind = "size"
	FileContentsResponseContents FileContentsResponseKind = "contents"
	FileContentsResponseFail     FileContentsResponseKind = "fail"
)

// FileContentsResponse answers a FileContentsRequest with the same StreamID.
// For size responses Data holds the 8-byte little-endian size as well.
type FileContentsResponse struct {
	StreamID uint32                   `msgpack:"stream_id"`
	MsgFlags uint16                   `msgpack:"msg_flags"`
	Kind     FileContentsResponseKind `msgpack:"kind"`
	Size     uint64                   `msgpack:"size"`
	Data     []byte                   `msgpack:"data"`
}

// OK reports whether the response flags carry ResponseOK.
func (r *FileContentsResponse) OK() bool { return r.MsgFlags == ResponseOK }

func (*NotifyCallback) PDUType() PDUType       { return PDUTypeNotifyCallback }
func (*MonitorReady) PDUType() PDUType         { return PDUTypeMonitorReady }
func (*Capabilities) PDUType() PDUType         { return PDUTypeCapabilities }
func (*FormatList) PDUType() PDUType           { return PDUTypeFormatList }
func (*FormatListResponse) PDUType() PDUType   { return PDUTypeFormatListResponse }
func (*FormatDataRequest) PDUType() PDUType    { return PDUTypeFormatDataRequest }
func (*FormatDataResponse) PDUType() PDUType   { return PDUTypeFormatDataResponse }
func (*FileContentsRequest) PDUType() PDUType  { return PDUTypeFileContentsRequest }
func (*FileContentsResponse) PDUType() PDUType { return PDUTypeFileContentsResponse }
