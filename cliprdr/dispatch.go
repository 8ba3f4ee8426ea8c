package cliprdr

import (
	"fmt"
	"reflect"

	"github.com/pithecene-io/cliprdr/payload"
	"github.com/pithecene-io/cliprdr/types"
)

// ActionKind tells the caller what to do with an incoming PDU.
type ActionKind int

const (
	// ActionNone: nothing to do (e.g. capabilities recorded).
	ActionNone ActionKind = iota
	// ActionRemoteReady: the peer's monitor is up; send capabilities and
	// the current local format list.
	ActionRemoteReady
	// ActionFormatListReceived: Formats holds the peer's new list. Answer
	// with AcknowledgeFormatList.
	ActionFormatListReceived
	// ActionFormatListAcked: OK reports whether the peer accepted our list.
	ActionFormatListAcked
	// ActionSupplyFormatData: the peer wants FormatID. Answer with
	// RespondFormatData.
	ActionSupplyFormatData
	// ActionFormatDataReceived: OK and Data carry the requested payload.
	ActionFormatDataReceived
	// ActionServeFileContents: FileRequest must be served from local files.
	// Answer with RespondFileContents.
	ActionServeFileContents
	// ActionFileContentsReceived: Resolution carries a matched response.
	ActionFileContentsReceived
	// ActionReply: Reply is ready to send as-is.
	ActionReply
)

var actionNames = map[ActionKind]string{
	ActionNone:                 "none",
	ActionRemoteReady:          "remote_ready",
	ActionFormatListReceived:   "format_list_received",
	ActionFormatListAcked:      "format_list_acked",
	ActionSupplyFormatData:     "supply_format_data",
	ActionFormatDataReceived:   "format_data_received",
	ActionServeFileContents:    "serve_file_contents",
	ActionFileContentsReceived: "file_contents_received",
	ActionReply:                "reply",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is the local consequence of one incoming PDU.
// Only the fields relevant to Kind are set.
type Action struct {
	Kind        ActionKind
	Formats     []types.FormatEntry
	OK          bool
	FormatID    int32
	Data        []byte
	FileRequest payload.FileContentsRequest
	Resolution  *Resolution
	Reply       types.PDU
}

// HandleRemote turns a PDU received from the peer into an Action.
//
// Unexpected PDUs fail with ErrInternal and leave the context usable: a
// NotifyCallback arriving from the wire, an unknown PDU type, a file contents
// request with an unknown dwFlags value or a response for an unknown stream.
// An incoming range the local set cannot serve is answered directly with a
// failure response (ActionReply).
func (c *ClientContext) HandleRemote(pdu types.PDU) (Action, error) {
	const op = "handle_remote"

	if isNilPDU(pdu) {
		return Action{}, c.internal(op, internalError(op, "nil pdu"), nil)
	}

	switch p := pdu.(type) {
	case *types.Capabilities:
		c.mu.Lock()
		c.remoteCaps = p.GeneralFlags
		c.remoteCapsKnown = true
		c.mu.Unlock()
		c.logger.Debug("remote capabilities", map[string]any{"capabilities": p.GeneralFlags.String()})
		return Action{Kind: ActionNone}, nil

	case *types.MonitorReady:
		return Action{Kind: ActionRemoteReady}, nil

	case *types.FormatList:
		list, err := c.MergeRemoteFormatList(p.Entries)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionFormatListReceived, Formats: list.Entries}, nil

	case *types.FormatListResponse:
		return Action{Kind: ActionFormatListAcked, OK: p.OK()}, nil

	case *types.FormatDataRequest:
		return Action{Kind: ActionSupplyFormatData, FormatID: p.RequestedFormatID}, nil

	case *types.FormatDataResponse:
		if !p.OK() && len(p.FormatData) > 0 {
			return Action{}, c.internal(op, internalError(op, "failed format data response carries %d bytes", len(p.FormatData)), nil)
		}
		return Action{Kind: ActionFormatDataReceived, OK: p.OK(), Data: p.FormatData}, nil

	case *types.FileContentsRequest:
		req, err := payload.DecodeFileContentsRequest(p)
		if err != nil {
			return Action{}, c.internal(op, internalError(op, "%v", err), map[string]any{"stream_id": p.StreamID})
		}
		if err := c.CheckServable(req); err != nil {
			c.metrics.IncFailError()
			c.logger.Warn("file contents request refused", map[string]any{"stream_id": req.StreamID, "error": err.Error()})
			return Action{Kind: ActionReply, Reply: c.RespondFileContents(req.StreamID, nil)}, nil
		}
		return Action{Kind: ActionServeFileContents, FileRequest: req}, nil

	case *types.FileContentsResponse:
		res, err := c.ResolveFileContentsResponse(p)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionFileContentsReceived, Resolution: res}, nil

	case *types.NotifyCallback:
		return Action{}, c.internal(op, internalError(op, "notify_callback is local-only"), nil)

	default:
		return Action{}, c.internal(op, internalError(op, "unexpected pdu %T", pdu), nil)
	}
}

func isNilPDU(pdu types.PDU) bool {
	if pdu == nil {
		return true
	}
	v := reflect.ValueOf(pdu)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
