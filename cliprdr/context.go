// Package cliprdr implements the clipboard channel client context: the
// stateful mediator between local clipboard/file state and the remote peer.
//
// The context never performs I/O. Each operation takes the current state
// plus an event and returns the PDU to send (or an Action describing what the
// caller must do locally). Reading the real clipboard, touching files and
// writing bytes to the transport is the caller's job.
//
// One ClientContext serves one session. Format list bookkeeping is meant to
// be driven from a single goroutine; the stream correlation table is guarded
// so request issuance and response resolution are atomic regardless.
package cliprdr

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pithecene-io/cliprdr/log"
	"github.com/pithecene-io/cliprdr/metrics"
	"github.com/pithecene-io/cliprdr/payload"
	"github.com/pithecene-io/cliprdr/types"
)

// ShortFormatNameMax is the longest format name, in characters, carried when
// long format names are not supported.
const ShortFormatNameMax = 15

// Options configures a ClientContext.
type Options struct {
	// Capabilities is the local capability set, fixed for the context lifetime.
	Capabilities types.CapabilitySet
	// Logger receives internal errors and stream events. Optional.
	Logger *log.Logger
	// Metrics receives stream and error counters. Optional.
	Metrics *metrics.Collector
	// StreamTimeout bounds how long a correlation may stay outstanding
	// before ExpireStreams clears it. Zero disables expiry.
	StreamTimeout time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// ClientContext mediates clipboard events and PDUs for one session.
type ClientContext struct {
	caps    types.CapabilitySet
	logger  *log.Logger
	metrics *metrics.Collector
	timeout time.Duration
	now     func() time.Time

	mu              sync.Mutex
	local           []types.FormatEntry
	remote          []types.FormatEntry
	remoteCaps      types.CapabilitySet
	remoteCapsKnown bool

	streams *streamTable
}

// StreamRequest describes a file contents request to issue.
type StreamRequest struct {
	// StreamID is the caller-chosen id. Nil allocates one sequentially.
	StreamID *uint32
	// ListIndex is the position of the file in the most recent file list.
	ListIndex uint32
	// Kind is a size query or a ranged read.
	Kind payload.FileContentsKind
	// ClipDataID binds the request to a locked clipboard snapshot.
	ClipDataID *uint32
}

// Resolution is a file contents response matched to its request.
type Resolution struct {
	Correlation Correlation
	Response    payload.FileContentsResponse
}

// New creates a client context. Fails with ErrInit when the capability set
// carries unknown bits.
func New(opts Options) (*ClientContext, error) {
	if err := opts.Capabilities.Validate(); err != nil {
		return nil, initError("new", err)
	}
	if opts.StreamTimeout < 0 {
		return nil, initError("new", fmt.Errorf("stream timeout must be >= 0, got %s", opts.StreamTimeout))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ClientContext{
		caps:    opts.Capabilities,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		timeout: opts.StreamTimeout,
		now:     now,
		streams: newStreamTable(),
	}, nil
}

// Capabilities returns the local capability set.
func (c *ClientContext) Capabilities() types.CapabilitySet {
	return c.caps
}

// RemoteCapabilities returns the set advertised by the peer, if any.
// It is informational: encoding decisions use the local set only.
func (c *ClientContext) RemoteCapabilities() (types.CapabilitySet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteCaps, c.remoteCapsKnown
}

// LocalFormats returns a copy of the tracked local format list.
func (c *ClientContext) LocalFormats() []types.FormatEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneEntries(c.local)
}

// RemoteFormats returns a copy of the tracked remote format list.
func (c *ClientContext) RemoteFormats() []types.FormatEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneEntries(c.remote)
}

// AdvertiseCapabilities produces the Capabilities PDU for the local set.
func (c *ClientContext) AdvertiseCapabilities() *types.Capabilities {
	return payload.Capabilities{Set: c.caps}.PDU()
}

// MonitorReady produces the MonitorReady PDU.
func (c *ClientContext) MonitorReady() *types.MonitorReady {
	return payload.MonitorReady{}.PDU()
}

// Notify produces a local-only NotifyCallback PDU.
func (c *ClientContext) Notify(kind, title, text string) *types.NotifyCallback {
	return payload.NotifyCallback{Type: kind, Title: title, Text: text}.PDU()
}

// MergeRemoteFormatList replaces the tracked remote format list with entries
// received from the peer. Acknowledging receipt is not automatic: callers
// invoke AcknowledgeFormatList. Returns the tracked list.
func (c *ClientContext) MergeRemoteFormatList(entries []types.FormatEntry) (*types.FormatList, error) {
	c.mu.Lock()
	c.remote = cloneEntries(entries)
	tracked := cloneEntries(c.remote)
	c.mu.Unlock()

	c.logger.Debug("remote format list merged", map[string]any{"formats": len(tracked)})
	return &types.FormatList{Entries: tracked}, nil
}

// MergeLocalFormatList replaces the tracked local format list after a local
// clipboard change and produces the FormatList PDU to transmit. Without
// LongFormatNames, names are shortened to ShortFormatNameMax characters.
func (c *ClientContext) MergeLocalFormatList(entries []types.FormatEntry) (*types.FormatList, error) {
	shaped := cloneEntries(entries)
	if !c.caps.Has(types.LongFormatNames) {
		for i := range shaped {
			shaped[i].Name = shortFormatName(shaped[i].Name)
		}
	}

	c.mu.Lock()
	c.local = shaped
	c.mu.Unlock()

	return payload.FormatList{Entries: shaped}.PDU(), nil
}

// AcknowledgeFormatList produces the FormatListResponse PDU.
func (c *ClientContext) AcknowledgeFormatList(success bool) (*types.FormatListResponse, error) {
	return payload.FormatListResponse{Success: success}.PDU(), nil
}

// RequestFormatData produces a FormatDataRequest. The caller tracks that a
// response for formatID is expected.
func (c *ClientContext) RequestFormatData(formatID int32) (*types.FormatDataRequest, error) {
	return payload.FormatDataRequest{FormatID: formatID}.PDU(), nil
}

// RespondFormatData wraps a caller-supplied payload into a
// FormatDataResponse. A nil payload yields the failure response. When the
// payload cannot be encoded the failure response is returned together with
// an ErrFail error, so the caller can still answer the peer.
func (c *ClientContext) RespondFormatData(data payload.FormatData) (*types.FormatDataResponse, error) {
	if data == nil {
		return payload.None().PDU(), nil
	}
	raw, err := data.FormatData()
	if err != nil {
		c.metrics.IncFailError()
		return payload.None().PDU(), failError("respond_format_data", "%v", err)
	}
	return payload.Some(raw).PDU(), nil
}

// RequestFileContents validates the request against the local capability
// set, reserves a stream correlation and produces the FileContentsRequest.
//
// Fails with ErrFail when a range exceeds 2^32-1 without HugeFileSupport,
// when a clip data id is given without LockClipData, or when an explicit
// stream id is already outstanding.
func (c *ClientContext) RequestFileContents(req StreamRequest) (*types.FileContentsRequest, error) {
	const op = "request_file_contents"

	switch req.Kind.Kind {
	case payload.KindSize:
	case payload.KindRange:
		if !c.caps.AllowsRange(req.Kind.Offset, req.Kind.Size) {
			c.metrics.IncFailError()
			return nil, failError(op, "range offset=%d size=%d exceeds %d without huge file support",
				req.Kind.Offset, req.Kind.Size, types.MaxSmallFileOffset)
		}
	default:
		c.metrics.IncFailError()
		return nil, failError(op, "unknown request kind %s", req.Kind.Kind)
	}

	if req.ClipDataID != nil && !c.caps.Has(types.LockClipData) {
		c.metrics.IncFailError()
		return nil, failError(op, "clip data id %d requires lock_clip_data", *req.ClipDataID)
	}

	corr := Correlation{
		ListIndex: req.ListIndex,
		Kind:      req.Kind,
		IssuedAt:  c.now(),
	}
	explicit := req.StreamID != nil
	if explicit {
		corr.StreamID = *req.StreamID
	}
	corr, ok := c.streams.reserve(corr, explicit)
	if !ok {
		c.metrics.IncFailError()
		if explicit {
			return nil, failError(op, "stream %d already outstanding", *req.StreamID)
		}
		return nil, failError(op, "no free stream id")
	}
	c.metrics.IncStreamRequested()

	return payload.FileContentsRequest{
		StreamID:   corr.StreamID,
		ListIndex:  corr.ListIndex,
		Kind:       corr.Kind,
		ClipDataID: req.ClipDataID,
	}.PDU(), nil
}

// ResolveFileContentsResponse matches resp to its outstanding request by
// stream id, clears the correlation and returns it with the decoded response.
//
// Fails with ErrInternal for an unknown stream id (unsolicited or duplicate
// response) and for a response whose kind does not fit the request; in the
// latter case the correlation is cleared too.
func (c *ClientContext) ResolveFileContentsResponse(resp *types.FileContentsResponse) (*Resolution, error) {
	const op = "resolve_file_contents_response"

	if resp == nil {
		return nil, c.internal(op, internalError(op, "nil response"), nil)
	}
	corr, ok := c.streams.take(resp.StreamID)
	if !ok {
		return nil, c.internal(op, internalError(op, "no outstanding request for stream %d", resp.StreamID),
			map[string]any{"stream_id": resp.StreamID})
	}

	decoded, err := payload.DecodeFileContentsResponse(resp)
	if err != nil {
		return nil, c.internal(op, internalError(op, "%v", err), correlationFields(corr))
	}
	if err := checkResponseFits(corr, decoded); err != nil {
		return nil, c.internal(op, internalError(op, "stream %d: %v", corr.StreamID, err), correlationFields(corr))
	}

	c.metrics.IncStreamResolved()
	return &Resolution{Correlation: corr, Response: decoded}, nil
}

// RespondFileContents produces a FileContentsResponse for a request served
// by the caller. A nil body yields the failure response.
func (c *ClientContext) RespondFileContents(streamID uint32, body *payload.FileContentsPayload) *types.FileContentsResponse {
	if body != nil && body.Kind == payload.KindRange {
		c.metrics.AddBytesServed(len(body.Contents))
	}
	return payload.FileContentsResponse{StreamID: streamID, Payload: body}.PDU()
}

// CheckServable reports whether an incoming request may be served under the
// local capability set. Ranges beyond 2^32-1 need HugeFileSupport locally.
func (c *ClientContext) CheckServable(req payload.FileContentsRequest) error {
	if req.Kind.Kind == payload.KindRange && !c.caps.AllowsRange(req.Kind.Offset, req.Kind.Size) {
		return failError("serve_file_contents", "stream %d: range offset=%d size=%d not servable with %s",
			req.StreamID, req.Kind.Offset, req.Kind.Size, c.caps)
	}
	return nil
}

// AbandonStream clears an outstanding correlation. A response arriving for
// it afterwards resolves as ErrInternal.
func (c *ClientContext) AbandonStream(streamID uint32) (Correlation, bool) {
	corr, ok := c.streams.take(streamID)
	if ok {
		c.metrics.IncStreamAbandoned()
		c.logger.Debug("stream abandoned", correlationFields(corr))
	}
	return corr, ok
}

// ExpireStreams clears every correlation outstanding for longer than the
// stream timeout as of now, returning them ordered by stream id.
func (c *ClientContext) ExpireStreams(now time.Time) []Correlation {
	if c.timeout <= 0 {
		return nil
	}
	expired := c.streams.expire(now.Add(-c.timeout))
	if len(expired) > 0 {
		c.metrics.AddStreamsExpired(len(expired))
		c.logger.Warn("streams expired", map[string]any{"count": len(expired), "timeout": c.timeout.String()})
	}
	return expired
}

// Reset forgets the tracked local and remote format lists and abandons every
// outstanding correlation, returning them ordered by stream id. Responses
// arriving for them afterwards resolve as ErrInternal. The capability sets
// are kept.
func (c *ClientContext) Reset() []Correlation {
	c.mu.Lock()
	c.local = nil
	c.remote = nil
	c.mu.Unlock()

	dropped := c.streams.drain()
	for range dropped {
		c.metrics.IncStreamAbandoned()
	}
	if len(dropped) > 0 {
		c.logger.Debug("context reset", map[string]any{"abandoned": len(dropped)})
	}
	return dropped
}

// Pending returns the number of outstanding correlations.
func (c *ClientContext) Pending() int {
	return c.streams.len()
}

// PendingStreams returns the outstanding correlations ordered by stream id.
func (c *ClientContext) PendingStreams() []Correlation {
	return c.streams.snapshot()
}

// Correlation looks up an outstanding correlation without clearing it.
func (c *ClientContext) Correlation(streamID uint32) (Correlation, bool) {
	return c.streams.get(streamID)
}

func (c *ClientContext) internal(op string, err error, fields map[string]any) error {
	c.metrics.IncInternalError()
	if fields == nil {
		fields = map[string]any{}
	}
	fields["op"] = op
	fields["error"] = err.Error()
	c.logger.Error("protocol invariant violated", fields)
	return err
}

func checkResponseFits(corr Correlation, resp payload.FileContentsResponse) error {
	if resp.Payload == nil {
		return nil
	}
	switch corr.Kind.Kind {
	case payload.KindSize:
		if resp.Payload.Kind != payload.KindSize {
			return fmt.Errorf("size request answered with %s payload", resp.Payload.Kind)
		}
	case payload.KindRange:
		if resp.Payload.Kind != payload.KindRange {
			return fmt.Errorf("range request answered with %s payload", resp.Payload.Kind)
		}
		if uint64(len(resp.Payload.Contents)) > corr.Kind.Size {
			return fmt.Errorf("range request for %d bytes answered with %d", corr.Kind.Size, len(resp.Payload.Contents))
		}
	}
	return nil
}

func correlationFields(corr Correlation) map[string]any {
	return map[string]any{
		"stream_id":  corr.StreamID,
		"list_index": corr.ListIndex,
		"kind":       corr.Kind.Kind.String(),
	}
}

func shortFormatName(name string) string {
	if utf8.RuneCountInString(name) <= ShortFormatNameMax {
		return name
	}
	runes := []rune(name)
	return string(runes[:ShortFormatNameMax])
}

func cloneEntries(entries []types.FormatEntry) []types.FormatEntry {
	out := make([]types.FormatEntry, len(entries))
	copy(out, entries)
	return out
}
