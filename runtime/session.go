// Package runtime drives one clipboard channel session: it mirrors the local
// backend to the peer, answers the peer's requests and downloads the files
// the peer offers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/cliprdr/adapter"
	"github.com/pithecene-io/cliprdr/backend"
	"github.com/pithecene-io/cliprdr/cliprdr"
	"github.com/pithecene-io/cliprdr/ipc"
	"github.com/pithecene-io/cliprdr/lode"
	"github.com/pithecene-io/cliprdr/log"
	"github.com/pithecene-io/cliprdr/metrics"
	"github.com/pithecene-io/cliprdr/payload"
	"github.com/pithecene-io/cliprdr/types"
)

// Queue bounds.
const (
	// eventBuffer bounds notifier events waiting to be published.
	eventBuffer = 64
	// outboundBuffer bounds PDUs waiting to be written, so the loop keeps
	// reading while the peer is slow to drain the channel.
	outboundBuffer = 256
)

// SessionConfig configures a single session.
type SessionConfig struct {
	// Conn is the clipboard channel. The session closes it on exit.
	Conn io.ReadWriteCloser
	// Meta is the session identity. An empty SessionID gets a fresh UUID.
	Meta *types.SessionMeta
	// Capabilities is the local capability set.
	Capabilities types.CapabilitySet
	// Backend is the local clipboard.
	Backend backend.Backend
	// Share serves the files of the local clipboard.
	Share *lode.Share
	// Receiver stores files downloaded from the peer.
	// If nil, file lists announced by the peer are not downloaded.
	Receiver *lode.Receiver
	// Notifier publishes notifications and transfer events. Optional.
	Notifier adapter.Notifier
	// Transfer tunes downloads.
	Transfer TransferConfig
	// Logger overrides the session logger. If nil, one is built from Meta.
	Logger *log.Logger
	// Collector is the metrics collector for this session.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// SessionResult summarizes a finished session.
type SessionResult struct {
	Meta          *types.SessionMeta
	Outcome       Outcome
	Duration      time.Duration
	FilesReceived int
	FilesFailed   int
}

// Session runs the clipboard channel protocol over one connection.
type Session struct {
	config    SessionConfig
	client    *cliprdr.ClientContext
	enc       *ipc.FrameEncoder
	dec       *ipc.FrameDecoder
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time
	transfers *transfers
	events    chan *adapter.Event
	readDone  chan struct{}

	outbound   chan types.PDU
	writerDone chan struct{}
	writeErr   error

	// requested holds unanswered format data requests, oldest first.
	// Responses carry no format id and arrive in request order.
	requested []formatRequest
	// listGen counts format lists received from the peer. Responses to
	// requests made for an older list are dropped.
	listGen uint64
	// remote is the content assembled from the peer's current clipboard.
	remote backend.Content
	// announced is the local content last offered to the peer, nil once the
	// peer has announced its own clipboard.
	announced *backend.Content

	filesReceived int
	filesFailed   int
}

// NewSession validates config and builds a session.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Conn == nil {
		return nil, errors.New("session requires a connection")
	}
	if config.Backend == nil {
		return nil, errors.New("session requires a backend")
	}
	if config.Share == nil {
		return nil, errors.New("session requires a share")
	}
	if config.Meta == nil {
		config.Meta = &types.SessionMeta{Role: types.RoleConnect}
	}
	if config.Meta.SessionID == "" {
		meta := *config.Meta
		meta.SessionID = uuid.NewString()
		config.Meta = &meta
	}
	if !config.Meta.Role.Valid() {
		return nil, fmt.Errorf("invalid session role %q", config.Meta.Role)
	}
	if err := config.Transfer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer config: %w", err)
	}
	config.Transfer = config.Transfer.withDefaults()
	if config.Now == nil {
		config.Now = time.Now
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.Meta)
	}

	client, err := cliprdr.New(cliprdr.Options{
		Capabilities:  config.Capabilities,
		Logger:        logger,
		Metrics:       config.Collector,
		StreamTimeout: config.Transfer.StreamTimeout,
		Now:           config.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		config:    config,
		client:    client,
		enc:       ipc.NewFrameEncoder(config.Conn),
		dec:       ipc.NewFrameDecoder(config.Conn),
		logger:    logger,
		collector: config.Collector,
		now:       config.Now,
		transfers: newTransfers(config.Transfer, client, config.Receiver),
	}, nil
}

// Meta returns the session identity.
func (s *Session) Meta() *types.SessionMeta { return s.config.Meta }

// Client returns the protocol context of the session.
func (s *Session) Client() *cliprdr.ClientContext { return s.client }

// Run executes the session until the peer closes the channel, a fatal
// error occurs or ctx is canceled. The connection is closed on return.
//
// Execution flow:
//  1. Send Capabilities and MonitorReady
//  2. Read PDUs on a separate goroutine
//  3. Serve remote PDUs, local clipboard changes and stream expiry from a
//     single loop
func (s *Session) Run(ctx context.Context) *SessionResult {
	start := s.now()
	s.logger.Info("session started", map[string]any{
		"capabilities": s.client.Capabilities().String(),
		"backend":      s.config.Backend.Name(),
		"storage":      s.config.Share.Storage().Backend(),
	})

	publishDone := s.startPublisher()

	s.readDone = make(chan struct{})
	s.outbound = make(chan types.PDU, outboundBuffer)
	s.writerDone = make(chan struct{})
	go s.writeLoop()

	err := s.loop(ctx)
	close(s.outbound)
	_ = s.config.Conn.Close()
	<-s.readDone
	<-s.writerDone

	for _, d := range s.transfers.reset(errors.New("session ended")) {
		s.transferFailed(d, errors.New("session ended"))
	}
	s.client.Reset()
	close(s.events)
	<-publishDone

	outcome := DetermineOutcome(err)
	fields := map[string]any{
		"outcome":        outcome.Status,
		"files_received": s.filesReceived,
		"files_failed":   s.filesFailed,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Info("session ended", fields)

	return &SessionResult{
		Meta:          s.config.Meta,
		Outcome:       outcome,
		Duration:      s.now().Sub(start),
		FilesReceived: s.filesReceived,
		FilesFailed:   s.filesFailed,
	}
}

type formatRequest struct {
	formatID int32
	listGen  uint64
}

type readResult struct {
	pdu types.PDU
	err error
}

func (s *Session) loop(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reads := make(chan readResult)
	go func() {
		defer close(s.readDone)
		s.readLoop(ctx, reads)
	}()

	if err := s.send(s.client.AdvertiseCapabilities()); err != nil {
		return err
	}
	if err := s.send(s.client.MonitorReady()); err != nil {
		return err
	}

	var expiry <-chan time.Time
	if timeout := s.config.Transfer.StreamTimeout; timeout > 0 {
		ticker := time.NewTicker(max(timeout/4, 10*time.Millisecond))
		defer ticker.Stop()
		expiry = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-reads:
			if r.err != nil {
				return r.err
			}
			if err := s.handleRemote(ctx, r.pdu); err != nil {
				return err
			}

		case <-s.config.Backend.Changes():
			if err := s.announceLocal(ctx, false); err != nil {
				return err
			}

		case now := <-expiry:
			if err := s.expire(ctx, now); err != nil {
				return err
			}

		case <-s.writerDone:
			return s.writeErr
		}
	}
}

// readLoop decodes PDUs until a fatal or transport error. Recoverable frame
// errors are counted and skipped.
func (s *Session) readLoop(ctx context.Context, out chan<- readResult) {
	for {
		pdu, err := s.dec.ReadPDU()
		if err != nil {
			var frameErr *ipc.FrameError
			if errors.As(err, &frameErr) && !frameErr.IsFatal() {
				s.collector.IncFrameDecodeError()
				s.logger.Warn("dropping undecodable frame", map[string]any{"error": err.Error()})
				continue
			}
			select {
			case out <- readResult{err: err}:
			case <-ctx.Done():
			}
			return
		}
		s.collector.IncPDUReceived(string(pdu.PDUType()))
		select {
		case out <- readResult{pdu: pdu}:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop writes queued PDUs until the queue closes or a write fails.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for pdu := range s.outbound {
		if err := s.enc.WritePDU(pdu); err != nil {
			s.writeErr = fmt.Errorf("send %s: %w", pdu.PDUType(), err)
			return
		}
		s.collector.IncPDUSent(string(pdu.PDUType()))
	}
}

// send queues pdu for the writer. It fails once the writer has stopped.
func (s *Session) send(pdu types.PDU) error {
	select {
	case s.outbound <- pdu:
		return nil
	case <-s.writerDone:
		return s.writeErr
	}
}

func (s *Session) handleRemote(ctx context.Context, pdu types.PDU) error {
	action, err := s.client.HandleRemote(pdu)
	if err != nil {
		// Internal errors are logged and counted by the client context. A
		// rejected file contents response still ends its download.
		if resp, ok := pdu.(*types.FileContentsResponse); ok && resp != nil {
			if d, owned := s.transfers.forget(resp.StreamID); owned {
				s.transfers.fail(d, err)
				s.transferFailed(d, err)
				return s.advance(ctx)
			}
		}
		return nil
	}

	switch action.Kind {
	case cliprdr.ActionNone:
		return nil
	case cliprdr.ActionRemoteReady:
		return s.announceLocal(ctx, true)
	case cliprdr.ActionFormatListReceived:
		return s.onFormatList(ctx, action.Formats)
	case cliprdr.ActionFormatListAcked:
		if !action.OK {
			s.logger.Warn("peer rejected format list", nil)
		}
		return nil
	case cliprdr.ActionSupplyFormatData:
		return s.supplyFormatData(ctx, action.FormatID)
	case cliprdr.ActionFormatDataReceived:
		return s.onFormatData(ctx, action.OK, action.Data)
	case cliprdr.ActionServeFileContents:
		return s.serveFileContents(ctx, action.FileRequest)
	case cliprdr.ActionFileContentsReceived:
		return s.onFileContents(ctx, action.Resolution)
	case cliprdr.ActionReply:
		return s.send(action.Reply)
	default:
		s.logger.Warn("unhandled action", map[string]any{"action": action.Kind.String()})
		return nil
	}
}

// announceLocal offers the current local clipboard to the peer. When the
// peer has just come up, an empty clipboard is not announced so it does not
// clear the peer's.
func (s *Session) announceLocal(ctx context.Context, onReady bool) error {
	content, err := s.config.Backend.Read(ctx)
	if err != nil {
		s.logger.Error("failed to read local clipboard", map[string]any{"error": err.Error()})
		return nil
	}
	if onReady && content.Empty() {
		return nil
	}
	if s.announced != nil && s.announced.Equal(content) {
		s.logger.Debug("local clipboard already announced", nil)
		return nil
	}

	var entries []types.FormatEntry
	if content.HasText {
		entries = append(entries, types.FormatEntry{ID: types.FormatUnicodeText})
	}
	if len(content.Files) > 0 {
		files, err := s.config.Share.Offer(ctx, content.Files)
		if err != nil {
			s.logger.Warn("some files could not be shared", map[string]any{"error": err.Error()})
		}
		if len(files) > 0 {
			entries = append(entries, types.FormatEntry{
				ID:   types.FormatFileGroupDescriptorW,
				Name: types.FormatNameFileGroupDescriptorW,
			})
		}
	} else {
		s.config.Share.Clear()
	}

	list, err := s.client.MergeLocalFormatList(entries)
	if err != nil {
		s.logger.Error("failed to build format list", map[string]any{"error": err.Error()})
		return nil
	}
	s.logger.Debug("announcing local clipboard", map[string]any{
		"formats": len(list.Entries),
		"files":   s.config.Share.Len(),
	})
	if err := s.send(list); err != nil {
		return err
	}
	content = content.Clone()
	s.announced = &content
	return nil
}

// onFormatList acknowledges the peer's new clipboard and fetches its data.
func (s *Session) onFormatList(ctx context.Context, formats []types.FormatEntry) error {
	for _, d := range s.transfers.reset(errSuperseded) {
		s.transferFailed(d, errSuperseded)
	}
	s.listGen++
	s.remote = backend.Content{}
	s.announced = nil

	ack, err := s.client.AcknowledgeFormatList(true)
	if err != nil {
		return nil
	}
	if err := s.send(ack); err != nil {
		return err
	}

	list := &types.FormatList{Entries: formats}
	var wanted []int32
	if _, ok := list.Find(types.FormatUnicodeText); ok {
		wanted = append(wanted, types.FormatUnicodeText)
	}
	if s.config.Transfer.AutoDownload && s.config.Receiver != nil {
		if id, ok := fileListFormat(list); ok {
			wanted = append(wanted, id)
		}
	}
	if len(wanted) == 0 && len(formats) == 0 {
		// The peer cleared its clipboard.
		if err := s.config.Backend.Write(ctx, backend.Content{}); err != nil {
			s.logger.Error("failed to clear local clipboard", map[string]any{"error": err.Error()})
		}
		return nil
	}

	for _, id := range wanted {
		req, err := s.client.RequestFormatData(id)
		if err != nil {
			continue
		}
		if err := s.send(req); err != nil {
			return err
		}
		s.requested = append(s.requested, formatRequest{formatID: id, listGen: s.listGen})
	}
	return nil
}

// fileListFormat finds the file list entry by registered name, falling back
// to the well-known id.
func fileListFormat(list *types.FormatList) (int32, bool) {
	if e, ok := list.FindByName(types.FormatNameFileGroupDescriptorW); ok {
		return e.ID, true
	}
	if e, ok := list.Find(types.FormatFileGroupDescriptorW); ok {
		return e.ID, true
	}
	return 0, false
}

// supplyFormatData answers a format data request from the local clipboard.
func (s *Session) supplyFormatData(ctx context.Context, formatID int32) error {
	var data payload.FormatData

	switch {
	case formatID == types.FormatUnicodeText:
		content, err := s.config.Backend.Read(ctx)
		if err != nil {
			s.logger.Error("failed to read local clipboard", map[string]any{"error": err.Error()})
		} else if content.HasText {
			data = payload.Text(content.Text)
		}
	case s.isLocalFileList(formatID):
		if s.config.Share.Len() > 0 {
			files := s.config.Share.Descriptors()
			if s.client.Capabilities().Has(types.FileClipNoFilePaths) {
				files = files.WithoutPaths()
			}
			data = files
		}
	}

	if data == nil {
		s.logger.Debug("format not available", map[string]any{"format_id": formatID})
	}
	resp, err := s.client.RespondFormatData(data)
	if err != nil {
		s.logger.Warn("failed to encode format data", map[string]any{"format_id": formatID, "error": err.Error()})
	}
	return s.send(resp)
}

func (s *Session) isLocalFileList(formatID int32) bool {
	list := &types.FormatList{Entries: s.client.LocalFormats()}
	id, ok := fileListFormat(list)
	return ok && id == formatID
}

// onFormatData applies a format data response to the local clipboard or
// starts downloading the announced files.
func (s *Session) onFormatData(ctx context.Context, ok bool, data []byte) error {
	if len(s.requested) == 0 {
		s.collector.IncInternalError()
		s.logger.Warn("unsolicited format data response", map[string]any{"bytes": len(data)})
		return nil
	}
	pending := s.requested[0]
	s.requested = s.requested[1:]
	formatID := pending.formatID

	if pending.listGen != s.listGen {
		s.logger.Debug("dropping format data for a superseded list", map[string]any{
			"format_id": formatID,
			"bytes":     len(data),
		})
		return nil
	}
	if !ok {
		s.logger.Info("peer could not supply format", map[string]any{"format_id": formatID})
		return nil
	}

	if formatID == types.FormatUnicodeText {
		text, err := payload.DecodeText(data)
		if err != nil {
			s.collector.IncInternalError()
			s.logger.Warn("invalid text payload", map[string]any{"error": err.Error()})
			return nil
		}
		s.remote.Text = text
		s.remote.HasText = true
		s.writeRemote(ctx)
		return nil
	}

	files, err := payload.DecodeFileDescriptors(data)
	if err != nil {
		s.collector.IncInternalError()
		s.logger.Warn("invalid file list payload", map[string]any{"error": err.Error()})
		return nil
	}
	s.logger.Info("downloading files", map[string]any{"files": len(files)})
	for _, d := range s.transfers.enqueue(files, s.now()) {
		s.transferFailed(d, errSuperseded)
	}
	return s.advance(ctx)
}

// writeRemote mirrors the assembled peer clipboard into the backend.
func (s *Session) writeRemote(ctx context.Context) {
	if err := s.config.Backend.Write(ctx, s.remote.Clone()); err != nil {
		s.logger.Error("failed to write local clipboard", map[string]any{"error": err.Error()})
	}
}

// serveFileContents answers a file contents request from the share.
func (s *Session) serveFileContents(ctx context.Context, req payload.FileContentsRequest) error {
	body, err := s.config.Share.Serve(ctx, req)
	if err != nil {
		s.collector.IncFailError()
		s.logger.Warn("file contents request failed", map[string]any{
			"stream_id":  req.StreamID,
			"list_index": req.ListIndex,
			"error":      err.Error(),
		})
		body = nil
	}
	return s.send(s.client.RespondFileContents(req.StreamID, body))
}

// onFileContents routes a resolved response to its download.
func (s *Session) onFileContents(ctx context.Context, res *cliprdr.Resolution) error {
	d, ok := s.transfers.owner(res.Correlation.StreamID)
	if !ok {
		s.logger.Debug("response for a cancelled download", map[string]any{"stream_id": res.Correlation.StreamID})
		return nil
	}
	if err := s.transfers.apply(ctx, d, res); err != nil {
		s.transfers.fail(d, err)
		s.transferFailed(d, err)
		return s.advance(ctx)
	}
	return s.advance(ctx)
}

// advance moves the download queue forward: commit a finished file, start
// the next one and keep the active file's pipeline full.
func (s *Session) advance(ctx context.Context) error {
	for {
		d := s.transfers.active
		if d != nil && d.done() {
			got, err := s.transfers.commit()
			if err != nil {
				s.transferFailed(d, err)
			} else {
				s.transferCompleted(d, got)
			}
			continue
		}

		if d == nil {
			if !s.transfers.busy() {
				s.finishDownloads(ctx)
				return nil
			}
			next, req, err := s.transfers.next()
			if err != nil {
				s.transfers.fail(next, err)
				s.transferFailed(next, err)
				continue
			}
			return s.send(req)
		}

		reqs, err := s.transfers.pump()
		for _, req := range reqs {
			if sendErr := s.send(req); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			s.transfers.fail(d, err)
			s.transferFailed(d, err)
			continue
		}
		return nil
	}
}

// finishDownloads hands the files of the completed list to the backend.
func (s *Session) finishDownloads(ctx context.Context) {
	if len(s.transfers.received) == 0 {
		return
	}
	s.remote.Files = append(s.remote.Files[:0], s.transfers.received...)
	s.transfers.received = nil
	s.writeRemote(ctx)
}

// expire clears stale stream correlations and fails their downloads.
func (s *Session) expire(ctx context.Context, now time.Time) error {
	expired := s.client.ExpireStreams(now)
	for _, corr := range expired {
		d, ok := s.transfers.forget(corr.StreamID)
		if !ok {
			continue
		}
		cause := fmt.Errorf("stream %d expired", corr.StreamID)
		s.transfers.fail(d, cause)
		s.transferFailed(d, cause)
	}
	if len(expired) == 0 {
		return nil
	}
	return s.advance(ctx)
}

func (s *Session) transferCompleted(d *download, got lode.Received) {
	s.filesReceived++
	duration := s.now().Sub(d.started)
	s.logger.Info("file received", map[string]any{
		"name":     d.name,
		"key":      got.Key,
		"size":     got.Size,
		"chunks":   d.chunks,
		"duration": duration.String(),
	})

	note := s.client.Notify("info", "File received", d.name)
	s.publish(adapter.NotificationEvent(note, s.config.Meta, s.now()))

	event := adapter.NewEvent(adapter.EventTransferCompleted, s.config.Meta, s.now())
	event.File = &adapter.FileInfo{Name: d.name, Key: got.Key, Location: got.Location, Size: got.Size}
	event.Chunks = d.chunks
	event.DurationMs = duration.Milliseconds()
	s.publish(event)
}

func (s *Session) transferFailed(d *download, cause error) {
	s.filesFailed++
	s.collector.IncFileFailed()
	s.logger.Warn("file transfer failed", map[string]any{
		"name":  d.name,
		"index": d.index,
		"error": cause.Error(),
	})

	event := adapter.NewEvent(adapter.EventTransferFailed, s.config.Meta, s.now())
	event.File = &adapter.FileInfo{Name: d.name, Size: d.size}
	event.Chunks = d.chunks
	event.Error = cause.Error()
	s.publish(event)
}

// startPublisher drains events to the notifier off the session loop.
func (s *Session) startPublisher() <-chan struct{} {
	s.events = make(chan *adapter.Event, eventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range s.events {
			if s.config.Notifier == nil {
				continue
			}
			if err := s.config.Notifier.Publish(context.Background(), event); err != nil {
				s.logger.Warn("failed to publish event", map[string]any{
					"event_type": event.EventType,
					"error":      err.Error(),
				})
			}
		}
	}()
	return done
}

func (s *Session) publish(event *adapter.Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("event buffer full, dropping event", map[string]any{"event_type": event.EventType})
	}
}
