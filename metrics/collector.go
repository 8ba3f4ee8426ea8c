// Package metrics provides per-session counters for the clipboard channel.
//
// The Collector accumulates counters during a single session. It is a leaf
// package with no internal dependencies: PDU types are recorded by their
// string discriminator.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Channel
	PDUsSent         int64
	PDUsReceived     int64
	SentByType       map[string]int64
	ReceivedByType   map[string]int64
	FrameDecodeError int64

	// File streams
	StreamsRequested int64
	StreamsResolved  int64
	StreamsAbandoned int64
	StreamsExpired   int64

	// Errors by class
	InternalErrors int64
	FailErrors     int64

	// Transfer volume
	BytesServed   int64
	BytesReceived int64
	FilesReceived int64
	FilesFailed   int64

	// Dimensions (informational, set at construction)
	SessionID      string
	Role           string
	Backend        string
	StorageBackend string
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	pdusSent         int64
	pdusReceived     int64
	sentByType       map[string]int64
	receivedByType   map[string]int64
	frameDecodeError int64

	streamsRequested int64
	streamsResolved  int64
	streamsAbandoned int64
	streamsExpired   int64

	internalErrors int64
	failErrors     int64

	bytesServed   int64
	bytesReceived int64
	filesReceived int64
	filesFailed   int64

	sessionID      string
	role           string
	backend        string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, role, backend, storageBackend string) *Collector {
	return &Collector{
		sentByType:     make(map[string]int64),
		receivedByType: make(map[string]int64),
		sessionID:      sessionID,
		role:           role,
		backend:        backend,
		storageBackend: storageBackend,
	}
}

// --- Channel ---

// IncPDUSent records an outgoing PDU of the given type.
func (c *Collector) IncPDUSent(pduType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pdusSent++
	c.sentByType[pduType]++
	c.mu.Unlock()
}

// IncPDUReceived records an incoming PDU of the given type.
func (c *Collector) IncPDUReceived(pduType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pdusReceived++
	c.receivedByType[pduType]++
	c.mu.Unlock()
}

// IncFrameDecodeError records a frame that could not be decoded.
func (c *Collector) IncFrameDecodeError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameDecodeError++
	c.mu.Unlock()
}

// --- File streams ---

// IncStreamRequested records an issued file contents request.
func (c *Collector) IncStreamRequested() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsRequested++
	c.mu.Unlock()
}

// IncStreamResolved records a file contents response matched to its request.
func (c *Collector) IncStreamResolved() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsResolved++
	c.mu.Unlock()
}

// IncStreamAbandoned records a correlation cleared by the caller.
func (c *Collector) IncStreamAbandoned() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsAbandoned++
	c.mu.Unlock()
}

// AddStreamsExpired records correlations cleared by the timeout sweep.
func (c *Collector) AddStreamsExpired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.streamsExpired += int64(n)
	c.mu.Unlock()
}

// --- Errors ---

// IncInternalError records a protocol-invariant violation.
func (c *Collector) IncInternalError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.internalErrors++
	c.mu.Unlock()
}

// IncFailError records a recoverable operation failure.
func (c *Collector) IncFailError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.failErrors++
	c.mu.Unlock()
}

// --- Transfer volume ---

// AddBytesServed records file bytes sent to the remote peer.
func (c *Collector) AddBytesServed(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesServed += int64(n)
	c.mu.Unlock()
}

// AddBytesReceived records file bytes received from the remote peer.
func (c *Collector) AddBytesReceived(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesReceived += int64(n)
	c.mu.Unlock()
}

// IncFileReceived records a completed incoming file.
func (c *Collector) IncFileReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesReceived++
	c.mu.Unlock()
}

// IncFileFailed records an incoming file that was not completed.
func (c *Collector) IncFileFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesFailed++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		PDUsSent:         c.pdusSent,
		PDUsReceived:     c.pdusReceived,
		SentByType:       copyCounts(c.sentByType),
		ReceivedByType:   copyCounts(c.receivedByType),
		FrameDecodeError: c.frameDecodeError,

		StreamsRequested: c.streamsRequested,
		StreamsResolved:  c.streamsResolved,
		StreamsAbandoned: c.streamsAbandoned,
		StreamsExpired:   c.streamsExpired,

		InternalErrors: c.internalErrors,
		FailErrors:     c.failErrors,

		BytesServed:   c.bytesServed,
		BytesReceived: c.bytesReceived,
		FilesReceived: c.filesReceived,
		FilesFailed:   c.filesFailed,

		SessionID:      c.sessionID,
		Role:           c.role,
		Backend:        c.backend,
		StorageBackend: c.storageBackend,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
