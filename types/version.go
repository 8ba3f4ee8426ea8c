package types

// Version is the canonical project version.
// The CLI, the PDU model and the frame codec share this version.
const Version = "0.3.0"

// ProtocolVersion is the frame protocol version carried in capability
// advertisements. Peers with a different version are still served; the
// value is informational.
const ProtocolVersion = 2
