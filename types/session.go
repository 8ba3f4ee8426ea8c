package types

// SessionRole identifies which side of the channel a session plays.
type SessionRole string

// Session roles.
const (
	// RoleListen accepts the channel connection (the remote-desktop server side).
	RoleListen SessionRole = "listen"
	// RoleConnect dials the channel connection (the client side).
	RoleConnect SessionRole = "connect"
)

// Valid reports whether the role is known.
func (r SessionRole) Valid() bool {
	return r == RoleListen || r == RoleConnect
}

// SessionMeta identifies one clipboard channel session.
// Every log entry of a session carries these fields.
type SessionMeta struct {
	// SessionID is a unique id for the session.
	SessionID string
	// Role is the side this process plays.
	Role SessionRole
	// Peer is the remote address, when known.
	Peer *string
}
