package core

// Frame is one encoded outbound event.
type Frame []byte

// SessionID identifies one live connection, not a user: a user with two tabs has two sessions.
type SessionID string

// RoomID is the discussion id a room is keyed by.
type RoomID string

// SignalConnection abstracts the realtime transport endpoint.
// Owned by the adapter; the adapter must Close() it.
// TrySend must never block.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []SessionID
}

type RoomInfo struct {
	ID          RoomID `json:"id"`
	MemberCount int    `json:"memberCount"`
}
